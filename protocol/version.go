// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import "fmt"

// Version is the NSM firmware version reported by DescribeNSM.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// String returns the version as a string (e.g., "1.0.0").
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v precedes other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	return v.Patch < other.Patch
}

// Version returns the module version of a description.
func (d *NSMDescription) Version() Version {
	return Version{Major: d.VersionMajor, Minor: d.VersionMinor, Patch: d.VersionPatch}
}

// IsLocked reports whether the description lists index as locked.
func (d *NSMDescription) IsLocked(index uint16) bool {
	for _, locked := range d.LockedPCRs {
		if locked == index {
			return true
		}
		if locked > index {
			break
		}
	}
	return false
}
