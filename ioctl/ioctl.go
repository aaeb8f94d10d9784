// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package ioctl implements the NSM device on top of the Linux nsm driver.
//
// Each call passes the driver a message of two iovecs, one holding the
// encoded request and one receiving the response:
//
//	struct nsm_message {
//	    struct iovec request;
//	    struct iovec response;
//	};
//
// using ioctl(fd, _IOWR(0x0A, 0, sizeof(struct nsm_message)), &msg). The
// driver consumes the whole request and sets the response length.
package ioctl

import (
	"errors"
	"path/filepath"
	"strings"
)

// DefaultPath is the device node created by the nsm driver.
const DefaultPath = "/dev/nsm"

// Magic is the ioctl type number of the nsm driver.
const Magic = 0x0A

// ErrUnsupported is returned when opening the device on a platform other than
// Linux.
var ErrUnsupported = errors.New("nsm device requires linux")

// Linux asm-generic ioctl number layout
const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	iocSizeMask = 1<<14 - 1

	iocWrite = 1
	iocRead  = 2
)

// iowr builds a read/write ioctl request number, like the _IOWR macro.
func iowr(magic, nr, size uintptr) uintptr {
	return (iocRead|iocWrite)<<iocDirShift |
		(size&iocSizeMask)<<iocSizeShift |
		magic<<iocTypeShift |
		nr<<iocNRShift
}

// IsDevNode reports whether path names an NSM device node: /dev/nsm,
// optionally suffixed with a number.
func IsDevNode(path string) bool {
	const prefix = "/dev/nsm"
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	for _, c := range path[len(prefix):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
