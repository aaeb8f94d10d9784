// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsmtest

import "github.com/fido-device-onboard/go-nsm"

// ChunkedDevice limits how many bytes each call to the wrapped device may
// move in either direction. The n-th call (counted over the lifetime of the
// device) is limited by the n-th entry of each schedule. Calls beyond the end
// of a schedule are unlimited. A zero entry makes no progress in that
// direction.
type ChunkedDevice struct {
	nsm.Device

	SendLimits []int
	RecvLimits []int

	calls int
}

// Call implements nsm.Device.
func (d *ChunkedDevice) Call(req, resp []byte) (consumed, produced int, more bool, err error) {
	n := d.calls
	d.calls++
	if n < len(d.SendLimits) {
		req = req[:min(len(req), d.SendLimits[n])]
	}
	if n < len(d.RecvLimits) {
		resp = resp[:min(len(resp), d.RecvLimits[n])]
	}
	return d.Device.Call(req, resp)
}

// Calls returns the number of calls made.
func (d *ChunkedDevice) Calls() int { return d.calls }
