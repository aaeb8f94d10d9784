// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

//go:build !linux

package ioctl

import (
	"fmt"

	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Device is an open nsm device node. It cannot be opened on this platform.
type Device struct{}

// Open always fails on platforms other than Linux.
func Open(path string) (*Device, error) {
	return nil, fmt.Errorf("%w: opening %s: %w", protocol.InternalError, path, ErrUnsupported)
}

// Call always fails on platforms other than Linux.
func (*Device) Call(req, resp []byte) (consumed, produced int, more bool, err error) {
	return 0, 0, false, ErrUnsupported
}

// Close always fails on platforms other than Linux.
func (*Device) Close() error { return ErrUnsupported }
