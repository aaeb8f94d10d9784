// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

//go:build linux

package ioctl

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fido-device-onboard/go-nsm/protocol"
)

// message mirrors struct nsm_message.
type message struct {
	request  unix.Iovec
	response unix.Iovec
}

var requestCode = iowr(Magic, 0, unsafe.Sizeof(message{}))

// Device is an open nsm device node.
type Device struct {
	fd   int
	path string
}

// Open opens the device node at path for reading and writing. Failures wrap
// protocol.InternalError.
func Open(path string) (*Device, error) {
	if !IsDevNode(path) {
		slog.Warn("opening NSM device at a non-standard path", "path", path)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", protocol.InternalError, path, err)
	}
	return &Device{fd: fd, path: path}, nil
}

// Call sends the request in a single ioctl. The driver always consumes the
// whole request and never reports pending data.
func (d *Device) Call(req, resp []byte) (consumed, produced int, more bool, err error) {
	if d.fd < 0 {
		return 0, 0, false, fmt.Errorf("ioctl %s: %w", d.path, os.ErrClosed)
	}

	var msg message
	if len(req) > 0 {
		msg.request.Base = &req[0]
		msg.request.SetLen(len(req))
	}
	if len(resp) > 0 {
		msg.response.Base = &resp[0]
		msg.response.SetLen(len(resp))
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), requestCode, uintptr(unsafe.Pointer(&msg)))
	runtime.KeepAlive(req)
	runtime.KeepAlive(resp)

	switch errno {
	case 0:
	case unix.EMSGSIZE:
		return 0, 0, false, fmt.Errorf("%w: ioctl %s: %w", protocol.InputTooLarge, d.path, errno)
	default:
		return 0, 0, false, fmt.Errorf("ioctl %s: %w", d.path, errno)
	}

	n := int(msg.response.Len)
	if n > len(resp) {
		return 0, 0, false, fmt.Errorf("ioctl %s: driver reported %d response bytes for a %d byte buffer", d.path, n, len(resp))
	}
	return len(req), n, false, nil
}

// Close closes the device node.
func (d *Device) Close() error {
	if d.fd < 0 {
		return fmt.Errorf("close %s: %w", d.path, os.ErrClosed)
	}
	fd := d.fd
	d.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}
