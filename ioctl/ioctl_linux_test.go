// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

//go:build linux

package ioctl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/fido-device-onboard/go-nsm/protocol"
)

func TestMessageABI(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("ABI constants are checked on 64-bit platforms")
	}
	if size := unsafe.Sizeof(message{}); size != 32 {
		t.Errorf("expected nsm_message to be 32 bytes, got %d", size)
	}
	if unsafe.Offsetof(message{}.response) != 16 {
		t.Errorf("expected response iovec at offset 16, got %d", unsafe.Offsetof(message{}.response))
	}
	if requestCode != 0xC0200A00 {
		t.Errorf("expected request code 0xC0200A00, got %#x", requestCode)
	}
}

func TestIOWR(t *testing.T) {
	for _, test := range []struct {
		magic, nr, size uintptr
		expect          uintptr
	}{
		{magic: 0x0A, nr: 0, size: 32, expect: 0xC0200A00},
		{magic: 0x0A, nr: 0, size: 16, expect: 0xC0100A00},
		{magic: 0xA4, nr: 0x02, size: 8, expect: 0xC008A402},
	} {
		if got := iowr(test.magic, test.nr, test.size); got != test.expect {
			t.Errorf("iowr(%#x, %d, %d): expected %#x, got %#x", test.magic, test.nr, test.size, test.expect, got)
		}
	}
}

func TestCallNotADevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsm")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	dev, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	req, resp := []byte{0x01}, make([]byte, protocol.MaxResponseSize)
	_, _, _, err = dev.Call(req, resp)
	if !errors.Is(err, unix.ENOTTY) {
		t.Errorf("expected ENOTTY from a regular file, got %v", err)
	}
	var code protocol.ErrorCode
	if errors.As(err, &code) {
		t.Errorf("expected an unclassified OS error, got code %v", code)
	}

	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if err := dev.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("expected os.ErrClosed on second close, got %v", err)
	}
	if _, _, _, err := dev.Call(req, resp); !errors.Is(err, os.ErrClosed) {
		t.Errorf("expected os.ErrClosed after close, got %v", err)
	}
}
