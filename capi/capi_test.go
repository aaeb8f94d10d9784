// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package capi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/capi"
	"github.com/fido-device-onboard/go-nsm/nsmtest"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

func newLibrary(t *testing.T) (*capi.Library, *nsmtest.Simulator) {
	t.Helper()
	nsmtest.SetDebugLog(t)
	sim, err := nsmtest.NewSimulator(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &capi.Library{
		Open: func() (*nsm.Session, error) { return nsm.New(sim.Open(), nil), nil },
	}, sim
}

func TestInitExit(t *testing.T) {
	lib, _ := newLibrary(t)

	a, b := lib.Init(), lib.Init()
	if a < 0 || b < 0 || a == b {
		t.Fatalf("expected distinct descriptors, got %d and %d", a, b)
	}
	lib.Exit(a)
	if code := lib.LockPCR(a, 20); code != protocol.InternalError {
		t.Errorf("closed descriptor: expected %v, got %v", protocol.InternalError, code)
	}
	if code := lib.LockPCR(b, 20); code != protocol.Success {
		t.Errorf("open descriptor: expected %v, got %v", protocol.Success, code)
	}
	lib.Exit(b)
	lib.Exit(b)

	failing := &capi.Library{Open: func() (*nsm.Session, error) { return nil, errors.New("no device") }}
	if fd := failing.Init(); fd != -1 {
		t.Errorf("expected -1 on open failure, got %d", fd)
	}
}

func TestGetDescription(t *testing.T) {
	lib, _ := newLibrary(t)
	fd := lib.Init()
	defer lib.Exit(fd)

	if code := lib.GetDescription(fd, nil); code != protocol.InvalidArgument {
		t.Errorf("nil out: expected %v, got %v", protocol.InvalidArgument, code)
	}

	var desc capi.Description
	if code := lib.GetDescription(fd, &desc); code != protocol.Success {
		t.Fatal(code)
	}
	if desc.MaxPCRs != 32 || desc.Digest != protocol.SHA384 || desc.VersionMajor != 1 {
		t.Errorf("unexpected description %+v", desc)
	}
	if got := string(desc.ModuleID[:desc.ModuleIDLen]); got != nsmtest.DefaultModuleID {
		t.Errorf("module id: expected %q, got %q", nsmtest.DefaultModuleID, got)
	}
	if desc.LockedPCRsLen != 16 {
		t.Fatalf("expected 16 locked PCRs, got %d", desc.LockedPCRsLen)
	}
	for i, index := range desc.LockedPCRs[:desc.LockedPCRsLen] {
		if index != uint16(i) {
			t.Errorf("locked PCR %d is %d", i, index)
		}
	}
}

func TestGetDescriptionTruncated(t *testing.T) {
	sim, err := nsmtest.NewSimulator(&nsmtest.Config{
		Digest:     protocol.SHA256,
		MaxPCRs:    100,
		LockedPCRs: 80,
		ModuleID:   string(bytes.Repeat([]byte{'m'}, 150)),
	})
	if err != nil {
		t.Fatal(err)
	}
	lib := &capi.Library{Open: func() (*nsm.Session, error) { return nsm.New(sim.Open(), nil), nil }}
	fd := lib.Init()
	defer lib.Exit(fd)

	var desc capi.Description
	if code := lib.GetDescription(fd, &desc); code != protocol.Success {
		t.Fatal(code)
	}
	if desc.ModuleIDLen != capi.ModuleIDSize || desc.LockedPCRsLen != capi.LockedPCRsSize {
		t.Errorf("expected truncation to (%d, %d), got (%d, %d)",
			capi.ModuleIDSize, capi.LockedPCRsSize, desc.ModuleIDLen, desc.LockedPCRsLen)
	}
}

func TestPCRBuffers(t *testing.T) {
	lib, sim := newLibrary(t)
	fd := lib.Init()
	defer lib.Exit(fd)

	var lock bool
	buf := make([]byte, 64)
	n, code := lib.DescribePCR(fd, 0, &lock, buf)
	if code != protocol.Success || n != 48 || !lock {
		t.Fatalf("describe PCR 0: n=%d code=%v lock=%t", n, code, lock)
	}
	if _, code := lib.DescribePCR(fd, 0, nil, buf); code != protocol.InvalidArgument {
		t.Errorf("nil lock: expected %v, got %v", protocol.InvalidArgument, code)
	}

	short := make([]byte, 10)
	n, code = lib.DescribePCR(fd, 0, &lock, short)
	if code != protocol.BufferTooSmall || n != 10 || !bytes.Equal(short, buf[:10]) {
		t.Errorf("short buffer: n=%d code=%v data=%x", n, code, short)
	}
	if n, code := lib.DescribePCR(fd, 0, &lock, nil); code != protocol.BufferTooSmall || n != 0 {
		t.Errorf("nil buffer: n=%d code=%v", n, code)
	}

	before := sim.Requests()
	n, code = lib.ExtendPCR(fd, 16, []byte{1, 2, 3}, short)
	if code != protocol.BufferTooSmall || n != 10 {
		t.Errorf("extend into short buffer: n=%d code=%v", n, code)
	}
	if sim.Requests() != before+1 {
		t.Error("extend with a short output buffer must still be applied")
	}
	if n, code = lib.ExtendPCR(fd, 16, nil, buf); code != protocol.Success || n != 48 {
		t.Errorf("extend: n=%d code=%v", n, code)
	}
	if _, code = lib.ExtendPCR(fd, 16, make([]byte, 1025), buf); code != protocol.InputTooLarge {
		t.Errorf("extend too large: expected %v, got %v", protocol.InputTooLarge, code)
	}

	if code := lib.LockPCR(fd, 16); code != protocol.Success {
		t.Fatal(code)
	}
	if _, code = lib.ExtendPCR(fd, 16, nil, buf); code != protocol.ReadOnlyIndex {
		t.Errorf("extend locked: expected %v, got %v", protocol.ReadOnlyIndex, code)
	}
	if code := lib.LockPCR(fd, 2); code != protocol.InvalidOperation {
		t.Errorf("lock firmware locked: expected %v, got %v", protocol.InvalidOperation, code)
	}
	if code := lib.LockPCRs(fd, 33); code != protocol.InvalidArgument {
		t.Errorf("lock range too large: expected %v, got %v", protocol.InvalidArgument, code)
	}
	if code := lib.LockPCRs(fd, 32); code != protocol.Success {
		t.Errorf("lock range: expected %v, got %v", protocol.Success, code)
	}
}

func TestGetAttestationDoc(t *testing.T) {
	lib, _ := newLibrary(t)
	fd := lib.Init()
	defer lib.Exit(fd)

	buf := make([]byte, 16384)
	n, code := lib.GetAttestationDoc(fd, []byte("nonce"), nil, []byte{}, buf)
	if code != protocol.Success || n == 0 {
		t.Fatalf("n=%d code=%v", n, code)
	}

	n, code = lib.GetAttestationDoc(fd, nil, nil, nil, buf[:100])
	if code != protocol.BufferTooSmall || n != 100 {
		t.Errorf("short buffer: n=%d code=%v", n, code)
	}

	if _, code := lib.GetAttestationDoc(fd, make([]byte, 1025), nil, nil, buf); code != protocol.InputTooLarge {
		t.Errorf("large nonce: expected %v, got %v", protocol.InputTooLarge, code)
	}
}

func TestGetRandom(t *testing.T) {
	lib, _ := newLibrary(t)
	fd := lib.Init()
	defer lib.Exit(fd)

	short := make([]byte, 16)
	if n, code := lib.GetRandom(fd, short); code != protocol.Success || n != 16 {
		t.Errorf("short buffer: n=%d code=%v", n, code)
	}
	long := make([]byte, 1024)
	if n, code := lib.GetRandom(fd, long); code != protocol.Success || n != nsmtest.DefaultRandomSize {
		t.Errorf("long buffer: n=%d code=%v", n, code)
	}
	if _, code := lib.GetRandom(fd, nil); code != protocol.InvalidArgument {
		t.Errorf("nil buffer: expected %v, got %v", protocol.InvalidArgument, code)
	}
}
