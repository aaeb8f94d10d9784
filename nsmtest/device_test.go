// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsmtest_test

import (
	"errors"
	"os"
	"testing"

	"github.com/fido-device-onboard/go-nsm/nsmtest"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

func TestDevicePieces(t *testing.T) {
	sim, err := nsmtest.NewSimulator(nil)
	if err != nil {
		t.Fatal(err)
	}
	dev := sim.Open()

	req, err := protocol.ExtendPCR{Index: 16, Data: []byte("abc")}.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)

	// First half of the request
	consumed, produced, more, err := dev.Call(req[:len(req)/2], buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(req)/2 || produced != 0 || !more {
		t.Fatalf("partial request: consumed=%d produced=%d more=%t", consumed, produced, more)
	}
	if sim.Requests() != 0 {
		t.Fatal("partial request was handled")
	}

	// Rest of the request, response delivered in 4 byte pieces
	var resp []byte
	consumed, produced, more, err = dev.Call(req[len(req)/2:], buf)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(req)-len(req)/2 {
		t.Fatalf("expected remainder to be consumed, got %d", consumed)
	}
	resp = append(resp, buf[:produced]...)
	for more {
		if consumed, produced, more, err = dev.Call(nil, buf); err != nil {
			t.Fatal(err)
		}
		if consumed != 0 {
			t.Fatalf("consumed %d bytes of an empty request", consumed)
		}
		resp = append(resp, buf[:produced]...)
	}

	decoded, err := protocol.DecodeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.ExtendPCR == nil || len(decoded.ExtendPCR.Data) != protocol.SHA384.Size() {
		t.Fatalf("unexpected response %+v", decoded)
	}

	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := dev.Call(req, buf); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected call after close to fail, got %v", err)
	}
	if err := dev.Close(); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("expected second close to fail, got %v", err)
	}
}

func TestChunkedDevice(t *testing.T) {
	sim, err := nsmtest.NewSimulator(nil)
	if err != nil {
		t.Fatal(err)
	}
	dev := &nsmtest.ChunkedDevice{
		Device:     sim.Open(),
		SendLimits: []int{0, 1},
		RecvLimits: []int{0, 0, 2},
	}
	req, err := protocol.DescribeNSM{}.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 256)

	var sent int
	var resp []byte
	for i, want := range []struct {
		consumed, produced int
		more               bool
	}{
		{0, 0, true},
		{1, 0, true},
		{len(req) - 1, 2, true},
		{0, -1, false},
	} {
		consumed, produced, more, err := dev.Call(req[sent:], buf)
		if err != nil {
			t.Fatal(err)
		}
		if consumed != want.consumed || (want.produced >= 0 && produced != want.produced) || more != want.more {
			t.Errorf("call %d: expected (%d, %d, %t), got (%d, %d, %t)",
				i, want.consumed, want.produced, want.more, consumed, produced, more)
		}
		sent += consumed
		resp = append(resp, buf[:produced]...)
	}
	if dev.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", dev.Calls())
	}

	decoded, err := protocol.DecodeResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.DescribeNSM == nil {
		t.Fatalf("unexpected response %+v", decoded)
	}
}
