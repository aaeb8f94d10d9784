// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsm_test

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/nsmtest"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

func newSimulator(t *testing.T) *nsmtest.Simulator {
	t.Helper()
	sim, err := nsmtest.NewSimulator(nil)
	if err != nil {
		t.Fatal(err)
	}
	return sim
}

func send(t *testing.T, dev nsm.Device, opts *nsm.Options, req protocol.Request) (*protocol.Response, error) {
	t.Helper()
	s := nsm.New(dev, opts)
	defer func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	}()
	return s.Send(req)
}

func encode(t *testing.T, resp *protocol.Response) []byte {
	t.Helper()
	b, err := resp.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRequestSplits(t *testing.T) {
	sim := newSimulator(t)

	for _, req := range []protocol.Request{
		protocol.DescribeNSM{},
		protocol.DescribePCR{Index: 4},
		protocol.ExtendPCR{Index: 16, Data: bytes.Repeat([]byte{0xa5}, protocol.MaxExtendDataSize)},
		protocol.Attestation{UserData: []byte("user data"), Nonce: bytes.Repeat([]byte{0x01}, 64)},
	} {
		t.Run(req.Name(), func(t *testing.T) {
			out, err := req.MarshalCBOR()
			if err != nil {
				t.Fatal(err)
			}
			for split := 1; split < len(out); split++ {
				dev := &nsmtest.ChunkedDevice{Device: sim.Open(), SendLimits: []int{split}}
				resp, err := send(t, dev, nil, req)
				if err != nil {
					t.Fatalf("split at %d: %v", split, err)
				}
				if resp.Variant() != req.Name() {
					t.Fatalf("split at %d: expected %s response, got %q", split, req.Name(), resp.Variant())
				}
				if dev.Calls() != 2 {
					t.Fatalf("split at %d: expected 2 calls, got %d", split, dev.Calls())
				}
			}
		})
	}
}

func TestResponseSplits(t *testing.T) {
	sim := newSimulator(t)

	for _, req := range []protocol.Request{
		protocol.DescribeNSM{},
		protocol.DescribePCR{Index: 0},
		protocol.LockPCRs{Range: 4},
	} {
		t.Run(req.Name(), func(t *testing.T) {
			baseline, err := send(t, sim.Open(), nil, req)
			if err != nil {
				t.Fatal(err)
			}
			want := encode(t, baseline)

			for split := 1; split < len(want); split++ {
				dev := &nsmtest.ChunkedDevice{Device: sim.Open(), RecvLimits: []int{split}}
				resp, err := send(t, dev, nil, req)
				if err != nil {
					t.Fatalf("split at %d: %v", split, err)
				}
				if got := encode(t, resp); !bytes.Equal(got, want) {
					t.Fatalf("split at %d: expected % x, got % x", split, want, got)
				}
			}
		})
	}
}

func TestByteAtATime(t *testing.T) {
	sim := newSimulator(t)
	req := protocol.DescribeNSM{}
	out, err := req.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	want := sim.Process(out)

	send1, recv1 := make([]int, len(out)), make([]int, len(out)+len(want))
	for i := range send1 {
		send1[i] = 1
	}
	for i := range recv1 {
		recv1[i] = 1
		if i < len(out)-1 {
			// No response exists until the request is complete
			recv1[i] = 0
		}
	}
	dev := &nsmtest.ChunkedDevice{Device: sim.Open(), SendLimits: send1, RecvLimits: recv1}
	resp, err := send(t, dev, &nsm.Options{MaxIterations: 2 * len(recv1)}, req)
	if err != nil {
		t.Fatal(err)
	}
	if got := encode(t, resp); !bytes.Equal(got, want) {
		t.Fatalf("expected % x, got % x", want, got)
	}
	if dev.Calls() != len(out)+len(want)-1 {
		t.Errorf("expected %d calls, got %d", len(out)+len(want)-1, dev.Calls())
	}
}

func TestZeroProgressCalls(t *testing.T) {
	sim := newSimulator(t)
	dev := &nsmtest.ChunkedDevice{
		Device:     sim.Open(),
		SendLimits: []int{0, 0, 0},
		RecvLimits: []int{0, 0, 0},
	}
	if _, err := send(t, dev, &nsm.Options{MaxIterations: 4}, protocol.DescribeNSM{}); err != nil {
		t.Fatal(err)
	}
	if dev.Calls() != 4 {
		t.Errorf("expected 4 calls, got %d", dev.Calls())
	}
}

func TestMisbehavingDevice(t *testing.T) {
	for _, test := range []struct {
		attack nsmtest.AttackType
		opts   *nsm.Options
		want   protocol.ErrorCode
		calls  int
	}{
		{attack: nsmtest.AttackStall, opts: &nsm.Options{MaxIterations: 5}, want: protocol.InternalError, calls: 5},
		{attack: nsmtest.AttackStall, want: protocol.InternalError, calls: nsm.DefaultMaxIterations},
		{attack: nsmtest.AttackFlood, opts: &nsm.Options{MaxIterations: 8}, want: protocol.InternalError, calls: 8},
		{attack: nsmtest.AttackFlood, opts: &nsm.Options{ChunkSize: 100, MaxMessageSize: 1000}, want: protocol.InternalError, calls: 11},
		{attack: nsmtest.AttackOSError, want: protocol.InternalError, calls: 2},
		{attack: nsmtest.AttackOverreport, want: protocol.InternalError, calls: 1},
		{attack: nsmtest.AttackGarbage, want: protocol.InvalidResponse, calls: 1},
		{attack: nsmtest.AttackTruncate, want: protocol.InvalidResponse, calls: 1},
		{attack: nsmtest.AttackWrongVariant, want: protocol.InvalidResponse, calls: 1},
		{attack: nsmtest.NoAttack, want: protocol.Success, calls: 1},
	} {
		t.Run(fmt.Sprintf("%s %+v", test.attack, test.opts), func(t *testing.T) {
			sim := newSimulator(t)
			dev := &nsmtest.ChunkedDevice{Device: nsmtest.NewMaliciousDevice(sim.Open(), test.attack)}

			resp, err := send(t, dev, test.opts, protocol.DescribeNSM{})
			if code := nsm.CodeOf(err); code != test.want {
				t.Fatalf("expected %v, got %v (err=%v)", test.want, code, err)
			}
			if err != nil && resp != nil {
				t.Errorf("partial result returned with error: %+v", resp)
			}
			if dev.Calls() != test.calls {
				t.Errorf("expected %d calls, got %d", test.calls, dev.Calls())
			}
		})
	}
}

func TestOSErrorIsInspectable(t *testing.T) {
	sim := newSimulator(t)
	_, err := send(t, nsmtest.NewMaliciousDevice(sim.Open(), nsmtest.AttackOSError), nil, protocol.GetRandom{})
	if !errors.Is(err, protocol.InternalError) {
		t.Errorf("expected %v, got %v", protocol.InternalError, err)
	}
	if !errors.Is(err, syscall.EIO) {
		t.Errorf("expected the OS error to be wrapped, got %v", err)
	}
}

// codeDevice fails every call with an error carrying a code, as the ioctl
// device does for EMSGSIZE.
type codeDevice struct{ code protocol.ErrorCode }

func (d codeDevice) Call([]byte, []byte) (int, int, bool, error) {
	return 0, 0, false, fmt.Errorf("%w: driver rejected message", d.code)
}

func (codeDevice) Close() error { return nil }

func TestDeviceErrorCodePassthrough(t *testing.T) {
	_, err := send(t, codeDevice{code: protocol.InputTooLarge}, nil, protocol.DescribeNSM{})
	if code := nsm.CodeOf(err); code != protocol.InputTooLarge {
		t.Fatalf("expected %v, got %v (err=%v)", protocol.InputTooLarge, code, err)
	}
	if errors.Is(err, protocol.InternalError) {
		t.Errorf("coded device error must not be wrapped as %v: %v", protocol.InternalError, err)
	}
}
