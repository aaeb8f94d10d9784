// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsmtest

import (
	"errors"
	"io"
	"os"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Device is an open handle to a Simulator. Unlike the kernel driver, it
// accepts a request in any number of pieces and delivers the response in
// pieces no larger than the receive buffer. Request boundaries are found by
// decoding, since every request is a single CBOR item.
type Device struct {
	sim *Simulator

	in     []byte
	out    []byte
	closed bool
}

var _ nsm.Device = (*Device)(nil)

// Open returns a new device handle.
func (s *Simulator) Open() *Device { return &Device{sim: s} }

// Call implements nsm.Device.
func (d *Device) Call(req, resp []byte) (consumed, produced int, more bool, err error) {
	if d.closed {
		return 0, 0, false, os.ErrClosed
	}

	if len(d.out) == 0 {
		d.in = append(d.in, req...)
		consumed = len(req)
		if !d.complete() {
			return consumed, 0, true, nil
		}
		d.out = d.sim.Process(d.in)
		d.in = nil
	}

	produced = copy(resp, d.out)
	d.out = d.out[produced:]
	return consumed, produced, len(d.out) > 0, nil
}

func (d *Device) complete() bool {
	if len(d.in) > protocol.MaxRequestSize {
		return true
	}
	_, err := protocol.DecodeRequest(d.in)
	return !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF)
}

// Close implements nsm.Device.
func (d *Device) Close() error {
	if d.closed {
		return os.ErrClosed
	}
	d.closed = true
	return nil
}
