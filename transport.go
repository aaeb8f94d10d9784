// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsm

import (
	"errors"
	"fmt"

	"github.com/fido-device-onboard/go-nsm/protocol"
)

// Device abstracts the driver interface used to exchange one message with
// the NSM.
type Device interface {
	// Call performs one underlying driver call with the unsent remainder of
	// the request and a receive buffer. It reports how many request bytes
	// were consumed, how many response bytes were written to resp, and
	// whether more response data is pending.
	//
	// Errors that already carry a protocol.ErrorCode are returned to the
	// caller unchanged. Any other error is an InternalError.
	Call(req, resp []byte) (consumed, produced int, more bool, err error)

	// Close releases the device. It is called exactly once by the owning
	// Session.
	Close() error
}

// Transport defaults
const (
	DefaultChunkSize      = protocol.MaxResponseSize
	DefaultMaxIterations  = 64
	DefaultMaxMessageSize = 1 << 20
)

// Options configures the transaction loop of a Session. Zero values select
// defaults.
type Options struct {
	// ChunkSize is the size of the receive buffer passed to each device
	// call. Defaults to protocol.MaxResponseSize.
	ChunkSize int

	// MaxIterations bounds the number of device calls made for a single
	// transaction. Calls which make no progress count against the bound.
	// Defaults to 64.
	MaxIterations int

	// MaxMessageSize bounds the size of an accumulated response. Defaults
	// to 1 MiB.
	MaxMessageSize int
}

func (o *Options) withDefaults() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return opts
}

// transact sends out and returns the complete response. Partial data is
// never returned.
func transact(dev Device, out []byte, opts Options) ([]byte, error) {
	var (
		sent int
		in   []byte
		buf  = make([]byte, opts.ChunkSize)
	)
	for range opts.MaxIterations {
		consumed, produced, more, err := dev.Call(out[sent:], buf)
		if err != nil {
			return nil, deviceError(err)
		}
		if consumed < 0 || consumed > len(out)-sent || produced < 0 || produced > len(buf) {
			return nil, fmt.Errorf("%w: device reported invalid progress (consumed=%d, produced=%d)",
				protocol.InternalError, consumed, produced)
		}
		sent += consumed
		if len(in)+produced > opts.MaxMessageSize {
			return nil, fmt.Errorf("%w: response exceeds max size %d", protocol.InternalError, opts.MaxMessageSize)
		}
		in = append(in, buf[:produced]...)

		if sent == len(out) && !more {
			return in, nil
		}
	}
	return nil, fmt.Errorf("%w: transaction incomplete after %d device calls (sent %d/%d bytes)",
		protocol.InternalError, opts.MaxIterations, sent, len(out))
}

func deviceError(err error) error {
	var code protocol.ErrorCode
	if errors.As(err, &code) {
		return err
	}
	return fmt.Errorf("%w: %w", protocol.InternalError, err)
}
