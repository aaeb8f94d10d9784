// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fido-device-onboard/go-nsm/ioctl"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// ErrClosed is wrapped by the InternalError returned from any operation on a
// closed Session.
var ErrClosed = errors.New("nsm: session closed")

// Session is bound to one open NSM device. It is safe to call from multiple
// goroutines, but requests are serialized: at most one transaction is in
// flight at a time.
type Session struct {
	mu   sync.Mutex
	dev  Device
	opts Options
}

// New creates a Session over an already opened device. The Session takes
// ownership of dev and closes it in Close. A nil opts selects defaults.
func New(dev Device, opts *Options) *Session {
	return &Session{dev: dev, opts: opts.withDefaults()}
}

// Open opens the NSM device node at path.
func Open(path string, opts *Options) (*Session, error) {
	dev, err := ioctl.Open(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("nsm device opened", "path", path)
	return New(dev, opts), nil
}

// OpenDefault opens /dev/nsm with default options.
func OpenDefault() (*Session, error) { return Open(ioctl.DefaultPath, nil) }

// Close releases the device. Closing an already closed Session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dev == nil {
		return nil
	}
	dev := s.dev
	s.dev = nil
	if err := dev.Close(); err != nil {
		slog.Warn("nsm device failed to close", "error", err)
		return fmt.Errorf("%w: closing device: %w", protocol.InternalError, err)
	}
	return nil
}

// Send performs one request/response round trip. If the NSM replies with an
// error, the error code is returned as the error and the response is nil. A
// reply of a different variant than the request is InvalidResponse.
func (s *Session) Send(req protocol.Request) (*protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req == nil {
		return nil, fmt.Errorf("%w: nil request", protocol.InvalidArgument)
	}
	if s.dev == nil {
		return nil, fmt.Errorf("%w: %s: %w", protocol.InternalError, req.Name(), ErrClosed)
	}

	out, err := req.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s request: %w", protocol.InternalError, req.Name(), err)
	}
	if len(out) > protocol.MaxRequestSize {
		return nil, fmt.Errorf("%w: encoded %s request is %d bytes, max %d",
			protocol.InputTooLarge, req.Name(), len(out), protocol.MaxRequestSize)
	}
	if debugEnabled() {
		slog.Debug("nsm request", "type", req.Name(), "msg", debugMsg(out))
	}

	in, err := transact(s.dev, out, s.opts)
	if err != nil {
		slog.Debug("nsm transaction failed", "type", req.Name(), "error", err)
		return nil, fmt.Errorf("%s: %w", req.Name(), err)
	}
	if debugEnabled() {
		slog.Debug("nsm response", "type", req.Name(), "msg", debugMsg(in))
	}

	resp, err := protocol.DecodeResponse(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Name(), err)
	}
	if !resp.Answers(req) {
		return nil, fmt.Errorf("%w: %s request answered with %s", protocol.InvalidResponse, req.Name(), resp.Variant())
	}
	if resp.Error != protocol.Success {
		return nil, fmt.Errorf("%s: %w", req.Name(), resp.Error)
	}
	return resp, nil
}

// CodeOf projects an error into the NSM error taxonomy: Success for nil, the
// carried code when there is one, and InternalError otherwise.
func CodeOf(err error) protocol.ErrorCode {
	if err == nil {
		return protocol.Success
	}
	var code protocol.ErrorCode
	if errors.As(err, &code) && code != protocol.Success {
		return code
	}
	return protocol.InternalError
}
