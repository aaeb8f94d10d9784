// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package nsmtest

import (
	"crypto/rand"
	"errors"
	"fmt"
	"syscall"

	"github.com/fido-device-onboard/go-nsm"
	"github.com/fido-device-onboard/go-nsm/protocol"
)

// AttackType defines the type of misbehavior to inject
type AttackType int

const (
	// NoAttack - normal operation
	NoAttack AttackType = iota
	// AttackStall - never consume or produce anything, always report more
	AttackStall
	// AttackFlood - fill every receive buffer and always report more
	AttackFlood
	// AttackOSError - deliver part of the response, then fail with EIO
	AttackOSError
	// AttackOverreport - report more bytes produced than the buffer holds
	AttackOverreport
	// AttackGarbage - replace the response with random bytes
	AttackGarbage
	// AttackTruncate - drop the last byte of the response
	AttackTruncate
	// AttackWrongVariant - answer with a response of another variant
	AttackWrongVariant
)

func (a AttackType) String() string {
	switch a {
	case NoAttack:
		return "none"
	case AttackStall:
		return "stall"
	case AttackFlood:
		return "flood"
	case AttackOSError:
		return "os error"
	case AttackOverreport:
		return "overreport"
	case AttackGarbage:
		return "garbage"
	case AttackTruncate:
		return "truncate"
	case AttackWrongVariant:
		return "wrong variant"
	default:
		return fmt.Sprintf("AttackType(%d)", int(a))
	}
}

// ErrInjected is returned by AttackOSError.
var ErrInjected = syscall.EIO

// MaliciousDevice wraps a device and injects driver misbehavior.
type MaliciousDevice struct {
	nsm.Device

	Attack AttackType

	calls int
	out   []byte
}

// NewMaliciousDevice creates a device that misbehaves according to attack.
func NewMaliciousDevice(base nsm.Device, attack AttackType) *MaliciousDevice {
	return &MaliciousDevice{Device: base, Attack: attack}
}

// Call implements nsm.Device.
func (d *MaliciousDevice) Call(req, resp []byte) (consumed, produced int, more bool, err error) {
	d.calls++

	switch d.Attack {
	case NoAttack:
		return d.Device.Call(req, resp)

	case AttackStall:
		return 0, 0, true, nil

	case AttackFlood:
		for i := range resp {
			resp[i] = 0xff
		}
		return len(req), len(resp), true, nil

	case AttackOSError:
		if d.calls > 1 {
			return 0, 0, false, ErrInjected
		}
		consumed, produced, _, err = d.Device.Call(req, resp[:min(len(resp), 1)])
		return consumed, produced, true, err

	case AttackOverreport:
		consumed, produced, more, err = d.Device.Call(req, resp)
		return consumed, len(resp) + 1, more, err
	}

	if d.out == nil {
		full, err := roundTrip(d.Device, req)
		if err != nil {
			return 0, 0, false, err
		}
		if d.out, err = d.tamper(req, full); err != nil {
			return 0, 0, false, err
		}
		consumed = len(req)
	}
	produced = copy(resp, d.out)
	d.out = d.out[produced:]
	if len(d.out) > 0 {
		return consumed, produced, true, nil
	}
	d.out = nil
	return consumed, produced, false, nil
}

func (d *MaliciousDevice) tamper(req, resp []byte) ([]byte, error) {
	switch d.Attack {
	case AttackGarbage:
		garbage := make([]byte, len(resp))
		if _, err := rand.Read(garbage); err != nil {
			return nil, err
		}
		// Break code, never valid as the first byte of an item
		garbage[0] = 0xff
		return garbage, nil

	case AttackTruncate:
		return resp[:len(resp)-1], nil

	case AttackWrongVariant:
		wrong := &protocol.Response{LockPCRs: &protocol.Ack{}}
		if r, err := protocol.DecodeRequest(req); err == nil && r.Name() == protocol.LockPCRsName {
			wrong = &protocol.Response{GetRandom: &protocol.RandomBytes{Random: []byte{0x01}}}
		}
		return wrong.MarshalCBOR()

	default:
		return nil, fmt.Errorf("unknown attack %d", d.Attack)
	}
}

// roundTrip exchanges a full request and response with dev.
func roundTrip(dev nsm.Device, req []byte) ([]byte, error) {
	buf := make([]byte, protocol.MaxResponseSize)
	var sent int
	var out []byte
	for range nsm.DefaultMaxIterations {
		consumed, produced, more, err := dev.Call(req[sent:], buf)
		if err != nil {
			return nil, err
		}
		sent += consumed
		out = append(out, buf[:produced]...)
		if sent == len(req) && !more {
			return out, nil
		}
	}
	return nil, errors.New("wrapped device did not complete the transaction")
}
