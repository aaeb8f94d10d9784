// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"fmt"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

// Size limits
const (
	// MaxRequestSize is the largest encoded request the NSM driver accepts.
	MaxRequestSize = 0x1000

	// MaxResponseSize is the size of a single driver response buffer.
	MaxResponseSize = 0x3000

	// MaxExtendDataSize is the largest data buffer this client sends with
	// ExtendPCR. It is a client side limit matching the NSM's own bound on
	// extend data; the driver only limits the encoded request to
	// MaxRequestSize.
	MaxExtendDataSize = 1024

	// MaxAttestationFieldSize is the largest user data, nonce, or public key
	// accepted by Attestation.
	MaxAttestationFieldSize = 1024
)

// Request is one of the closed set of NSM requests.
type Request interface {
	cbor.Marshaler

	// Name is the variant name used on the wire.
	Name() string

	isRequest()
}

// Request variant names
const (
	DescribeNSMName = "DescribeNSM"
	DescribePCRName = "DescribePCR"
	ExtendPCRName   = "ExtendPCR"
	LockPCRName     = "LockPCR"
	LockPCRsName    = "LockPCRs"
	AttestationName = "Attestation"
	GetRandomName   = "GetRandom"
)

// DescribeNSM requests the module version, identity, and PCR configuration.
type DescribeNSM struct{}

// DescribePCR requests the lock state and value of one PCR.
type DescribePCR struct {
	Index uint16
}

// ExtendPCR extends a PCR with data: value = H(value || data).
type ExtendPCR struct {
	Index uint16
	Data  []byte
}

// LockPCR locks a single PCR against further extension.
type LockPCR struct {
	Index uint16
}

// LockPCRs locks every PCR in [0, Range).
type LockPCRs struct {
	Range uint16
}

// Attestation requests a signed attestation document. A nil field is absent
// from the document.
type Attestation struct {
	UserData  []byte
	Nonce     []byte
	PublicKey []byte
}

// GetRandom requests entropy from the NSM.
type GetRandom struct{}

func (DescribeNSM) isRequest() {}
func (DescribePCR) isRequest() {}
func (ExtendPCR) isRequest()   {}
func (LockPCR) isRequest()     {}
func (LockPCRs) isRequest()    {}
func (Attestation) isRequest() {}
func (GetRandom) isRequest()   {}

// Name implements Request.
func (DescribeNSM) Name() string { return DescribeNSMName }

// Name implements Request.
func (DescribePCR) Name() string { return DescribePCRName }

// Name implements Request.
func (ExtendPCR) Name() string { return ExtendPCRName }

// Name implements Request.
func (LockPCR) Name() string { return LockPCRName }

// Name implements Request.
func (LockPCRs) Name() string { return LockPCRsName }

// Name implements Request.
func (Attestation) Name() string { return AttestationName }

// Name implements Request.
func (GetRandom) Name() string { return GetRandomName }

// MarshalCBOR implements cbor.Marshaler.
func (DescribeNSM) MarshalCBOR() ([]byte, error) { return marshal(DescribeNSMName) }

// MarshalCBOR implements cbor.Marshaler.
func (r DescribePCR) MarshalCBOR() ([]byte, error) {
	return marshal(map[string]any{DescribePCRName: map[string]any{
		"index": r.Index,
	}})
}

// MarshalCBOR implements cbor.Marshaler.
func (r ExtendPCR) MarshalCBOR() ([]byte, error) {
	data := r.Data
	if data == nil {
		data = []byte{}
	}
	return marshal(map[string]any{ExtendPCRName: map[string]any{
		"index": r.Index,
		"data":  data,
	}})
}

// MarshalCBOR implements cbor.Marshaler.
func (r LockPCR) MarshalCBOR() ([]byte, error) {
	return marshal(map[string]any{LockPCRName: map[string]any{
		"index": r.Index,
	}})
}

// MarshalCBOR implements cbor.Marshaler.
func (r LockPCRs) MarshalCBOR() ([]byte, error) {
	return marshal(map[string]any{LockPCRsName: map[string]any{
		"range": r.Range,
	}})
}

// MarshalCBOR implements cbor.Marshaler.
func (r Attestation) MarshalCBOR() ([]byte, error) {
	return marshal(map[string]any{AttestationName: map[string]any{
		"user_data":  optional(r.UserData),
		"nonce":      optional(r.Nonce),
		"public_key": optional(r.PublicKey),
	}})
}

// MarshalCBOR implements cbor.Marshaler.
func (GetRandom) MarshalCBOR() ([]byte, error) { return marshal(GetRandomName) }

// DecodeRequest parses an encoded request. It is the inverse of
// Request.MarshalCBOR and is used by NSM implementations such as the test
// simulator. Failures wrap InvalidArgument.
func DecodeRequest(data []byte) (Request, error) {
	req, err := decodeRequest(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding request: %w", InvalidArgument, err)
	}
	return req, nil
}

func decodeRequest(data []byte) (Request, error) {
	if len(data) > MaxRequestSize {
		return nil, fmt.Errorf("request of %d bytes exceeds max %d", len(data), MaxRequestSize)
	}
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	name, body, unit, err := variant(v)
	if err != nil {
		return nil, err
	}

	if unit {
		switch name {
		case DescribeNSMName:
			return DescribeNSM{}, nil
		case GetRandomName:
			return GetRandom{}, nil
		}
		return nil, fmt.Errorf("unknown unit request %q", name)
	}

	f, err := asFields(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	switch name {
	case DescribePCRName:
		index, err := f.uint16("index")
		return DescribePCR{Index: index}, err
	case ExtendPCRName:
		index, err := f.uint16("index")
		if err != nil {
			return nil, err
		}
		data, err := f.bytes("data")
		return ExtendPCR{Index: index, Data: data}, err
	case LockPCRName:
		index, err := f.uint16("index")
		return LockPCR{Index: index}, err
	case LockPCRsName:
		upTo, err := f.uint16("range")
		return LockPCRs{Range: upTo}, err
	case AttestationName:
		var req Attestation
		if req.UserData, err = f.optBytes("user_data"); err != nil {
			return nil, err
		}
		if req.Nonce, err = f.optBytes("nonce"); err != nil {
			return nil, err
		}
		if req.PublicKey, err = f.optBytes("public_key"); err != nil {
			return nil, err
		}
		return req, nil
	}
	return nil, fmt.Errorf("unknown request %q", name)
}
