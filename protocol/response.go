// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

// errorName is the variant name of an error response.
const errorName = "Error"

// NSMDescription is the result of DescribeNSM.
type NSMDescription struct {
	VersionMajor uint16
	VersionMinor uint16
	VersionPatch uint16
	ModuleID     string
	MaxPCRs      uint16
	LockedPCRs   []uint16 // ascending, unique, empty rather than nil when decoded
	Digest       Digest
}

// PCRDescription is the result of DescribePCR.
type PCRDescription struct {
	Lock bool
	Data []byte
}

// ExtendedPCR is the result of ExtendPCR and holds the new PCR value.
type ExtendedPCR struct {
	Data []byte
}

// Ack is the result of requests which return no data.
type Ack struct{}

// AttestationResult is the result of Attestation. The document is a
// COSE_Sign1 structure and is not interpreted by the client.
type AttestationResult struct {
	Document []byte
}

// RandomBytes is the result of GetRandom.
type RandomBytes struct {
	Random []byte
}

// Response is one of the closed set of NSM responses. Exactly one variant
// pointer is set, or Error is non-zero.
type Response struct {
	DescribeNSM *NSMDescription
	DescribePCR *PCRDescription
	ExtendPCR   *ExtendedPCR
	LockPCR     *Ack
	LockPCRs    *Ack
	Attestation *AttestationResult
	GetRandom   *RandomBytes

	Error ErrorCode
}

// Variant returns the wire name of the response variant, or an empty string
// if the response does not have exactly one variant set.
func (r *Response) Variant() string {
	var names []string
	if r.DescribeNSM != nil {
		names = append(names, DescribeNSMName)
	}
	if r.DescribePCR != nil {
		names = append(names, DescribePCRName)
	}
	if r.ExtendPCR != nil {
		names = append(names, ExtendPCRName)
	}
	if r.LockPCR != nil {
		names = append(names, LockPCRName)
	}
	if r.LockPCRs != nil {
		names = append(names, LockPCRsName)
	}
	if r.Attestation != nil {
		names = append(names, AttestationName)
	}
	if r.GetRandom != nil {
		names = append(names, GetRandomName)
	}
	if r.Error != Success {
		names = append(names, errorName)
	}
	if len(names) != 1 {
		return ""
	}
	return names[0]
}

// Answers reports whether the response is a valid reply to req: either an
// error or the variant of the same name.
func (r *Response) Answers(req Request) bool {
	switch r.Variant() {
	case errorName:
		return true
	case "":
		return false
	default:
		return r.Variant() == req.Name()
	}
}

// MarshalCBOR implements cbor.Marshaler.
func (r *Response) MarshalCBOR() ([]byte, error) {
	switch r.Variant() {
	case DescribeNSMName:
		d := r.DescribeNSM
		locked := d.LockedPCRs
		if locked == nil {
			locked = []uint16{}
		}
		return marshal(map[string]any{DescribeNSMName: map[string]any{
			"version_major": d.VersionMajor,
			"version_minor": d.VersionMinor,
			"version_patch": d.VersionPatch,
			"module_id":     d.ModuleID,
			"max_pcrs":      d.MaxPCRs,
			"locked_pcrs":   locked,
			"digest":        d.Digest,
		}})
	case DescribePCRName:
		return marshal(map[string]any{DescribePCRName: map[string]any{
			"lock": r.DescribePCR.Lock,
			"data": nonNil(r.DescribePCR.Data),
		}})
	case ExtendPCRName:
		return marshal(map[string]any{ExtendPCRName: map[string]any{
			"data": nonNil(r.ExtendPCR.Data),
		}})
	case LockPCRName:
		return marshal(LockPCRName)
	case LockPCRsName:
		return marshal(LockPCRsName)
	case AttestationName:
		return marshal(map[string]any{AttestationName: map[string]any{
			"document": nonNil(r.Attestation.Document),
		}})
	case GetRandomName:
		return marshal(map[string]any{GetRandomName: map[string]any{
			"random": nonNil(r.GetRandom.Random),
		}})
	case errorName:
		if !r.Error.Valid() {
			return nil, fmt.Errorf("invalid error code %d", uint32(r.Error))
		}
		return marshal(map[string]any{errorName: r.Error.String()})
	default:
		return nil, errors.New("response must have exactly one variant set")
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// DecodeResponse parses an encoded response. Any malformed, truncated, or
// unknown input fails with an error wrapping InvalidResponse.
func DecodeResponse(data []byte) (*Response, error) {
	resp, err := decodeResponse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", InvalidResponse, err)
	}
	return resp, nil
}

//nolint:gocyclo // Dispatch will always have naturally high complexity.
func decodeResponse(data []byte) (*Response, error) {
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
		case LockPCRName:
			return &Response{LockPCR: &Ack{}}, nil
		case LockPCRsName:
			return &Response{LockPCRs: &Ack{}}, nil
		}
		return nil, fmt.Errorf("unknown unit response %q", name)
	}

	if name == errorName {
		code, err := decodeErrorCode(body)
		if err != nil {
			return nil, err
		}
		return &Response{Error: code}, nil
	}

	f, err := asFields(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	switch name {
	case DescribeNSMName:
		d, err := decodeDescription(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &Response{DescribeNSM: d}, nil

	case DescribePCRName:
		lock, err := f.bool("lock")
		if err != nil {
			return nil, err
		}
		pcr, err := f.bytes("data")
		if err != nil {
			return nil, err
		}
		return &Response{DescribePCR: &PCRDescription{Lock: lock, Data: pcr}}, nil

	case ExtendPCRName:
		pcr, err := f.bytes("data")
		if err != nil {
			return nil, err
		}
		return &Response{ExtendPCR: &ExtendedPCR{Data: pcr}}, nil

	case AttestationName:
		doc, err := f.bytes("document")
		if err != nil {
			return nil, err
		}
		return &Response{Attestation: &AttestationResult{Document: doc}}, nil

	case GetRandomName:
		random, err := f.bytes("random")
		if err != nil {
			return nil, err
		}
		return &Response{GetRandom: &RandomBytes{Random: random}}, nil
	}
	return nil, fmt.Errorf("unknown response %q", name)
}

func decodeErrorCode(body any) (ErrorCode, error) {
	var code ErrorCode
	switch v := body.(type) {
	case string:
		c, err := ParseErrorCode(v)
		if err != nil {
			return 0, err
		}
		code = c
	case uint64:
		if v >= uint64(len(errorCodeNames)) {
			return 0, fmt.Errorf("unknown error code %d", v)
		}
		code = ErrorCode(v)
	default:
		return 0, fmt.Errorf("error code: unexpected %T", body)
	}
	if code == Success {
		return 0, errors.New("error response carries success code")
	}
	return code, nil
}

func decodeDescription(f fields) (*NSMDescription, error) {
	var (
		d   NSMDescription
		err error
	)
	if d.VersionMajor, err = f.uint16("version_major"); err != nil {
		return nil, err
	}
	if d.VersionMinor, err = f.uint16("version_minor"); err != nil {
		return nil, err
	}
	if d.VersionPatch, err = f.uint16("version_patch"); err != nil {
		return nil, err
	}
	if d.ModuleID, err = f.text("module_id"); err != nil {
		return nil, err
	}
	if d.MaxPCRs, err = f.uint16("max_pcrs"); err != nil {
		return nil, err
	}
	if d.LockedPCRs, err = f.pcrList("locked_pcrs", d.MaxPCRs); err != nil {
		return nil, err
	}
	if d.Digest, err = f.digest("digest"); err != nil {
		return nil, err
	}
	return &d, nil
}
