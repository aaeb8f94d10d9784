// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"fmt"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

// AttestationDoc is the payload of the COSE_Sign1 attestation document
// produced by the NSM.
//
//	AttestationDocument = {
//	    module_id: text,
//	    digest: digest,
//	    timestamp: uint .size 8,
//	    pcrs: { + index => pcr },
//	    certificate: cert,
//	    cabundle: [* cert],
//	    ? public_key: user_data,
//	    ? user_data: user_data,
//	    ? nonce: user_data,
//	}
//
// The client never parses documents it receives. The type is used to
// produce documents in test NSM implementations and to inspect them in
// tooling.
type AttestationDoc struct {
	ModuleID    string
	Digest      Digest
	Timestamp   uint64 // milliseconds since the UNIX epoch
	PCRs        map[uint64][]byte
	Certificate []byte
	CABundle    [][]byte

	PublicKey []byte
	UserData  []byte
	Nonce     []byte
}

// MarshalCBOR implements cbor.Marshaler.
func (doc *AttestationDoc) MarshalCBOR() ([]byte, error) {
	pcrs := doc.PCRs
	if pcrs == nil {
		pcrs = map[uint64][]byte{}
	}
	cabundle := doc.CABundle
	if cabundle == nil {
		cabundle = [][]byte{}
	}
	return marshal(map[string]any{
		"module_id":   doc.ModuleID,
		"digest":      doc.Digest,
		"timestamp":   doc.Timestamp,
		"pcrs":        pcrs,
		"certificate": nonNil(doc.Certificate),
		"cabundle":    cabundle,
		"public_key":  optional(doc.PublicKey),
		"user_data":   optional(doc.UserData),
		"nonce":       optional(doc.Nonce),
	})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (doc *AttestationDoc) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	f, err := asFields(v)
	if err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}

	var d AttestationDoc
	if d.ModuleID, err = f.text("module_id"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.Digest, err = f.digest("digest"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.Timestamp, err = f.uint64("timestamp"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.PCRs, err = decodePCRMap(f); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.Certificate, err = f.bytes("certificate"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.CABundle, err = decodeCABundle(f); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.PublicKey, err = f.optBytes("public_key"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.UserData, err = f.optBytes("user_data"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}
	if d.Nonce, err = f.optBytes("nonce"); err != nil {
		return fmt.Errorf("attestation document: %w", err)
	}

	*doc = d
	return nil
}

func decodePCRMap(f fields) (map[uint64][]byte, error) {
	v, err := f.get("pcrs")
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[any]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected map, got %T", "pcrs", v)
	}
	pcrs := make(map[uint64][]byte, len(m))
	for k, val := range m {
		index, ok := k.(uint64)
		if !ok {
			return nil, fmt.Errorf("field %q: expected unsigned index, got %T", "pcrs", k)
		}
		pcr, ok := val.([]byte)
		if !ok {
			return nil, fmt.Errorf("field %q index %d: expected byte string, got %T", "pcrs", index, val)
		}
		pcrs[index] = pcr
	}
	return pcrs, nil
}

func decodeCABundle(f fields) ([][]byte, error) {
	v, err := f.get("cabundle")
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %T", "cabundle", v)
	}
	bundle := make([][]byte, 0, len(arr))
	for i, item := range arr {
		cert, ok := item.([]byte)
		if !ok {
			return nil, fmt.Errorf("field %q item %d: expected byte string, got %T", "cabundle", i, item)
		}
		bundle = append(bundle, cert)
	}
	return bundle, nil
}
