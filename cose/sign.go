// Copyright 2023 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto/ecdsa"
	"crypto/rand"
	_ "crypto/sha256" // ES256
	_ "crypto/sha512" // ES384, ES512
	"errors"
	"fmt"
	"math/big"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

const sig1Context = "Signature1"

// Sign1 is a COSE_Sign1 signature structure, which is used when only one
// signature is being placed on a message.
//
//	COSE_Sign1 = [
//	    protected:   bstr .cbor header_map / bstr .size 0,
//	    unprotected: header_map,
//	    payload:     bstr / nil,
//	    signature:   bstr
//	]
type Sign1 struct {
	// Protected is the serialized protected header map. It is kept in its
	// serialized form because the signature covers these exact bytes.
	Protected   []byte
	Unprotected map[any]any
	Payload     []byte // nil when transported independently
	Signature   []byte
}

// Algorithm returns the signature algorithm from the protected header.
func (s1 *Sign1) Algorithm() (SignatureAlgorithm, error) {
	if len(s1.Protected) == 0 {
		return 0, errors.New("no protected header")
	}
	var v any
	if err := cbor.Unmarshal(s1.Protected, &v); err != nil {
		return 0, fmt.Errorf("error decoding protected header: %w", err)
	}
	header, ok := v.(map[any]any)
	if !ok {
		return 0, fmt.Errorf("protected header is %T, not a map", v)
	}
	alg, ok := header[uint64(AlgLabel)]
	if !ok {
		return 0, errors.New("protected header has no algorithm")
	}
	id, ok := alg.(int64)
	if !ok {
		return 0, fmt.Errorf("unsupported algorithm identifier %v", alg)
	}
	return SignatureAlgorithm(id), nil
}

// Sign using a single private key. The protected header is replaced with one
// naming the algorithm of the key.
func (s1 *Sign1) Sign(key *ecdsa.PrivateKey, externalAAD []byte) error {
	alg, err := algorithmFor(key.Curve)
	if err != nil {
		return err
	}
	protected, err := cbor.Marshal(map[any]any{AlgLabel: int64(alg)})
	if err != nil {
		return err
	}
	s1.Protected = protected

	data, err := s1.toBeSigned(externalAAD)
	if err != nil {
		return err
	}
	h := alg.HashFunc().New()
	_, _ = h.Write(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, h.Sum(nil))
	if err != nil {
		return err
	}

	// Encode signature following RFC8152 8.1.
	n := (key.Params().N.BitLen() + 7) / 8
	sig := make([]byte, n*2)
	r.FillBytes(sig[:n])
	s.FillBytes(sig[n:])
	s1.Signature = sig

	return nil
}

// Verify using a single public key.
func (s1 *Sign1) Verify(key *ecdsa.PublicKey, externalAAD []byte) (bool, error) {
	alg, err := s1.Algorithm()
	if err != nil {
		return false, err
	}
	keyAlg, err := algorithmFor(key.Curve)
	if err != nil {
		return false, err
	}
	if alg != keyAlg {
		return false, fmt.Errorf("algorithm %s does not match %s key", alg, key.Params().Name)
	}
	if s1.Payload == nil {
		return false, errors.New("payload was transported independently")
	}

	// Decode signature following RFC8152 8.1.
	n := (key.Params().N.BitLen() + 7) / 8
	if len(s1.Signature) != n*2 {
		return false, fmt.Errorf("signature length must be %d, got %d", n*2, len(s1.Signature))
	}
	r := new(big.Int).SetBytes(s1.Signature[:n])
	s := new(big.Int).SetBytes(s1.Signature[n:])

	data, err := s1.toBeSigned(externalAAD)
	if err != nil {
		return false, err
	}
	h := alg.HashFunc().New()
	_, _ = h.Write(data)
	return ecdsa.Verify(key, h.Sum(nil), r, s), nil
}

// toBeSigned serializes the Sig_structure.
//
//	Sig_structure = [
//	    context: "Signature1",
//	    body_protected: empty_or_serialized_map,
//	    external_aad: bstr,
//	    payload: bstr
//	]
func (s1 *Sign1) toBeSigned(externalAAD []byte) ([]byte, error) {
	return cbor.Marshal([]any{sig1Context, nonNil(s1.Protected), nonNil(externalAAD), nonNil(s1.Payload)})
}

// MarshalCBOR implements cbor.Marshaler. The structure is encoded without a
// tag, as the NSM does.
func (s1 *Sign1) MarshalCBOR() ([]byte, error) {
	unprotected := s1.Unprotected
	if unprotected == nil {
		unprotected = map[any]any{}
	}
	var payload any
	if s1.Payload != nil {
		payload = s1.Payload
	}
	return cbor.Marshal([]any{nonNil(s1.Protected), unprotected, payload, nonNil(s1.Signature)})
}

// UnmarshalCBOR implements cbor.Unmarshaler. Both tagged and untagged
// structures are accepted.
func (s1 *Sign1) UnmarshalCBOR(data []byte) error {
	var v any
	if err := cbor.Unmarshal(data, &v); err != nil {
		return err
	}
	if tag, ok := v.(cbor.Tag); ok {
		if tag.Num != Sign1TagNum {
			return fmt.Errorf("unexpected tag %d for COSE_Sign1", tag.Num)
		}
		v = tag.Val
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 4 {
		return errors.New("COSE_Sign1 must be an array of 4 items")
	}

	var s Sign1
	if s.Protected, ok = arr[0].([]byte); !ok {
		return errors.New("COSE_Sign1 protected header must be a byte string")
	}
	if s.Unprotected, ok = arr[1].(map[any]any); !ok {
		return errors.New("COSE_Sign1 unprotected header must be a map")
	}
	if arr[2] != nil {
		if s.Payload, ok = arr[2].([]byte); !ok {
			return errors.New("COSE_Sign1 payload must be a byte string or null")
		}
	}
	if s.Signature, ok = arr[3].([]byte); !ok || len(s.Signature) == 0 {
		return errors.New("COSE_Sign1 signature must be a non-empty byte string")
	}

	*s1 = s
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
