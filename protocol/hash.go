// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"crypto"
	"fmt"
)

// Digest is the hash algorithm used by the NSM for PCR values and attestation
// documents.
//
//	Digest = (
//	    SHA256: 0,
//	    SHA384: 1,
//	    SHA512: 2
//	)
//
// On the wire a Digest is sent as its name. Numeric values are accepted when
// decoding.
type Digest uint32

// Digest algorithms
const (
	SHA256 Digest = 0
	SHA384 Digest = 1
	SHA512 Digest = 2
)

func (d Digest) String() string {
	switch d {
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	default:
		return fmt.Sprintf("Digest(%d)", uint32(d))
	}
}

// Valid reports whether the digest is one of the known algorithms.
func (d Digest) Valid() bool { return d <= SHA512 }

// Size is the length in bytes of a PCR value for this digest.
func (d Digest) Size() int { return d.HashFunc().Size() }

// HashFunc implements crypto.SignerOpts, but is mainly intended as a simple
// helper function.
func (d Digest) HashFunc() crypto.Hash {
	switch d {
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	}
	panic("Digest missing switch case(s)")
}

// MarshalCBOR implements cbor.Marshaler.
func (d Digest) MarshalCBOR() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid digest %d", uint32(d))
	}
	return marshal(d.String())
}

func parseDigest(v any) (Digest, error) {
	switch v := v.(type) {
	case string:
		for d := SHA256; d <= SHA512; d++ {
			if d.String() == v {
				return d, nil
			}
		}
		return 0, fmt.Errorf("unknown digest %q", v)
	case uint64:
		if d := Digest(v); v <= uint64(SHA512) && d.Valid() {
			return d, nil
		}
		return 0, fmt.Errorf("unknown digest %d", v)
	default:
		return 0, fmt.Errorf("digest: unexpected %T", v)
	}
}
