// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cose

import (
	"crypto"
	"crypto/elliptic"
	"fmt"
)

// SignatureAlgorithm is the ECDSA signature type and hash.
type SignatureAlgorithm int64

/*
ECDSA Algorithm Values

	+-------+-------+---------+------------------+
	| Name  | Value | Hash    | Description      |
	+-------+-------+---------+------------------+
	| ES256 | -7    | SHA-256 | ECDSA w/ SHA-256 |
	| ES384 | -35   | SHA-384 | ECDSA w/ SHA-384 |
	| ES512 | -36   | SHA-512 | ECDSA w/ SHA-512 |
	+-------+-------+---------+------------------+
*/
const (
	ES256Alg SignatureAlgorithm = -7
	ES384Alg SignatureAlgorithm = -35
	ES512Alg SignatureAlgorithm = -36
)

func (alg SignatureAlgorithm) String() string {
	switch alg {
	case ES256Alg:
		return "ES256"
	case ES384Alg:
		return "ES384"
	case ES512Alg:
		return "ES512"
	default:
		return fmt.Sprintf("SignatureAlgorithm(%d)", int64(alg))
	}
}

// HashFunc implements crypto.SignerOpts.
func (alg SignatureAlgorithm) HashFunc() crypto.Hash {
	switch alg {
	case ES256Alg:
		return crypto.SHA256
	case ES384Alg:
		return crypto.SHA384
	case ES512Alg:
		return crypto.SHA512
	default:
		return 0
	}
}

// algorithmFor returns the signature algorithm matching an ECDSA curve.
func algorithmFor(curve elliptic.Curve) (SignatureAlgorithm, error) {
	switch curve {
	case elliptic.P256():
		return ES256Alg, nil
	case elliptic.P384():
		return ES384Alg, nil
	case elliptic.P521():
		return ES512Alg, nil
	default:
		return 0, fmt.Errorf("unsupported curve: %s", curve.Params().Name)
	}
}
