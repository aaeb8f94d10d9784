// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package cose implements the COSE_Sign1 structure of CBOR Object Signing and
// Encryption (COSE) defined in RFC8152, as used by NSM attestation documents.
package cose

/*
COSE Tags

	+-------+---------------+---------------+---------------------------+
	| CBOR  | cose-type     | Data Item     | Semantics                 |
	| Tag   |               |               |                           |
	+-------+---------------+---------------+---------------------------+
	| 18    | cose-sign1    | COSE_Sign1    | COSE Single Signer Data   |
	|       |               |               | Object                    |
	+-------+---------------+---------------+---------------------------+
*/
const Sign1TagNum uint64 = 18

// Common header labels
const (
	AlgLabel int64 = 1
	KidLabel int64 = 4
)
