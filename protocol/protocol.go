// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package protocol contains the NSM request and response types and their
// wire encoding.
//
// Messages are CBOR encoded as externally tagged variants. A variant without
// fields is a bare text string naming it. A variant with fields is a map of
// one entry from its name to a map of snake_case field names.
//
//	"DescribeNSM"
//	{"DescribePCR": {"index": 3}}
//	{"ExtendPCR": {"data": h'00ff', "index": 16}}
//	{"Attestation": {"nonce": null, "user_data": h'01', "public_key": null}}
//	{"Error": "ReadOnlyIndex"}
//
// Maps are encoded in core deterministic order, so encodings are stable.
package protocol
