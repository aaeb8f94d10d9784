// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

/*
Package cbor implements the subset of RFC 8949 Concise Binary Object
Representation (CBOR) used by the Nitro Secure Module wire protocol.

Not supported:

  - Indefinite length arrays, maps, byte strings, or text strings
  - Simple values other than bool, null, and undefined
  - Floats
  - Numbers greater than 64 bits
  - Encoding or decoding Go structs by reflection
  - UTF-8 validation of strings

Message types implement [Marshaler] and [Unmarshaler] and build their
encodings from the generic value model instead.

# Encoding

	_ = enc.Encode(true)                // 0xf5
	_ = enc.Encode(nil)                 // 0xf6
	_ = enc.Encode(uint16(1000))        // 0x19 0x03 0xe8
	_ = enc.Encode(-1)                  // 0x20
	_ = enc.Encode([]byte{0x01, 0x02})  // 0x42 0x01 0x02
	_ = enc.Encode("GetRandom")         // 0x69 ...
	_ = enc.Encode([]uint16{0, 1, 2})   // 0x83 0x00 0x01 0x02

	// Core deterministic encoding is used for maps by default
	_ = enc.Encode(map[string]any{"index": uint16(3)})

	_ = enc.Encode(cbor.Tag{Num: 18, Val: []any{...}})

# Decoding

	var v any
	_ = cbor.Unmarshal([]byte{0xa1, 0x61, 0x61, 0x01}, &v) // v = map[any]any{"a": uint64(1)}

	var raw cbor.RawBytes
	_ = cbor.Unmarshal(data, &raw) // raw = data, validated as one well-formed item

Decoding is bounded by [MaxArrayDecodeLength], [MaxStringDecodeLength], and
[MaxNestingDepth], so that a corrupted or hostile reply cannot exhaust memory
or stack.
*/
package cbor
