// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cbor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Encoder writes CBOR items to an [io.Writer].
type Encoder struct {
	w io.Writer

	// MapKeySort is used to determine sort order of map keys for encoding. If
	// none is set, then Core Deterministic (bytewise lexical) encoding is
	// used.
	//
	// The provided function is called with indices 0..len(keys)-1 and
	// marshaled map keys in a random order. The return value is expected to be
	// a "less" function that is used to iteratively sort the indices in place
	// while the marshaled keys remain unmodified.
	MapKeySort func(indices []int, marshaledKeys [][]byte) func(i, j int) bool
}

// NewEncoder returns a new Encoder. The [io.Writer] is not automatically flushed.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

func (e *Encoder) write(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

// Encode CBOR data to the underlying [io.Writer].
//
// Supported types are Marshaler implementations, all fixed size integer
// kinds, []byte, string, bool, nil, Tag, []any, []uint16, [][]byte,
// map[string]any, map[uint64][]byte, and map[any]any with comparable keys.
//
//nolint:gocyclo // Dispatch will always have naturally high complexity.
func (e *Encoder) Encode(v any) error {
	switch v := v.(type) {
	case nil:
		return e.write([]byte{simpleMajorType<<5 | nullVal})
	case Marshaler:
		b, err := v.MarshalCBOR()
		if err != nil {
			return err
		}
		return e.write(b)
	case bool:
		if v {
			return e.write([]byte{simpleMajorType<<5 | trueVal})
		}
		return e.write([]byte{simpleMajorType<<5 | falseVal})
	case uint8:
		return e.writeHead(unsignedIntMajorType, uint64(v))
	case uint16:
		return e.writeHead(unsignedIntMajorType, uint64(v))
	case uint32:
		return e.writeHead(unsignedIntMajorType, uint64(v))
	case uint64:
		return e.writeHead(unsignedIntMajorType, v)
	case uint:
		return e.writeHead(unsignedIntMajorType, uint64(v))
	case int8:
		return e.encodeInt(int64(v))
	case int16:
		return e.encodeInt(int64(v))
	case int32:
		return e.encodeInt(int64(v))
	case int64:
		return e.encodeInt(v)
	case int:
		return e.encodeInt(int64(v))
	case []byte:
		if err := e.writeHead(byteStringMajorType, uint64(len(v))); err != nil {
			return err
		}
		return e.write(v)
	case string:
		if err := e.writeHead(textStringMajorType, uint64(len(v))); err != nil {
			return err
		}
		return e.write([]byte(v))
	case Tag:
		if err := e.writeHead(tagMajorType, v.Num); err != nil {
			return err
		}
		return e.Encode(v.Val)
	case []any:
		return e.encodeArray(len(v), func(i int) any { return v[i] })
	case []uint16:
		return e.encodeArray(len(v), func(i int) any { return v[i] })
	case [][]byte:
		return e.encodeArray(len(v), func(i int) any { return v[i] })
	case map[string]any:
		keys := make([]any, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		return e.encodeMap(keys, func(k any) any { return v[k.(string)] })
	case map[uint64][]byte:
		keys := make([]any, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		return e.encodeMap(keys, func(k any) any { return v[k.(uint64)] })
	case map[any]any:
		keys := make([]any, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		return e.encodeMap(keys, func(k any) any { return v[k] })
	default:
		return ErrUnsupportedType{typeName: fmt.Sprintf("%T", v)}
	}
}

// writeHead writes the initial byte and argument of an item using the
// shortest form.
func (e *Encoder) writeHead(majorType byte, arg uint64) error {
	return e.write(head(majorType, arg))
}

func head(majorType byte, arg uint64) []byte {
	b := (majorType & threeBitMask) << 5
	switch {
	case arg < uint64(oneByteAdditional):
		return []byte{b | byte(arg)}
	case arg <= 0xff:
		return []byte{b | oneByteAdditional, byte(arg)}
	case arg <= 0xffff:
		return binary.BigEndian.AppendUint16([]byte{b | twoBytesAdditional}, uint16(arg))
	case arg <= 0xffffffff:
		return binary.BigEndian.AppendUint32([]byte{b | fourBytesAdditional}, uint32(arg))
	default:
		return binary.BigEndian.AppendUint64([]byte{b | eightBytesAdditional}, arg)
	}
}

func (e *Encoder) encodeInt(i int64) error {
	if i >= 0 {
		return e.writeHead(unsignedIntMajorType, uint64(i))
	}
	return e.writeHead(negativeIntMajorType, uint64(-1-i))
}

func (e *Encoder) encodeArray(size int, get func(int) any) error {
	if err := e.writeHead(arrayMajorType, uint64(size)); err != nil {
		return err
	}
	for i := range size {
		if err := e.Encode(get(i)); err != nil {
			return fmt.Errorf("error encoding array item %d: %w", i, err)
		}
	}
	return nil
}

func (e *Encoder) encodeMap(keys []any, get func(k any) any) error {
	if err := e.writeHead(mapMajorType, uint64(len(keys))); err != nil {
		return err
	}

	// Marshal all keys
	marshaledKeys := make([][]byte, len(keys))
	for i, key := range keys {
		b, err := Marshal(key)
		if err != nil {
			return fmt.Errorf("error encoding map key: %w", err)
		}
		marshaledKeys[i] = b
	}

	// Sort keys deterministically
	lessFn := e.MapKeySort
	if lessFn == nil {
		lessFn = BytewiseLexicalSort
	}
	indices := make([]int, len(keys))
	for i := range keys {
		indices[i] = i
	}
	sort.Slice(indices, lessFn(indices, marshaledKeys))

	// Append each key-value pair by encoding key then value
	for _, i := range indices {
		if err := e.write(marshaledKeys[i]); err != nil {
			return err
		}
		if err := e.Encode(get(keys[i])); err != nil {
			return fmt.Errorf("error encoding map value: %w", err)
		}
	}
	return nil
}

// BytewiseLexicalSort is a map key sorting function. It is the default for an
// `Encoder`.
//
// It is the "new" canonical form whereas length-first is the "old" canonical
// form.
func BytewiseLexicalSort(indices []int, keys [][]byte) func(i, j int) bool {
	return func(i, j int) bool {
		return bytes.Compare(keys[indices[i]], keys[indices[j]]) < 0
	}
}
