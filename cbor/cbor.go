// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cbor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxArrayDecodeLength limits the max number of items in an array or map
// (where each key-value pair counts as two items).
const MaxArrayDecodeLength = 100_000

// MaxStringDecodeLength limits the max size of a byte or text string.
const MaxStringDecodeLength = 1 << 20

// MaxNestingDepth limits how deeply arrays, maps, and tags may be nested.
const MaxNestingDepth = 32

// Major types (high 3 bits)
const (
	unsignedIntMajorType byte = 0x00
	negativeIntMajorType byte = 0x01
	byteStringMajorType  byte = 0x02
	textStringMajorType  byte = 0x03
	arrayMajorType       byte = 0x04
	mapMajorType         byte = 0x05
	tagMajorType         byte = 0x06
	simpleMajorType      byte = 0x07
)

// Additional info (low 5 bits)
const (
	oneByteAdditional    byte = 0x18
	twoBytesAdditional   byte = 0x19
	fourBytesAdditional  byte = 0x1a
	eightBytesAdditional byte = 0x1b
	indefiniteAdditional byte = 0x1f
)

// Well-known simple values
const (
	falseVal     byte = 0x14
	trueVal      byte = 0x15
	nullVal      byte = 0x16
	undefinedVal byte = 0x17
)

// Bitmasks
const (
	threeBitMask byte = 0x07
	fiveBitMask  byte = 0x1f
)

// ErrUnsupportedType means that a value of this type cannot be encoded or
// decoded.
type ErrUnsupportedType struct {
	typeName string
}

func (e ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported type: %s", e.typeName)
}

// ErrMalformed is returned for input that is not well-formed CBOR or exceeds
// the decoder limits.
var ErrMalformed = errors.New("malformed cbor")

// Marshaler is the interface implemented by types that can marshal themselves
// into valid CBOR.
type Marshaler interface {
	MarshalCBOR() ([]byte, error)
}

// Unmarshaler is the interface implemented by types that can unmarshal a CBOR
// description of themselves. The data is invalid upon the function returning.
type Unmarshaler interface {
	UnmarshalCBOR([]byte) error
}

// RawBytes encodes and decodes untransformed. When encoding, it must contain
// valid CBOR.
type RawBytes []byte

// MarshalCBOR implements Marshaler.
func (b RawBytes) MarshalCBOR() ([]byte, error) {
	if b == nil {
		return []byte{}, nil
	}
	return b, nil
}

// UnmarshalCBOR implements Unmarshaler.
func (b *RawBytes) UnmarshalCBOR(p []byte) error { *b = bytes.Clone(p); return nil }

// Tag is a tagged CBOR item. When decoding into an any, Val holds the
// generically decoded content.
type Tag struct {
	Num uint64
	Val any
}

// Marshal any supported type into CBOR.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal a single CBOR item. v must be a non-nil pointer to a supported
// type or implement Unmarshaler. Trailing data is an error.
func Unmarshal(data []byte, v any) error {
	r := bytes.NewReader(data)
	if err := NewDecoder(r).Decode(v); err != nil {
		return err
	}
	if r.Len() > 0 {
		return fmt.Errorf("%w: unmarshal did not consume all data, had extra %d bytes", ErrMalformed, r.Len())
	}
	return nil
}

// Decoder iteratively consumes a reader, decoding CBOR items.
//
// When decoding into an any, the following CBOR to Go type mapping is used:
//
//	Unsigned     -> uint64
//	Negative     -> int64
//	Byte String  -> []byte
//	Text String  -> string
//	Array        -> []any
//	Map          -> map[any]any
//	Tag          -> Tag
//	Simple(Bool) -> bool
//	Null/Undef   -> nil
type Decoder struct {
	r     io.Reader
	depth int
}

// NewDecoder returns a new Decoder. The [io.Reader] is not copied.
func NewDecoder(r io.Reader) *Decoder { return &Decoder{r: r} }

// Decode a single CBOR item from the internal [io.Reader].
func (d *Decoder) Decode(v any) error {
	if u, ok := v.(Unmarshaler); ok {
		raw, err := d.decodeRaw()
		if err != nil {
			return err
		}
		return u.UnmarshalCBOR(raw)
	}

	val, err := d.decodeAny()
	if err != nil {
		return err
	}

	switch v := v.(type) {
	case *any:
		*v = val
	case *uint64:
		u, ok := val.(uint64)
		if !ok {
			return fmt.Errorf("%w: expected unsigned integer, got %T", ErrUnsupportedType{typeName: "uint64"}, val)
		}
		*v = u
	case *int64:
		switch i := val.(type) {
		case int64:
			*v = i
		case uint64:
			if i > math.MaxInt64 {
				return fmt.Errorf("integer %d overflows int64", i)
			}
			*v = int64(i)
		default:
			return fmt.Errorf("%w: expected integer, got %T", ErrUnsupportedType{typeName: "int64"}, val)
		}
	case *[]byte:
		switch b := val.(type) {
		case []byte:
			*v = b
		case nil:
			*v = nil
		default:
			return fmt.Errorf("%w: expected byte string, got %T", ErrUnsupportedType{typeName: "[]byte"}, val)
		}
	case *string:
		s, ok := val.(string)
		if !ok {
			return fmt.Errorf("%w: expected text string, got %T", ErrUnsupportedType{typeName: "string"}, val)
		}
		*v = s
	case *bool:
		b, ok := val.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool, got %T", ErrUnsupportedType{typeName: "bool"}, val)
		}
		*v = b
	default:
		return ErrUnsupportedType{typeName: fmt.Sprintf("%T", v)}
	}
	return nil
}

// Decode one item to bytes
func (d *Decoder) decodeRaw() ([]byte, error) {
	var raw bytes.Buffer
	tee := &Decoder{r: io.TeeReader(d.r, &raw), depth: d.depth}
	if err := tee.skip(); err != nil {
		return nil, err
	}
	return raw.Bytes(), nil
}

// skip reads one full item and discards it.
func (d *Decoder) skip() error {
	highThreeBits, lowFiveBits, additional, err := d.typeInfo()
	if err != nil {
		return err
	}
	switch highThreeBits {
	case unsignedIntMajorType, negativeIntMajorType, simpleMajorType:
		return nil
	case byteStringMajorType, textStringMajorType:
		length, err := decodeLen(highThreeBits, lowFiveBits, additional)
		if err != nil {
			return err
		}
		_, err = io.CopyN(io.Discard, d.r, int64(length))
		return noEOF(err)
	case arrayMajorType, mapMajorType, tagMajorType:
		length := 1
		if highThreeBits != tagMajorType {
			if length, err = decodeLen(highThreeBits, lowFiveBits, additional); err != nil {
				return err
			}
		}
		if err := d.enter(); err != nil {
			return err
		}
		defer d.leave()
		for range length {
			if err := d.skip(); err != nil {
				return noEOF(err)
			}
		}
		return nil
	}
	panic("unreachable")
}

func (d *Decoder) enter() error {
	if d.depth >= MaxNestingDepth {
		return fmt.Errorf("%w: nesting exceeds max depth %d", ErrMalformed, MaxNestingDepth)
	}
	d.depth++
	return nil
}

func (d *Decoder) leave() { d.depth-- }

func decodeLen(highThreeBits, lowFiveBits byte, additional []byte) (int, error) {
	length := toU64(additional)
	if lowFiveBits < oneByteAdditional {
		length = uint64(lowFiveBits)
	}
	switch highThreeBits {
	case byteStringMajorType, textStringMajorType:
		if length > MaxStringDecodeLength {
			return 0, fmt.Errorf("%w: string length exceeds max size: %d", ErrMalformed, length)
		}
	case mapMajorType:
		if length > MaxArrayDecodeLength/2 {
			return 0, fmt.Errorf("%w: map length exceeds max size: %d", ErrMalformed, length)
		}
		length *= 2
	default:
		if length > MaxArrayDecodeLength {
			return 0, fmt.Errorf("%w: array length exceeds max size: %d", ErrMalformed, length)
		}
	}
	return int(length), nil
}

//nolint:gocyclo // Dispatch will always have naturally high complexity.
func (d *Decoder) decodeAny() (any, error) {
	highThreeBits, lowFiveBits, additional, err := d.typeInfo()
	if err != nil {
		return nil, err
	}

	switch highThreeBits {
	case unsignedIntMajorType:
		return argument(lowFiveBits, additional), nil

	case negativeIntMajorType:
		u := argument(lowFiveBits, additional)
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("%w: negative integer overflows int64", ErrMalformed)
		}
		return -1 - int64(u), nil

	case byteStringMajorType, textStringMajorType:
		length, err := decodeLen(highThreeBits, lowFiveBits, additional)
		if err != nil {
			return nil, err
		}
		b := make([]byte, length)
		if _, err := io.ReadFull(d.r, b); err != nil {
			return nil, noEOF(err)
		}
		if highThreeBits == textStringMajorType {
			return string(b), nil
		}
		return b, nil

	case arrayMajorType:
		length, err := decodeLen(highThreeBits, lowFiveBits, additional)
		if err != nil {
			return nil, err
		}
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer d.leave()
		arr := make([]any, 0, min(length, 64))
		for i := range length {
			item, err := d.decodeAny()
			if err != nil {
				return nil, fmt.Errorf("error decoding array item %d: %w", i, noEOF(err))
			}
			arr = append(arr, item)
		}
		return arr, nil

	case mapMajorType:
		length, err := decodeLen(highThreeBits, lowFiveBits, additional)
		if err != nil {
			return nil, err
		}
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer d.leave()
		m := make(map[any]any, min(length/2, 64))
		for i := 0; i < length; i += 2 {
			key, err := d.decodeAny()
			if err != nil {
				return nil, fmt.Errorf("error decoding map key %d: %w", i/2, noEOF(err))
			}
			switch key.(type) {
			case uint64, int64, string, bool:
			default:
				return nil, fmt.Errorf("%w: map key type %T not comparable", ErrUnsupportedType{typeName: "map key"}, key)
			}
			if _, dup := m[key]; dup {
				return nil, fmt.Errorf("%w: duplicate map key %v", ErrMalformed, key)
			}
			val, err := d.decodeAny()
			if err != nil {
				return nil, fmt.Errorf("error decoding map val %d: %w", i/2, noEOF(err))
			}
			m[key] = val
		}
		return m, nil

	case tagMajorType:
		if err := d.enter(); err != nil {
			return nil, err
		}
		defer d.leave()
		num := argument(lowFiveBits, additional)
		val, err := d.decodeAny()
		if err != nil {
			return nil, fmt.Errorf("error decoding tag %d content: %w", num, noEOF(err))
		}
		return Tag{Num: num, Val: val}, nil

	case simpleMajorType:
		switch lowFiveBits {
		case falseVal, trueVal:
			return lowFiveBits == trueVal, nil
		case nullVal, undefinedVal:
			return nil, nil
		default:
			return nil, ErrUnsupportedType{typeName: fmt.Sprintf("simple value 0x%02x", lowFiveBits)}
		}
	}

	panic("unreachable")
}

func (d *Decoder) typeInfo() (highThreeBits, lowFiveBits byte, additional []byte, _ error) {
	var first [1]byte
	if _, err := io.ReadFull(d.r, first[:]); err != nil {
		return 0, 0, nil, err
	}

	highThreeBits = first[0] >> 5
	lowFiveBits = first[0] & fiveBitMask

	// If the low five bits indicate, read 1, 2, 4, or 8 additional bytes
	switch lowFiveBits {
	case oneByteAdditional:
		additional = make([]byte, 1)
	case twoBytesAdditional:
		additional = make([]byte, 2)
	case fourBytesAdditional:
		additional = make([]byte, 4)
	case eightBytesAdditional:
		additional = make([]byte, 8)
	case 0x1c, 0x1d, 0x1e:
		return 0, 0, nil, fmt.Errorf("%w: reserved additional info 0x%02x", ErrMalformed, lowFiveBits)
	case indefiniteAdditional:
		return 0, 0, nil, fmt.Errorf("%w: indefinite length items", ErrUnsupportedType{typeName: "indefinite"})
	default:
		return highThreeBits, lowFiveBits, nil, nil
	}

	if _, err := io.ReadFull(d.r, additional); err != nil {
		return 0, 0, nil, noEOF(err)
	}
	if highThreeBits == simpleMajorType {
		return 0, 0, nil, ErrUnsupportedType{typeName: "float or extended simple value"}
	}
	return highThreeBits, lowFiveBits, additional, nil
}

func argument(lowFiveBits byte, additional []byte) uint64 {
	if lowFiveBits < oneByteAdditional {
		return uint64(lowFiveBits)
	}
	return toU64(additional)
}

// noEOF converts a plain EOF, which is only valid before the first byte of an
// item, into an unexpected EOF.
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// panics if more than 8 bytes given
func toU64(b []byte) uint64 {
	if len(b) > 8 {
		panic("too many bytes to decode into a uint64 without overflowing")
	}
	var padded [8]byte
	copy(padded[8-len(b):], b)
	return binary.BigEndian.Uint64(padded[:])
}
