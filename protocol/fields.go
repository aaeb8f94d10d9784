// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package protocol

import (
	"errors"
	"fmt"
	"math"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

var errNotVariant = errors.New("not an externally tagged variant")

func marshal(v any) ([]byte, error) { return cbor.Marshal(v) }

// optional converts a nil slice to an untyped nil so that it encodes as CBOR
// null rather than an empty byte string.
func optional(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// variant splits an externally tagged value into its name and body. Unit
// variants are a bare text string and have a nil body with unit set.
func variant(v any) (name string, body any, unit bool, err error) {
	switch v := v.(type) {
	case string:
		return v, nil, true, nil
	case map[any]any:
		if len(v) != 1 {
			return "", nil, false, fmt.Errorf("%w: map has %d entries", errNotVariant, len(v))
		}
		for k, body := range v {
			name, ok := k.(string)
			if !ok {
				return "", nil, false, fmt.Errorf("%w: key is %T", errNotVariant, k)
			}
			return name, body, false, nil
		}
	}
	return "", nil, false, fmt.Errorf("%w: %T", errNotVariant, v)
}

// fields is the decoded body of a struct variant.
type fields map[any]any

func asFields(body any) (fields, error) {
	m, ok := body.(map[any]any)
	if !ok {
		return nil, fmt.Errorf("expected field map, got %T", body)
	}
	return fields(m), nil
}

func (f fields) get(name string) (any, error) {
	v, ok := f[name]
	if !ok {
		return nil, fmt.Errorf("missing field %q", name)
	}
	return v, nil
}

func (f fields) uint16(name string) (uint16, error) {
	v, err := f.get(name)
	if err != nil {
		return 0, err
	}
	u, ok := v.(uint64)
	if !ok {
		return 0, fmt.Errorf("field %q: expected unsigned integer, got %T", name, v)
	}
	if u > math.MaxUint16 {
		return 0, fmt.Errorf("field %q: %d exceeds 16 bits", name, u)
	}
	return uint16(u), nil
}

func (f fields) uint64(name string) (uint64, error) {
	v, err := f.get(name)
	if err != nil {
		return 0, err
	}
	u, ok := v.(uint64)
	if !ok {
		return 0, fmt.Errorf("field %q: expected unsigned integer, got %T", name, v)
	}
	return u, nil
}

func (f fields) bool(name string) (bool, error) {
	v, err := f.get(name)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q: expected bool, got %T", name, v)
	}
	return b, nil
}

func (f fields) text(name string) (string, error) {
	v, err := f.get(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q: expected text string, got %T", name, v)
	}
	return s, nil
}

func (f fields) bytes(name string) ([]byte, error) {
	v, err := f.get(name)
	if err != nil {
		return nil, err
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("field %q: expected byte string, got %T", name, v)
	}
	return b, nil
}

// optBytes accepts a byte string, null, or a missing field. Both null and
// missing decode to nil.
func (f fields) optBytes(name string) ([]byte, error) {
	v, ok := f[name]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("field %q: expected byte string or null, got %T", name, v)
	}
	return b, nil
}

func (f fields) digest(name string) (Digest, error) {
	v, err := f.get(name)
	if err != nil {
		return 0, err
	}
	d, err := parseDigest(v)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return d, nil
}

// pcrList decodes a strictly ascending list of PCR indices below max.
func (f fields) pcrList(name string, maxPCRs uint16) ([]uint16, error) {
	v, err := f.get(name)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %T", name, v)
	}
	list := make([]uint16, 0, len(arr))
	for i, item := range arr {
		u, ok := item.(uint64)
		if !ok {
			return nil, fmt.Errorf("field %q item %d: expected unsigned integer, got %T", name, i, item)
		}
		if u >= uint64(maxPCRs) {
			return nil, fmt.Errorf("field %q item %d: index %d not below max %d", name, i, u, maxPCRs)
		}
		if i > 0 && uint16(u) <= list[i-1] {
			return nil, fmt.Errorf("field %q item %d: indices not strictly ascending", name, i)
		}
		list = append(list, uint16(u))
	}
	return list, nil
}
