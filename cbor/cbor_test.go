// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cbor_test

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

func TestEncodeInt(t *testing.T) {
	for _, test := range []struct {
		input  any
		expect []byte
	}{
		{input: 0, expect: []byte{0x00}},
		{input: -1, expect: []byte{0x20}},
		{input: 23, expect: []byte{0x17}},
		{input: -24, expect: []byte{0x37}},
		{input: int8(24), expect: []byte{0x18, 0x18}},
		{input: int16(-25), expect: []byte{0x38, 0x18}},
		{input: 999, expect: []byte{0x19, 0x03, 0xe7}},
		{input: int32(-1001), expect: []byte{0x39, 0x03, 0xe8}},
		{input: int64(1000000), expect: []byte{0x1a, 0x00, 0x0f, 0x42, 0x40}},
		{input: uint8(100), expect: []byte{0x18, 0x64}},
		{input: uint16(1000), expect: []byte{0x19, 0x03, 0xe8}},
		{input: uint32(1000000), expect: []byte{0x1a, 0x00, 0x0f, 0x42, 0x40}},
		{input: uint64(1000000000000), expect: []byte{0x1b, 0x00, 0x00, 0x00, 0xe8, 0xd4, 0xa5, 0x10, 0x00}},
		{input: uint(65536), expect: []byte{0x1a, 0x00, 0x01, 0x00, 0x00}},
	} {
		if got, err := cbor.Marshal(test.input); err != nil {
			t.Errorf("error marshaling %v: %v", test.input, err)
		} else if !bytes.Equal(got, test.expect) {
			t.Errorf("marshaling %v; expected % x, got % x", test.input, test.expect, got)
		}
	}
}

func TestEncodeTextAndBinary(t *testing.T) {
	for _, test := range []struct {
		input  any
		expect []byte
	}{
		{input: []byte{}, expect: []byte{0x40}},
		{input: []byte{0x01, 0x02, 0x03}, expect: []byte{0x43, 0x01, 0x02, 0x03}},
		{input: "", expect: []byte{0x60}},
		{input: "IETF", expect: []byte{0x64, 0x49, 0x45, 0x54, 0x46}},
		{input: "GetRandom", expect: append([]byte{0x69}, "GetRandom"...)},
		{input: bytes.Repeat([]byte{0xaa}, 24), expect: append([]byte{0x58, 0x18}, bytes.Repeat([]byte{0xaa}, 24)...)},
	} {
		if got, err := cbor.Marshal(test.input); err != nil {
			t.Errorf("error marshaling %v: %v", test.input, err)
		} else if !bytes.Equal(got, test.expect) {
			t.Errorf("marshaling %v; expected % x, got % x", test.input, test.expect, got)
		}
	}
}

func TestEncodeArray(t *testing.T) {
	for _, test := range []struct {
		input  any
		expect []byte
	}{
		{input: []any{}, expect: []byte{0x80}},
		{input: []uint16{0, 1, 2}, expect: []byte{0x83, 0x00, 0x01, 0x02}},
		{input: [][]byte{{0x01}, {}}, expect: []byte{0x82, 0x41, 0x01, 0x40}},
		{input: []any{uint64(1), "a", nil, true}, expect: []byte{0x84, 0x01, 0x61, 0x61, 0xf6, 0xf5}},
	} {
		if got, err := cbor.Marshal(test.input); err != nil {
			t.Errorf("error marshaling %v: %v", test.input, err)
		} else if !bytes.Equal(got, test.expect) {
			t.Errorf("marshaling %v; expected % x, got % x", test.input, test.expect, got)
		}
	}
}

func TestEncodeMap(t *testing.T) {
	t.Run("core deterministic key order", func(t *testing.T) {
		input := map[string]any{"b": 1, "a": 2, "aa": 3}
		expect := []byte{0xa3, 0x61, 0x61, 0x02, 0x61, 0x62, 0x01, 0x62, 0x61, 0x61, 0x03}
		if got, err := cbor.Marshal(input); err != nil {
			t.Fatalf("error marshaling %v: %v", input, err)
		} else if !bytes.Equal(got, expect) {
			t.Errorf("expected % x, got % x", expect, got)
		}
	})

	t.Run("integer keys", func(t *testing.T) {
		input := map[uint64][]byte{2: {0x02}, 1: {0x01}}
		expect := []byte{0xa2, 0x01, 0x41, 0x01, 0x02, 0x41, 0x02}
		if got, err := cbor.Marshal(input); err != nil {
			t.Fatalf("error marshaling %v: %v", input, err)
		} else if !bytes.Equal(got, expect) {
			t.Errorf("expected % x, got % x", expect, got)
		}
	})

	t.Run("nested", func(t *testing.T) {
		input := map[string]any{"LockPCR": map[string]any{"index": uint16(20)}}
		expect := append(append([]byte{0xa1, 0x67}, "LockPCR"...), append(append([]byte{0xa1, 0x65}, "index"...), 0x14)...)
		if got, err := cbor.Marshal(input); err != nil {
			t.Fatalf("error marshaling %v: %v", input, err)
		} else if !bytes.Equal(got, expect) {
			t.Errorf("expected % x, got % x", expect, got)
		}
	})
}

func TestEncodeTag(t *testing.T) {
	got, err := cbor.Marshal(cbor.Tag{Num: 18, Val: []any{}})
	if err != nil {
		t.Fatal(err)
	}
	if expect := []byte{0xd2, 0x80}; !bytes.Equal(got, expect) {
		t.Errorf("expected % x, got % x", expect, got)
	}
}

func TestEncodeRawBytes(t *testing.T) {
	got, err := cbor.Marshal([]any{cbor.RawBytes{0x01}, cbor.RawBytes(nil)})
	if err != nil {
		t.Fatal(err)
	}
	if expect := []byte{0x82, 0x01}; !bytes.Equal(got, expect) {
		t.Errorf("expected % x, got % x", expect, got)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := cbor.Marshal(3.14)
	var unsupported cbor.ErrUnsupportedType
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}

func TestDecodeAny(t *testing.T) {
	for _, test := range []struct {
		input  []byte
		expect any
	}{
		{input: []byte{0x00}, expect: uint64(0)},
		{input: []byte{0x18, 0x64}, expect: uint64(100)},
		{input: []byte{0x38, 0x63}, expect: int64(-100)},
		{input: []byte{0x43, 0x01, 0x02, 0x03}, expect: []byte{0x01, 0x02, 0x03}},
		{input: []byte{0x64, 0x49, 0x45, 0x54, 0x46}, expect: "IETF"},
		{input: []byte{0xf4}, expect: false},
		{input: []byte{0xf5}, expect: true},
		{input: []byte{0xf6}, expect: nil},
		{input: []byte{0xf7}, expect: nil},
		{input: []byte{0x82, 0x01, 0x40}, expect: []any{uint64(1), []byte{}}},
		{input: []byte{0xa1, 0x61, 0x61, 0x01}, expect: map[any]any{"a": uint64(1)}},
		{input: []byte{0xa1, 0x20, 0xf5}, expect: map[any]any{int64(-1): true}},
		{input: []byte{0xc1, 0x1a, 0x51, 0x4b, 0x67, 0xb0}, expect: cbor.Tag{Num: 1, Val: uint64(1363896240)}},
	} {
		var got any
		if err := cbor.Unmarshal(test.input, &got); err != nil {
			t.Errorf("error unmarshaling % x: %v", test.input, err)
			continue
		}
		if !reflect.DeepEqual(got, test.expect) {
			t.Errorf("unmarshaling % x; expected %#v, got %#v", test.input, test.expect, got)
		}
	}
}

func TestDecodeTyped(t *testing.T) {
	t.Run("uint64", func(t *testing.T) {
		var u uint64
		if err := cbor.Unmarshal([]byte{0x19, 0x03, 0xe8}, &u); err != nil {
			t.Fatal(err)
		}
		if u != 1000 {
			t.Errorf("expected 1000, got %d", u)
		}
		if err := cbor.Unmarshal([]byte{0x20}, &u); err == nil {
			t.Error("expected error decoding negative into uint64")
		}
	})

	t.Run("int64", func(t *testing.T) {
		var i int64
		if err := cbor.Unmarshal([]byte{0x20}, &i); err != nil || i != -1 {
			t.Errorf("expected -1, got %d (err=%v)", i, err)
		}
		if err := cbor.Unmarshal([]byte{0x1b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, &i); err == nil {
			t.Error("expected overflow error")
		}
	})

	t.Run("bytes", func(t *testing.T) {
		var b []byte
		if err := cbor.Unmarshal([]byte{0x42, 0x01, 0x02}, &b); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(b, []byte{0x01, 0x02}) {
			t.Errorf("expected 01 02, got % x", b)
		}
		if err := cbor.Unmarshal([]byte{0x62, 0x01, 0x02}, &b); err == nil {
			t.Error("expected error decoding text into []byte")
		}
	})

	t.Run("string", func(t *testing.T) {
		var s string
		if err := cbor.Unmarshal([]byte{0x62, 0x68, 0x69}, &s); err != nil || s != "hi" {
			t.Errorf("expected hi, got %q (err=%v)", s, err)
		}
		if err := cbor.Unmarshal([]byte{0x42, 0x68, 0x69}, &s); err == nil {
			t.Error("expected error decoding bytes into string")
		}
	})

	t.Run("bool", func(t *testing.T) {
		var b bool
		if err := cbor.Unmarshal([]byte{0xf5}, &b); err != nil || !b {
			t.Errorf("expected true, got %t (err=%v)", b, err)
		}
	})

	t.Run("raw bytes", func(t *testing.T) {
		input := []byte{0xa1, 0x61, 0x61, 0x82, 0x01, 0xd2, 0x40}
		var raw cbor.RawBytes
		if err := cbor.Unmarshal(input, &raw); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(raw, input) {
			t.Errorf("expected % x, got % x", input, raw)
		}
	})

	t.Run("unsupported target", func(t *testing.T) {
		var f float64
		if err := cbor.Unmarshal([]byte{0x01}, &f); err == nil {
			t.Error("expected error decoding into float64")
		}
	})
}

func TestDecodeStream(t *testing.T) {
	dec := cbor.NewDecoder(bytes.NewReader([]byte{0x01, 0x61, 0x61, 0xf6}))
	for _, expect := range []any{uint64(1), "a", nil} {
		var got any
		if err := dec.Decode(&got); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, expect) {
			t.Errorf("expected %#v, got %#v", expect, got)
		}
	}
	var end any
	if err := dec.Decode(&end); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	nested := append(bytes.Repeat([]byte{0x81}, cbor.MaxNestingDepth+1), 0x00)

	for _, test := range []struct {
		name   string
		input  []byte
		expect error
	}{
		{name: "empty", input: []byte{}, expect: io.EOF},
		{name: "truncated byte string", input: []byte{0x42, 0x01}, expect: io.ErrUnexpectedEOF},
		{name: "truncated argument", input: []byte{0x19, 0x01}, expect: io.ErrUnexpectedEOF},
		{name: "truncated array", input: []byte{0x82, 0x01}, expect: io.ErrUnexpectedEOF},
		{name: "truncated map value", input: []byte{0xa1, 0x61, 0x61}, expect: io.ErrUnexpectedEOF},
		{name: "trailing data", input: []byte{0x01, 0x02}, expect: cbor.ErrMalformed},
		{name: "duplicate map key", input: []byte{0xa2, 0x61, 0x61, 0x01, 0x61, 0x61, 0x02}, expect: cbor.ErrMalformed},
		{name: "huge string", input: []byte{0x5a, 0xff, 0xff, 0xff, 0xff}, expect: cbor.ErrMalformed},
		{name: "huge array", input: []byte{0x9a, 0xff, 0xff, 0xff, 0xff}, expect: cbor.ErrMalformed},
		{name: "reserved additional info", input: []byte{0x1c}, expect: cbor.ErrMalformed},
		{name: "too deep", input: nested, expect: cbor.ErrMalformed},
		{name: "negative overflow", input: []byte{0x3b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, expect: cbor.ErrMalformed},
	} {
		t.Run(test.name, func(t *testing.T) {
			var v any
			if err := cbor.Unmarshal(test.input, &v); !errors.Is(err, test.expect) {
				t.Errorf("expected %v, got %v", test.expect, err)
			}
		})
	}

	for _, test := range []struct {
		name  string
		input []byte
	}{
		{name: "indefinite byte string", input: []byte{0x5f, 0x41, 0x01, 0xff}},
		{name: "half float", input: []byte{0xf9, 0x3c, 0x00}},
		{name: "unassigned simple", input: []byte{0xe0}},
		{name: "array map key", input: []byte{0xa1, 0x80, 0x01}},
	} {
		t.Run(test.name, func(t *testing.T) {
			var v any
			var unsupported cbor.ErrUnsupportedType
			if err := cbor.Unmarshal(test.input, &v); !errors.As(err, &unsupported) {
				t.Errorf("expected unsupported type error, got %v", err)
			}
		})
	}
}

func TestRoundTripAny(t *testing.T) {
	input := map[any]any{
		"module_id":   "i-0123456789abcdef0-enc0123456789abcdef",
		"locked_pcrs": []any{uint64(0), uint64(1)},
		"digest":      "SHA384",
		"data":        bytes.Repeat([]byte{0x5a}, 48),
		"lock":        true,
		"nonce":       nil,
		int64(-7):     uint64(1),
	}
	b, err := cbor.Marshal(input)
	if err != nil {
		t.Fatal(err)
	}
	var got any
	if err := cbor.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, input) {
		t.Errorf("expected %#v, got %#v", input, got)
	}

	again, err := cbor.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, b) {
		t.Errorf("re-encoding is not deterministic: % x vs % x", b, again)
	}
}
