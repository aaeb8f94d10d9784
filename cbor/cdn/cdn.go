// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

// Package cdn implements CBOR Diagnostic Notation.
//
// CBOR is a binary interchange format. To facilitate documentation and
// debugging, in particular of NSM request and response dumps, this package
// renders CBOR in a human-readable diagnostic notation and parses it back.
// All actual interchange always happens in the binary format.
//
// Only base16 notation is supported for binary values.
//
//	h'12345678' // supported
//	b32'CI2FM6A' or b64'EjRWeA' // not supported
//
// Map entries are rendered in the core deterministic order of their encoded
// keys, so output is stable and suitable for fixtures.
//
// Example:
//
//	s, _ := cdn.FromCBOR(cborBytes)
//
//	cborBytes, _ := cdn.ToCBOR(s)
package cdn

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fido-device-onboard/go-nsm/cbor"
)

// Sentinel errors
var (
	ErrInvalidInput        = errors.New("cdn: unexpected input")
	ErrInvalidEncodingType = errors.New("cdn: invalid encoding type")
)

// FromCBOR re-encodes CBOR bytes as a diagnostic string.
func FromCBOR(c []byte) (string, error) {
	var v any
	if err := cbor.Unmarshal(c, &v); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var sb strings.Builder
	if err := render(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ToCBOR marshals a diagnostic string into CBOR.
func ToCBOR(s string) ([]byte, error) {
	p := &parser{s: s}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.spaces()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("%w: trailing characters at offset %d", ErrInvalidInput, p.pos)
	}
	return cbor.Marshal(v)
}

func render(sb *strings.Builder, v any) error {
	switch v := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(strconv.FormatBool(v))
	case uint64:
		sb.WriteString(strconv.FormatUint(v, 10))
	case int64:
		sb.WriteString(strconv.FormatInt(v, 10))
	case []byte:
		sb.WriteString("h'")
		sb.WriteString(hex.EncodeToString(v))
		sb.WriteString("'")
	case string:
		quoted, err := json.Marshal(v)
		if err != nil {
			return err
		}
		sb.Write(quoted)
	case []any:
		sb.WriteString("[")
		for i, item := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			if err := render(sb, item); err != nil {
				return err
			}
		}
		sb.WriteString("]")
	case map[any]any:
		return renderMap(sb, v)
	case cbor.Tag:
		sb.WriteString(strconv.FormatUint(v.Num, 10))
		sb.WriteString("(")
		if err := render(sb, v.Val); err != nil {
			return err
		}
		sb.WriteString(")")
	default:
		return fmt.Errorf("%w: %T", ErrInvalidEncodingType, v)
	}
	return nil
}

func renderMap(sb *strings.Builder, m map[any]any) error {
	type entry struct {
		encoded []byte
		key     any
	}
	entries := make([]entry, 0, len(m))
	for k := range m {
		encoded, err := cbor.Marshal(k)
		if err != nil {
			return err
		}
		entries = append(entries, entry{encoded: encoded, key: k})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].encoded, entries[j].encoded) < 0
	})

	sb.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := render(sb, e.key); err != nil {
			return err
		}
		sb.WriteString(": ")
		if err := render(sb, m[e.key]); err != nil {
			return err
		}
	}
	sb.WriteString("}")
	return nil
}

// parser is a recursive descent parser over a diagnostic string.
type parser struct {
	s     string
	pos   int
	depth int
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrInvalidInput, p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) spaces() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() (byte, bool) {
	p.spaces()
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *parser) expect(c byte) error {
	got, ok := p.peek()
	if !ok {
		return p.errorf("expected %q, got end of input", c)
	}
	if got != c {
		return p.errorf("expected %q, got %q", c, got)
	}
	p.pos++
	return nil
}

func (p *parser) value() (any, error) {
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}
	switch {
	case c == '[':
		return p.nested(p.array)
	case c == '{':
		return p.nested(p.mapping)
	case c == '"':
		return p.text()
	case c == 'h' && strings.HasPrefix(p.s[p.pos:], "h'"):
		return p.hexBytes()
	case c == '-' || isDigit(c):
		return p.number()
	case isLetter(c):
		return p.keyword()
	}
	return nil, p.errorf("unexpected character %q", c)
}

func (p *parser) nested(fn func() (any, error)) (any, error) {
	if p.depth >= cbor.MaxNestingDepth {
		return nil, p.errorf("nesting exceeds max depth %d", cbor.MaxNestingDepth)
	}
	p.depth++
	defer func() { p.depth-- }()
	return fn()
}

func (p *parser) array() (any, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	arr := []any{}
	if c, ok := p.peek(); ok && c == ']' {
		p.pos++
		return arr, nil
	}
	for {
		item, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)

		c, ok := p.peek()
		switch {
		case ok && c == ',':
			p.pos++
		case ok && c == ']':
			p.pos++
			return arr, nil
		default:
			return nil, p.errorf("expected ',' or ']' in array")
		}
	}
}

func (p *parser) mapping() (any, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	m := map[any]any{}
	if c, ok := p.peek(); ok && c == '}' {
		p.pos++
		return m, nil
	}
	for {
		key, err := p.value()
		if err != nil {
			return nil, err
		}
		switch key.(type) {
		case uint64, int64, string, bool:
		default:
			return nil, p.errorf("map key of type %T is not supported", key)
		}
		if _, dup := m[key]; dup {
			return nil, p.errorf("duplicate map key %v", key)
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		m[key] = val

		c, ok := p.peek()
		switch {
		case ok && c == ',':
			p.pos++
		case ok && c == '}':
			p.pos++
			return m, nil
		default:
			return nil, p.errorf("expected ',' or '}' in map")
		}
	}
}

func (p *parser) text() (any, error) {
	start := p.pos
	p.pos++ // opening quote
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			p.pos++
			var s string
			if err := json.Unmarshal([]byte(p.s[start:p.pos]), &s); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
			}
			return s, nil
		default:
			p.pos++
		}
	}
	return nil, p.errorf("unterminated text string")
}

func (p *parser) hexBytes() (any, error) {
	p.pos += len("h'")
	end := strings.IndexByte(p.s[p.pos:], '\'')
	if end < 0 {
		return nil, p.errorf("unterminated byte string")
	}
	digits := p.s[p.pos : p.pos+end]
	b, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	p.pos += end + 1
	return b, nil
}

func (p *parser) number() (any, error) {
	start := p.pos
	if p.s[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.s) && isDigit(p.s[p.pos]) {
		p.pos++
	}
	lit := p.s[start:p.pos]

	if lit[0] == '-' {
		i, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if i >= 0 {
			return uint64(i), nil
		}
		return i, nil
	}

	u, err := strconv.ParseUint(lit, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	// A number directly followed by an open paren is a tag number
	if p.pos < len(p.s) && p.s[p.pos] == '(' {
		p.pos++
		val, err := p.nested(p.value)
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return cbor.Tag{Num: u, Val: val}, nil
	}
	return u, nil
}

func (p *parser) keyword() (any, error) {
	start := p.pos
	for p.pos < len(p.s) && isLetter(p.s[p.pos]) {
		p.pos++
	}
	switch word := p.s[start:p.pos]; word {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null", "undefined":
		return nil, nil
	default:
		p.pos = start
		return nil, p.errorf("unknown keyword %q", word)
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') }
