// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// Named-value payloads carry a command handler's result inside an
// ENSURE_DISPLAY broadcast so every instance binds the same value —
// typically a chat message id that a later edit must target. The wire
// form is "<name>=<tag><text>" with a one-letter type tag:
//
//	f  float64
//	i  int64
//	s  string
//
// A nil result encodes as a bare "<name>=" and decodes back to nil.
// Strings carry no quoting, so a string value must not contain the
// envelope separator; EncodeText rejects the whole payload otherwise.

// EncodeNamedValue renders name and value for the wire. The value must
// be nil, an int, int64, float64, or string; anything else is a
// programming defect in the calling handler and panics.
func EncodeNamedValue(name string, value any) string {
	switch v := value.(type) {
	case nil:
		return name + "="
	case float64:
		return name + "=f" + strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return name + "=i" + strconv.FormatInt(int64(v), 10)
	case int64:
		return name + "=i" + strconv.FormatInt(v, 10)
	case string:
		return name + "=s" + v
	default:
		panic(fmt.Sprintf("coord: named value %q has unsupported type %T", name, value))
	}
}

// DecodeNamedValue parses a named-value payload produced by a peer.
// Unlike encoding, a bad input here comes off the wire — possibly from
// a newer instance with a tag we do not know — so it is an error, not
// a panic.
func DecodeNamedValue(payload string) (name string, value any, err error) {
	name, rest, ok := strings.Cut(payload, "=")
	if !ok {
		return "", nil, fmt.Errorf("coord: named value %q has no separator", payload)
	}
	if name == "" {
		return "", nil, fmt.Errorf("coord: named value %q has empty name", payload)
	}
	if rest == "" {
		return name, nil, nil
	}

	tag, text := rest[0], rest[1:]
	switch tag {
	case 'f':
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return "", nil, fmt.Errorf("coord: named value %q: bad float: %w", payload, err)
		}
		return name, f, nil
	case 'i':
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("coord: named value %q: bad int: %w", payload, err)
		}
		return name, i, nil
	case 's':
		return name, text, nil
	default:
		return "", nil, fmt.Errorf("coord: named value %q has unknown type tag %q", payload, string(tag))
	}
}

// normalizeValue maps a handler result onto the wire value domain
// before it is bound locally, so the master binds exactly what its
// followers will decode. Panics on unsupported types, same as
// EncodeNamedValue.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case nil, float64, int64, string:
		return v
	case int:
		return int64(v)
	default:
		panic(fmt.Sprintf("coord: unsupported named value type %T", value))
	}
}
