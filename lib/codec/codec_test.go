// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name    string         `cbor:"name"`
	Count   int            `cbor:"count"`
	Tags    []string       `cbor:"tags,omitempty"`
	Binding map[string]int `cbor:"binding,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := sample{
		Name:    "lobby-7",
		Count:   3,
		Tags:    []string{"eu", "open"},
		Binding: map[string]int{"lobbymsg7": 991234},
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != 2 || out.Binding["lobbymsg7"] != 991234 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestDeterministic(t *testing.T) {
	// Map iteration order must not leak into the encoding.
	in := map[string]int{"c": 3, "a": 1, "b": 2, "z": 26, "m": 13}
	first, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		again, err := Marshal(in)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs from first", i)
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	// A newer producer may add fields; an older consumer must not
	// fail on them.
	data, err := Marshal(map[string]any{"name": "x", "count": 1, "future": true})
	if err != nil {
		t.Fatal(err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if out.Name != "x" || out.Count != 1 {
		t.Fatalf("decoded %+v", out)
	}
}
