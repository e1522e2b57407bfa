// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package canonical

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeSortsKeys(t *testing.T) {
	got, err := Encode(map[string]any{
		"zulu":  1,
		"alpha": 2,
		"mike":  map[string]any{"b": 1, "a": 2},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"alpha":2,"mike":{"a":2,"b":1},"zulu":1}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEncodeStructTags(t *testing.T) {
	type doc struct {
		B string `json:"b"`
		A int    `json:"a"`
		C []int  `json:"c,omitempty"`
	}
	got, err := Encode(doc{B: "x", A: 7})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"a":7,"b":"x"}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEncodeNormalizesNFC(t *testing.T) {
	// U+0065 U+0301 (e + combining acute) normalizes to U+00E9.
	decomposed := "café"
	composed := "café"

	a, err := Encode(map[string]any{decomposed: decomposed})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(map[string]any{composed: composed})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("NFC forms differ: %s vs %s", a, b)
	}
}

func TestEncodeRejectsFloats(t *testing.T) {
	for _, v := range []any{
		3.14,
		map[string]any{"x": 0.5},
		[]any{1, 2, 2.5},
	} {
		if _, err := Encode(v); !errors.Is(err, ErrFloat) {
			t.Errorf("Encode(%v): err = %v, want ErrFloat", v, err)
		}
	}
}

func TestEncodeAcceptsLargeIntegers(t *testing.T) {
	got, err := Encode(map[string]any{"n": uint64(1) << 63})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"n":9223372036854775808}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestEncodeNoHTMLEscaping(t *testing.T) {
	got, err := Encode(map[string]any{"s": "a<b&c>d"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"s":"a<b&c>d"}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestTransformIdempotent(t *testing.T) {
	input := []byte(`{ "z": [1, 2, {"y": "x"}], "a": null, "b": true }`)
	once, err := Transform(input)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	twice, err := Transform(once)
	if err != nil {
		t.Fatalf("Transform (second pass): %v", err)
	}
	if !bytes.Equal(once, twice) {
		t.Fatalf("not idempotent: %s vs %s", once, twice)
	}
}

func TestTransformRejectsTrailingData(t *testing.T) {
	if _, err := Transform([]byte(`{} {}`)); err == nil {
		t.Fatal("expected error for trailing data")
	}
}
