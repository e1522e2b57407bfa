// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

// syncCursor is a representative on-disk state record using cbor
// struct tags (the convention for purely-internal types).
type syncCursor struct {
	DropRef string `cbor:"drop_ref"`
	Tip     string `cbor:"tip,omitempty"`
	Fetched int    `cbor:"fetched"`
}

// dualRecord uses json struct tags (the convention for types that
// serve both JSON and CBOR, relying on fxamacker's fallback).
type dualRecord struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := syncCursor{
		DropRef: "refs/drift/patches",
		Tip:     "4b825dc642cb6eb9a060e54bf8d69288fbee4904",
		Fetched: 42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded syncCursor
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	cursor := syncCursor{DropRef: "refs/drift/patches", Fetched: 7}

	first, err := Marshal(cursor)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(cursor)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	cursors := []syncCursor{
		{DropRef: "refs/drift/patches", Tip: "aa", Fetched: 1},
		{DropRef: "refs/drift/patches", Tip: "bb", Fetched: 2},
		{DropRef: "refs/drift/patches", Fetched: 0},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, cursor := range cursors {
		if err := encoder.Encode(cursor); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range cursors {
		var got syncCursor
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode item %d: %v", i, err)
		}
		if got != want {
			t.Errorf("item %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	// Types with json tags (no cbor tags) should encode/decode
	// correctly through our modes, using json tag names as CBOR map
	// keys.
	original := dualRecord{Version: 3, Name: "bundle"}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded dualRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("json-tag roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestOmitemptyRespected(t *testing.T) {
	withTip := syncCursor{DropRef: "r", Tip: "x", Fetched: 1}
	withoutTip := syncCursor{DropRef: "r", Fetched: 1}

	dataWith, err := Marshal(withTip)
	if err != nil {
		t.Fatal(err)
	}
	dataWithout, err := Marshal(withoutTip)
	if err != nil {
		t.Fatal(err)
	}
	if len(dataWithout) >= len(dataWith) {
		t.Errorf("omitempty not effective: without=%d bytes, with=%d bytes",
			len(dataWithout), len(dataWith))
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var cursor syncCursor
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &cursor); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestByteStringRoundtrip(t *testing.T) {
	// []byte fields must encode as CBOR byte strings (major type 2),
	// not text strings. This matters for carrying raw digests.
	type envelope struct {
		Checksum []byte `cbor:"checksum"`
	}

	original := envelope{Checksum: bytes.Repeat([]byte{0xAB}, 32)}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(decoded.Checksum, original.Checksum) {
		t.Errorf("byte string roundtrip: got %x, want %x", decoded.Checksum, original.Checksum)
	}
}
