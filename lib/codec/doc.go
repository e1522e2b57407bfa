// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Driftwood's standard CBOR encoding
// configuration.
//
// Driftwood uses two serialization formats with a clear boundary:
//
//   - Canonical JSON for everything signed or hashed: metadata
//     documents, patch records, and the HTTP surface (lib/canonical
//     is the sole pre-image for hashes and signatures).
//   - CBOR for local, unsigned state: the mirror-sync cursor file and
//     similar on-disk records that never travel between nodes.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC
// 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces
// identical bytes.
//
// For buffer-oriented operations (state files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// # Struct Tag Rules
//
//   - `cbor` tag: the type is ONLY ever serialized as CBOR (on-disk
//     state files).
//   - `json` tag: the type may be serialized as BOTH JSON and CBOR;
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor`
//     tags are absent, so a single `json` tag controls field naming
//     and omitempty for both formats.
//
// Never use both `cbor` and `json` tags on the same field.
package codec
