// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package canonical implements Driftwood's canonical JSON form.
//
// The canonical form is the exclusive pre-image for every content hash
// and every signature in the metadata model: a document is serialized
// canonically, hashed, and the hash (or a digest of it) is what gets
// signed. Two documents that are logically equal therefore always
// produce identical bytes, regardless of field order or Unicode
// representation in the input.
//
// The rules are:
//
//   - Object keys are sorted bytewise ascending.
//   - All strings (keys and values) are NFC-normalized.
//   - Numbers must be integers. Floating-point values are rejected
//     with ErrFloat; there is no canonical float representation.
//   - No insignificant whitespace.
//
// Encoding is idempotent: Encode(Decode(Encode(v))) == Encode(v).
package canonical
