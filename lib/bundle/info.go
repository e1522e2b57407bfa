// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"encoding/hex"
	"fmt"
)

// Hash is the bundle hash (see Header.Hash). It names the bundle
// file on disk and in the /bundles HTTP namespace.
type Hash [32]byte

// ParseHash parses a 64-character hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return Hash{}, fmt.Errorf("bundle: invalid hash %q", s)
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Checksum is the SHA-256 over the entire bundle file, header
// included. Unlike Hash it is sensitive to byte-level encoding.
type Checksum [32]byte

func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalText implements encoding.TextMarshaler.
func (c Checksum) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Checksum) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("bundle: invalid checksum %q", text)
	}
	copy(c[:], raw)
	return nil
}

// Info describes a stored bundle file.
type Info struct {
	Len      uint64   `json:"len"`
	Hash     Hash     `json:"hash"`
	Checksum Checksum `json:"checksum"`
	URIs     []string `json:"uris,omitempty"`
}

// Expect is what a fetch should produce: used to verify downloads
// against the record that announced them.
type Expect struct {
	Len      uint64
	Hash     Hash
	Checksum *Checksum
}
