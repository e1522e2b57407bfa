// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// ContentHash addresses a stored document blob under two digests at
// once: the legacy SHA-1 (the git blob object id) and a SHA-256 over
// the same pre-image. Carrying both lets the format survive a
// migration of the underlying object store without breaking existing
// links.
type ContentHash struct {
	SHA1 [20]byte
	SHA2 [32]byte
}

// ContentHashOf computes the ContentHash of a document blob. Both
// digests cover the git blob header followed by the content, so the
// SHA-1 half equals the git object id of the blob.
func ContentHashOf(content []byte) ContentHash {
	header := "blob " + strconv.Itoa(len(content)) + "\x00"

	h1 := sha1.New()
	h1.Write([]byte(header))
	h1.Write(content)

	h2 := sha256.New()
	h2.Write([]byte(header))
	h2.Write(content)

	var ch ContentHash
	copy(ch.SHA1[:], h1.Sum(nil))
	copy(ch.SHA2[:], h2.Sum(nil))
	return ch
}

// String renders the legacy digest, which is also the git object id.
func (h ContentHash) String() string {
	return hex.EncodeToString(h.SHA1[:])
}

// Equal compares on the legacy digest, and additionally on the
// SHA-256 digest when both sides carry one.
func (h ContentHash) Equal(other ContentHash) bool {
	if h.SHA1 != other.SHA1 {
		return false
	}
	var zero [32]byte
	if h.SHA2 != zero && other.SHA2 != zero {
		return h.SHA2 == other.SHA2
	}
	return true
}

type contentHashWire struct {
	SHA1 string `json:"sha1"`
	SHA2 string `json:"sha2"`
}

// MarshalJSON implements json.Marshaler.
func (h ContentHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(contentHashWire{
		SHA1: hex.EncodeToString(h.SHA1[:]),
		SHA2: hex.EncodeToString(h.SHA2[:]),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *ContentHash) UnmarshalJSON(data []byte) error {
	var wire contentHashWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := decodeHexInto(h.SHA1[:], wire.SHA1); err != nil {
		return fmt.Errorf("metadata: content hash sha1: %w", err)
	}
	if err := decodeHexInto(h.SHA2[:], wire.SHA2); err != nil {
		return fmt.Errorf("metadata: content hash sha2: %w", err)
	}
	return nil
}

// KeyID is the SHA-256 digest of a public key's SSH wire encoding.
type KeyID [32]byte

// KeyIDFromHex parses a 64-character hex string.
func KeyIDFromHex(s string) (KeyID, error) {
	var id KeyID
	if err := decodeHexInto(id[:], s); err != nil {
		return KeyID{}, fmt.Errorf("metadata: key id: %w", err)
	}
	return id, nil
}

func (id KeyID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler. KeyID is used as a
// JSON map key, which requires text encoding.
func (id KeyID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *KeyID) UnmarshalText(text []byte) error {
	return decodeHexInto(id[:], string(text))
}

// IdentityID names an identity for its whole lifetime: the SHA-256
// digest of the canonical form of the genesis revision.
type IdentityID [32]byte

// IdentityIDFromHex parses a 64-character hex string.
func IdentityIDFromHex(s string) (IdentityID, error) {
	var id IdentityID
	if err := decodeHexInto(id[:], s); err != nil {
		return IdentityID{}, fmt.Errorf("metadata: identity id: %w", err)
	}
	return id, nil
}

func (id IdentityID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id IdentityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *IdentityID) UnmarshalText(text []byte) error {
	return decodeHexInto(id[:], string(text))
}

func decodeHexInto(dst []byte, s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
