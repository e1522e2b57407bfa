// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key is a public key in SSH authorized_keys form, stripped of its
// comment. Keys serialize as the authorized_keys string so documents
// stay readable and diffable.
type Key struct {
	pub ssh.PublicKey
}

// NewKey wraps an already-parsed SSH public key.
func NewKey(pub ssh.PublicKey) Key {
	return Key{pub: pub}
}

// ParseKey parses a single authorized_keys line; any comment is
// discarded.
func ParseKey(s string) (Key, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(s))
	if err != nil {
		return Key{}, fmt.Errorf("metadata: parse key: %w", err)
	}
	return Key{pub: pub}, nil
}

// ID is the SHA-256 digest of the key's SSH wire encoding.
func (k Key) ID() KeyID {
	return KeyID(sha256.Sum256(k.pub.Marshal()))
}

// Public returns the underlying SSH public key.
func (k Key) Public() ssh.PublicKey {
	return k.pub
}

// Verify checks sig over payload with this key.
func (k Key) Verify(payload []byte, sig Signature) error {
	return k.pub.Verify(payload, &ssh.Signature{
		Format: k.pub.Type(),
		Blob:   sig,
	})
}

func (k Key) String() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k.pub)))
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	if k.pub == nil {
		return nil, fmt.Errorf("metadata: cannot marshal zero Key")
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	key, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = key
	return nil
}

// KeySet is a set of keys indexed by their id. It serializes as a
// JSON array of authorized_keys strings, ordered by key id so the
// canonical form is stable.
type KeySet map[KeyID]Key

// NewKeySet indexes the given keys by id.
func NewKeySet(keys ...Key) KeySet {
	ks := make(KeySet, len(keys))
	for _, key := range keys {
		ks[key.ID()] = key
	}
	return ks
}

// IDs returns the key ids in sorted order.
func (ks KeySet) IDs() []KeyID {
	ids := make([]KeyID, 0, len(ks))
	for id := range ks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return hex.EncodeToString(ids[i][:]) < hex.EncodeToString(ids[j][:])
	})
	return ids
}

// MarshalJSON implements json.Marshaler.
func (ks KeySet) MarshalJSON() ([]byte, error) {
	keys := make([]Key, 0, len(ks))
	for _, id := range ks.IDs() {
		keys = append(keys, ks[id])
	}
	return json.Marshal(keys)
}

// UnmarshalJSON implements json.Unmarshaler.
func (ks *KeySet) UnmarshalJSON(data []byte) error {
	var keys []Key
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*ks = NewKeySet(keys...)
	return nil
}

// Signature is a raw SSH signature blob, hex-encoded on the wire.
type Signature []byte

// SignatureFromHex parses a hex-encoded signature.
func SignatureFromHex(s string) (Signature, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("metadata: signature: %w", err)
	}
	return Signature(raw), nil
}

func (s Signature) String() string {
	return hex.EncodeToString(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*s = raw
	return nil
}

// sortedSignatures returns the signature map entries ordered by key
// id, for deterministic verification order.
func sortedSignatures(sigs map[KeyID]Signature) []sigEntry {
	entries := make([]sigEntry, 0, len(sigs))
	for id, sig := range sigs {
		entries = append(entries, sigEntry{id, sig})
	}
	sort.Slice(entries, func(i, j int) bool {
		return hex.EncodeToString(entries[i].key[:]) < hex.EncodeToString(entries[j].key[:])
	})
	return entries
}

type sigEntry struct {
	key KeyID
	sig Signature
}
