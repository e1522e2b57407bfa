// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Identity is one revision of a participant's self-certifying key
// document. Revisions form a hash-linked chain through Prev; the
// genesis revision's canonical digest is the stable IdentityID.
type Identity struct {
	FmtVersion FmtVersion
	Prev       *ContentHash
	Keys       KeySet

	// Threshold is the number of valid signatures a revision needs.
	// When Root is set, the root role's key subset and threshold are
	// used instead and Threshold is ignored (legacy form).
	Threshold int
	Root      *RootRole

	// Mirrors are URLs where this identity's own repositories can be
	// found. Advisory, not verified.
	Mirrors []string

	Expires *time.Time
	Custom  Custom
}

// Custom is free-form, schemaless extension data carried verbatim in
// the canonical form.
type Custom = map[string]any

// RootRole restricts revision signing to a subset of the identity's
// keys.
type RootRole struct {
	Keys      []KeyID
	Threshold int
}

// IdentityResolver finds the predecessor revision named by a content
// hash, typically by reading the blob out of the object store.
type IdentityResolver func(ContentHash) (Signed[Identity], error)

type identityWire struct {
	FmtVersion  *FmtVersion         `json:"fmt_version,omitempty"`
	SpecVersion *FmtVersion         `json:"spec_version,omitempty"` // pre-0.2 field name
	Prev        *ContentHash        `json:"prev"`
	Keys        KeySet              `json:"keys"`
	Threshold   *int                `json:"threshold,omitempty"`
	Roles       *identityRolesWire  `json:"roles,omitempty"`
	Mirrors     []string            `json:"mirrors"`
	Expires     *time.Time          `json:"expires"`
	Custom      Custom              `json:"custom"`
}

type identityRolesWire struct {
	Root rootRoleWire `json:"root"`
}

type rootRoleWire struct {
	Keys      []KeyID `json:"keys"`
	Threshold int     `json:"threshold"`
}

// MarshalJSON implements json.Marshaler. Exactly one of "threshold"
// (legacy) or "roles" appears, matching the two accepted document
// shapes.
func (id Identity) MarshalJSON() ([]byte, error) {
	fv := id.FmtVersion
	wire := identityWire{
		FmtVersion: &fv,
		Prev:       id.Prev,
		Keys:       id.Keys,
		Expires:    id.Expires,
		Custom:     id.Custom,
	}
	if wire.Keys == nil {
		wire.Keys = KeySet{}
	}
	wire.Mirrors = append([]string{}, id.Mirrors...)
	sort.Strings(wire.Mirrors)
	if wire.Custom == nil {
		wire.Custom = Custom{}
	}
	if id.Root != nil {
		keys := append([]KeyID(nil), id.Root.Keys...)
		sortKeyIDs(keys)
		wire.Roles = &identityRolesWire{Root: rootRoleWire{
			Keys:      keys,
			Threshold: id.Root.Threshold,
		}}
	} else {
		t := id.Threshold
		wire.Threshold = &t
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *Identity) UnmarshalJSON(data []byte) error {
	var wire identityWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	version := wire.FmtVersion
	if version == nil {
		version = wire.SpecVersion
	}
	if version == nil {
		return fmt.Errorf("metadata: identity: missing fmt_version")
	}
	out := Identity{
		FmtVersion: *version,
		Prev:       wire.Prev,
		Keys:       wire.Keys,
		Mirrors:    wire.Mirrors,
		Expires:    wire.Expires,
		Custom:     wire.Custom,
	}
	switch {
	case wire.Roles != nil:
		if wire.Roles.Root.Threshold < 1 {
			return fmt.Errorf("metadata: identity: root role threshold must be positive")
		}
		keys := append([]KeyID(nil), wire.Roles.Root.Keys...)
		sortKeyIDs(keys)
		out.Root = &RootRole{Keys: keys, Threshold: wire.Roles.Root.Threshold}
	case wire.Threshold != nil:
		if *wire.Threshold < 1 {
			return fmt.Errorf("metadata: identity: threshold must be positive")
		}
		out.Threshold = *wire.Threshold
	default:
		return fmt.Errorf("metadata: identity: missing threshold or roles")
	}
	*id = out
	return nil
}

// Canonical returns the canonical form of this revision, including
// the envelope type tag. This is the sole pre-image for the signing
// payload and for the identity id.
func (id Identity) Canonical() ([]byte, error) {
	return envelope(TypeIdentity, id)
}

// ID computes the stable identity id. Defined only for the genesis
// revision; any other revision fails with ErrNotRoot.
func (id Identity) ID() (IdentityID, error) {
	if id.Prev != nil {
		return IdentityID{}, ErrNotRoot
	}
	c, err := id.Canonical()
	if err != nil {
		return IdentityID{}, err
	}
	return IdentityID(sha256.Sum256(c)), nil
}

// HasAncestor reports whether ancestor appears in this revision's
// predecessor chain.
func (id Identity) HasAncestor(ancestor ContentHash, findPrev IdentityResolver) (bool, error) {
	cur := id
	for {
		switch {
		case cur.Prev == nil:
			return false, nil
		case cur.Prev.Equal(ancestor):
			return true, nil
		}
		prev, err := findPrev(*cur.Prev)
		if err != nil {
			return false, err
		}
		cur = prev.Signed
	}
}

// Ancestors returns the full predecessor chain, newest first.
func (id Identity) Ancestors(findPrev IdentityResolver) ([]Signed[Identity], error) {
	var chain []Signed[Identity]
	cur := id
	for cur.Prev != nil {
		prev, err := findPrev(*cur.Prev)
		if err != nil {
			return nil, err
		}
		chain = append(chain, prev)
		cur = prev.Signed
	}
	return chain, nil
}

// signingKeys returns the key set and threshold that revision
// signatures are checked against: either the whole key set with the
// legacy threshold, or the root role's subset.
func (id Identity) signingKeys() (KeySet, int) {
	if id.Root == nil {
		return id.Keys, id.Threshold
	}
	subset := make(KeySet, len(id.Root.Keys))
	for _, kid := range id.Root.Keys {
		if key, ok := id.Keys[kid]; ok {
			subset[kid] = key
		}
	}
	return subset, id.Root.Threshold
}

func (id Identity) verifySignatures(sigs map[KeyID]Signature, payload []byte) error {
	keys, threshold := id.signingKeys()
	return verifyThreshold(payload, threshold, sigs, keys)
}

// verifyThreshold counts valid signatures by keys in the authorized
// set. A bad signature by an authorized key is logged and skipped;
// only falling short of the threshold is fatal.
func verifyThreshold(payload []byte, threshold int, sigs map[KeyID]Signature, keys KeySet) error {
	need := threshold
	for _, entry := range sortedSignatures(sigs) {
		key, ok := keys[entry.key]
		if !ok {
			continue
		}
		if err := key.Verify(payload, entry.sig); err == nil {
			need--
		} else {
			slog.Warn("bad signature", "key", entry.key)
		}
		if need == 0 {
			break
		}
	}
	if need > 0 {
		return ErrSignatureThreshold
	}
	return nil
}

// VerifiedIdentity is the result of a successful chain verification:
// the stable id plus the current (head) revision.
type VerifiedIdentity struct {
	id  IdentityID
	cur Identity
}

func (v *VerifiedIdentity) ID() IdentityID {
	return v.id
}

func (v *VerifiedIdentity) Identity() Identity {
	return v.cur
}

// DidSign reports whether sig is valid over msg for any of the
// identity's current keys.
func (v *VerifiedIdentity) DidSign(msg []byte, sig Signature) bool {
	for _, key := range v.cur.Keys {
		if key.Verify(msg, sig) == nil {
			return true
		}
	}
	return false
}

// VerifyIdentity verifies the whole revision chain of s at time now.
//
// At every link the presented signature set must meet the revision's
// own threshold under its own keys and, when a predecessor exists,
// the predecessor's threshold under the predecessor's keys. The walk
// then continues from the predecessor with the predecessor's own
// recorded signatures, down to genesis. Only the head revision's
// expiry is checked.
func VerifyIdentity(s Signed[Identity], now time.Time, findPrev IdentityResolver) (*VerifiedIdentity, error) {
	if exp := s.Signed.Expires; exp != nil && exp.Before(now) {
		return nil, ErrExpired
	}

	cur, sigs := s.Signed, s.Signatures
	for {
		if !IdentityFmtVersion.Compatible(cur.FmtVersion) {
			return nil, ErrIncompatibleVersion
		}
		c, err := cur.Canonical()
		if err != nil {
			return nil, err
		}
		payload := signingPayload(c)
		if err := cur.verifySignatures(sigs, payload); err != nil {
			return nil, err
		}
		if cur.Prev == nil {
			return &VerifiedIdentity{
				id:  IdentityID(sha256.Sum256(c)),
				cur: s.Signed,
			}, nil
		}
		prev, err := findPrev(*cur.Prev)
		if err != nil {
			return nil, fmt.Errorf("metadata: resolve predecessor %s: %w", cur.Prev, err)
		}
		if err := prev.Signed.verifySignatures(sigs, payload); err != nil {
			return nil, err
		}
		cur, sigs = prev.Signed, prev.Signatures
	}
}

func sortKeyIDs(ids []KeyID) {
	sort.Slice(ids, func(i, j int) bool {
		return hex.EncodeToString(ids[i][:]) < hex.EncodeToString(ids[j][:])
	})
}
