// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

// maxDescriptionLen bounds free-text descriptions in drop documents.
const maxDescriptionLen = 128

// Drop is one revision of a patch space's governance document: which
// identities fill which roles, at which thresholds. Revisions form a
// hash-linked chain through Prev, verified like identity chains but
// with role membership resolved through identities.
type Drop struct {
	FmtVersion  FmtVersion
	Description string
	Prev        *ContentHash
	Roles       DropRoles
	Custom      Custom
}

// DropRoles assigns identities to the drop's responsibilities.
type DropRoles struct {
	// Root revises the drop document itself.
	Root Role
	// Snapshot countersigns accepted patch records. Acceptance
	// requires this role's threshold to be exactly 1.
	Snapshot Role
	// Mirrors signs the mirrors and alternates documents.
	Mirrors Role
	// Branches grants per-branch folding rights, keyed by refname.
	Branches map[gitstore.Refname]AnnotatedRole
}

// IDs returns the union of all member identities across all roles,
// sorted.
func (r DropRoles) IDs() []IdentityID {
	set := make(map[IdentityID]struct{})
	for _, id := range r.Root.IDs {
		set[id] = struct{}{}
	}
	for _, id := range r.Snapshot.IDs {
		set[id] = struct{}{}
	}
	for _, id := range r.Mirrors.IDs {
		set[id] = struct{}{}
	}
	for _, annotated := range r.Branches {
		for _, id := range annotated.IDs {
			set[id] = struct{}{}
		}
	}
	ids := make([]IdentityID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortIdentityIDs(ids)
	return ids
}

// Role is a set of member identities and the number of them that must
// sign for the role to act.
type Role struct {
	IDs       []IdentityID
	Threshold int
}

type roleWire struct {
	IDs       []IdentityID `json:"ids"`
	Threshold int          `json:"threshold"`
}

// MarshalJSON implements json.Marshaler.
func (r Role) MarshalJSON() ([]byte, error) {
	ids := append([]IdentityID(nil), r.IDs...)
	sortIdentityIDs(ids)
	if ids == nil {
		ids = []IdentityID{}
	}
	return json.Marshal(roleWire{IDs: ids, Threshold: r.Threshold})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Role) UnmarshalJSON(data []byte) error {
	var wire roleWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Threshold < 1 {
		return fmt.Errorf("metadata: role threshold must be positive")
	}
	ids := append([]IdentityID(nil), wire.IDs...)
	sortIdentityIDs(ids)
	*r = Role{IDs: ids, Threshold: wire.Threshold}
	return nil
}

// Contains reports whether id is a member of the role.
func (r Role) Contains(id IdentityID) bool {
	for _, member := range r.IDs {
		if member == id {
			return true
		}
	}
	return false
}

// AnnotatedRole is a role with a human-readable description,
// serialized flattened ({"ids": …, "threshold": …, "description": …}).
type AnnotatedRole struct {
	Role
	Description string
}

type annotatedRoleWire struct {
	IDs         []IdentityID `json:"ids"`
	Threshold   int          `json:"threshold"`
	Description string       `json:"description"`
}

// MarshalJSON implements json.Marshaler.
func (a AnnotatedRole) MarshalJSON() ([]byte, error) {
	ids := append([]IdentityID(nil), a.IDs...)
	sortIdentityIDs(ids)
	if ids == nil {
		ids = []IdentityID{}
	}
	return json.Marshal(annotatedRoleWire{
		IDs:         ids,
		Threshold:   a.Threshold,
		Description: a.Description,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AnnotatedRole) UnmarshalJSON(data []byte) error {
	var wire annotatedRoleWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Threshold < 1 {
		return fmt.Errorf("metadata: role threshold must be positive")
	}
	if len(wire.Description) > maxDescriptionLen {
		return fmt.Errorf("metadata: description exceeds %d bytes", maxDescriptionLen)
	}
	ids := append([]IdentityID(nil), wire.IDs...)
	sortIdentityIDs(ids)
	*a = AnnotatedRole{
		Role:        Role{IDs: ids, Threshold: wire.Threshold},
		Description: wire.Description,
	}
	return nil
}

// DropResolver finds the predecessor revision named by a content
// hash.
type DropResolver func(ContentHash) (Signed[Drop], error)

// SignerResolver resolves an identity id to its current verified key
// set. Implementations verify the identity's chain before returning
// keys.
type SignerResolver func(IdentityID) (KeySet, error)

type dropWire struct {
	FmtVersion  *FmtVersion   `json:"fmt_version,omitempty"`
	SpecVersion *FmtVersion   `json:"spec_version,omitempty"` // pre-0.2 field name
	Description string        `json:"description"`
	Prev        *ContentHash  `json:"prev"`
	Roles       dropRolesWire `json:"roles"`
	Custom      Custom        `json:"custom"`
}

type dropRolesWire struct {
	Root     Role                                    `json:"root"`
	Snapshot Role                                    `json:"snapshot"`
	Mirrors  Role                                    `json:"mirrors"`
	Branches map[gitstore.Refname]AnnotatedRole      `json:"branches"`
}

// MarshalJSON implements json.Marshaler.
func (d Drop) MarshalJSON() ([]byte, error) {
	fv := d.FmtVersion
	branches := d.Roles.Branches
	if branches == nil {
		branches = map[gitstore.Refname]AnnotatedRole{}
	}
	custom := d.Custom
	if custom == nil {
		custom = Custom{}
	}
	return json.Marshal(dropWire{
		FmtVersion:  &fv,
		Description: d.Description,
		Prev:        d.Prev,
		Roles: dropRolesWire{
			Root:     d.Roles.Root,
			Snapshot: d.Roles.Snapshot,
			Mirrors:  d.Roles.Mirrors,
			Branches: branches,
		},
		Custom: custom,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Drop) UnmarshalJSON(data []byte) error {
	var wire dropWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	version := wire.FmtVersion
	if version == nil {
		version = wire.SpecVersion
	}
	if version == nil {
		return fmt.Errorf("metadata: drop: missing fmt_version")
	}
	if len(wire.Description) > maxDescriptionLen {
		return fmt.Errorf("metadata: description exceeds %d bytes", maxDescriptionLen)
	}
	*d = Drop{
		FmtVersion:  *version,
		Description: wire.Description,
		Prev:        wire.Prev,
		Roles: DropRoles{
			Root:     wire.Roles.Root,
			Snapshot: wire.Roles.Snapshot,
			Mirrors:  wire.Roles.Mirrors,
			Branches: wire.Roles.Branches,
		},
		Custom: wire.Custom,
	}
	return nil
}

// Canonical returns the canonical form of this revision, including
// the envelope type tag.
func (d Drop) Canonical() ([]byte, error) {
	return envelope(TypeDrop, d)
}

// HasAncestor reports whether ancestor appears in this revision's
// predecessor chain.
func (d Drop) HasAncestor(ancestor ContentHash, findPrev DropResolver) (bool, error) {
	cur := d
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

// VerifiedDrop is the result of a successful drop chain verification.
type VerifiedDrop struct {
	cur Drop
}

func (v *VerifiedDrop) Drop() Drop {
	return v.cur
}

// VerifyDrop verifies the whole revision chain of s.
//
// The root role governs revisions: at every link the presented
// signature set must meet the revision's own root threshold under the
// root members' keys and, when a predecessor exists, the
// predecessor's root threshold under the predecessor's root members'
// keys. Role member keys are resolved through findSigner; each
// identity contributes at most one signature toward a threshold.
func VerifyDrop(s Signed[Drop], findPrev DropResolver, findSigner SignerResolver) (*VerifiedDrop, error) {
	cur, sigs := s.Signed, s.Signatures
	for {
		if !DropFmtVersion.Compatible(cur.FmtVersion) {
			return nil, ErrIncompatibleVersion
		}
		c, err := cur.Canonical()
		if err != nil {
			return nil, err
		}
		payload := signingPayload(c)

		signers, err := signersForIDs(cur.Roles.Root.IDs, findSigner)
		if err != nil {
			return nil, err
		}
		if err := signers.verify(payload, cur.Roles.Root.Threshold, sigs); err != nil {
			return nil, err
		}
		if cur.Prev == nil {
			return &VerifiedDrop{cur: s.Signed}, nil
		}
		prev, err := findPrev(*cur.Prev)
		if err != nil {
			return nil, fmt.Errorf("metadata: resolve predecessor %s: %w", cur.Prev, err)
		}
		prevSigners, err := signersForIDs(prev.Signed.Roles.Root.IDs, findSigner)
		if err != nil {
			return nil, err
		}
		if err := prevSigners.verify(payload, prev.Signed.Roles.Root.Threshold, sigs); err != nil {
			return nil, err
		}
		cur, sigs = prev.Signed, prev.Signatures
	}
}

// VerifyMirrors checks a mirrors document against the drop's mirrors
// role at time now.
func (d Drop) VerifyMirrors(m Signed[Mirrors], now time.Time, findSigner SignerResolver) error {
	if exp := m.Signed.Expires; exp != nil && exp.Before(now) {
		return ErrExpired
	}
	if !MirrorsFmtVersion.Compatible(m.Signed.FmtVersion) {
		return ErrIncompatibleVersion
	}
	c, err := m.Signed.Canonical()
	if err != nil {
		return err
	}
	signers, err := signersForIDs(d.Roles.Mirrors.IDs, findSigner)
	if err != nil {
		return err
	}
	return signers.verify(signingPayload(c), d.Roles.Mirrors.Threshold, m.Signatures)
}

// VerifyAlternates checks an alternates document against the drop's
// mirrors role at time now.
func (d Drop) VerifyAlternates(a Signed[Alternates], now time.Time, findSigner SignerResolver) error {
	if exp := a.Signed.Expires; exp != nil && exp.Before(now) {
		return ErrExpired
	}
	if !MirrorsFmtVersion.Compatible(a.Signed.FmtVersion) {
		return ErrIncompatibleVersion
	}
	c, err := a.Signed.Canonical()
	if err != nil {
		return err
	}
	signers, err := signersForIDs(d.Roles.Mirrors.IDs, findSigner)
	if err != nil {
		return err
	}
	return signers.verify(signingPayload(c), d.Roles.Mirrors.Threshold, a.Signatures)
}

// authorizedSigners maps role member identities to their current key
// sets for one verification pass.
type authorizedSigners map[IdentityID]KeySet

// signersForIDs resolves every member identity's keys and rejects any
// key shared between two members: a shared key would let one actor
// satisfy a multi-party threshold.
func signersForIDs(ids []IdentityID, findSigner SignerResolver) (authorizedSigners, error) {
	signers := make(authorizedSigners, len(ids))
	seen := make(map[KeyID]struct{})
	for _, id := range ids {
		keys, err := findSigner(id)
		if err != nil {
			return nil, fmt.Errorf("metadata: resolve identity %s: %w", id, err)
		}
		for kid := range keys {
			if _, dup := seen[kid]; dup {
				return nil, &DuplicateKeyError{Key: kid}
			}
			seen[kid] = struct{}{}
		}
		signers[id] = keys
	}
	return signers, nil
}

// verify counts valid signatures toward threshold. Each member
// identity is consumed after its first matching signature, so the
// threshold counts distinct identities, not keys. Bad signatures by
// authorized keys are logged and skipped.
func (a authorizedSigners) verify(payload []byte, threshold int, sigs map[KeyID]Signature) error {
	need := threshold
	for _, entry := range sortedSignatures(sigs) {
		var owner IdentityID
		var key Key
		found := false
		for id, keys := range a {
			if k, ok := keys[entry.key]; ok {
				owner, key, found = id, k, true
				break
			}
		}
		if !found {
			continue
		}
		delete(a, owner)
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

func sortIdentityIDs(ids []IdentityID) {
	sort.Slice(ids, func(i, j int) bool {
		return hex.EncodeToString(ids[i][:]) < hex.EncodeToString(ids[j][:])
	})
}
