// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// MirrorKind describes what a mirror can serve.
type MirrorKind string

const (
	// MirrorBundled mirrors serve bundle files over HTTP.
	MirrorBundled MirrorKind = "bundled"
	// MirrorPacked mirrors serve packs via the git protocol.
	MirrorPacked MirrorKind = "packed"
	// MirrorSparse mirrors carry metadata only.
	MirrorSparse MirrorKind = "sparse"
)

// Mirror is one location a drop is replicated to.
type Mirror struct {
	URL    string     `json:"url"`
	Kind   MirrorKind `json:"kind"`
	Custom Custom     `json:"custom"`
}

// Mirrors lists a drop's replication locations. Signed under the
// drop's mirrors role; expires so stale lists age out.
type Mirrors struct {
	FmtVersion FmtVersion
	Mirrors    []Mirror
	Expires    *time.Time
}

type mirrorsWire struct {
	FmtVersion  *FmtVersion `json:"fmt_version,omitempty"`
	SpecVersion *FmtVersion `json:"spec_version,omitempty"` // pre-0.2 field name
	Mirrors     []Mirror    `json:"mirrors"`
	Expires     *time.Time  `json:"expires"`
}

// MarshalJSON implements json.Marshaler.
func (m Mirrors) MarshalJSON() ([]byte, error) {
	fv := m.FmtVersion
	mirrors := m.Mirrors
	if mirrors == nil {
		mirrors = []Mirror{}
	}
	for i := range mirrors {
		if mirrors[i].Kind == "" {
			mirrors[i].Kind = MirrorPacked
		}
		if mirrors[i].Custom == nil {
			mirrors[i].Custom = Custom{}
		}
	}
	return json.Marshal(mirrorsWire{
		FmtVersion: &fv,
		Mirrors:    mirrors,
		Expires:    m.Expires,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mirrors) UnmarshalJSON(data []byte) error {
	var wire mirrorsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	version := wire.FmtVersion
	if version == nil {
		version = wire.SpecVersion
	}
	if version == nil {
		return fmt.Errorf("metadata: mirrors: missing fmt_version")
	}
	*m = Mirrors{
		FmtVersion: *version,
		Mirrors:    wire.Mirrors,
		Expires:    wire.Expires,
	}
	return nil
}

// Canonical returns the canonical form including the envelope type
// tag.
func (m Mirrors) Canonical() ([]byte, error) {
	return envelope(TypeMirrors, m)
}

// Alternates lists alternate drops carrying overlapping content,
// signed under the drop's mirrors role.
type Alternates struct {
	FmtVersion FmtVersion
	Alternates []string
	Custom     Custom
	Expires    *time.Time
}

type alternatesWire struct {
	FmtVersion  *FmtVersion `json:"fmt_version,omitempty"`
	SpecVersion *FmtVersion `json:"spec_version,omitempty"` // pre-0.2 field name
	Alternates  []string    `json:"alternates"`
	Custom      Custom      `json:"custom"`
	Expires     *time.Time  `json:"expires"`
}

// MarshalJSON implements json.Marshaler.
func (a Alternates) MarshalJSON() ([]byte, error) {
	fv := a.FmtVersion
	alternates := append([]string{}, a.Alternates...)
	sort.Strings(alternates)
	custom := a.Custom
	if custom == nil {
		custom = Custom{}
	}
	return json.Marshal(alternatesWire{
		FmtVersion: &fv,
		Alternates: alternates,
		Custom:     custom,
		Expires:    a.Expires,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Alternates) UnmarshalJSON(data []byte) error {
	var wire alternatesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	version := wire.FmtVersion
	if version == nil {
		version = wire.SpecVersion
	}
	if version == nil {
		return fmt.Errorf("metadata: alternates: missing fmt_version")
	}
	*a = Alternates{
		FmtVersion: *version,
		Alternates: wire.Alternates,
		Custom:     wire.Custom,
		Expires:    wire.Expires,
	}
	return nil
}

// Canonical returns the canonical form including the envelope type
// tag.
func (a Alternates) Canonical() ([]byte, error) {
	return envelope(TypeAlternates, a)
}
