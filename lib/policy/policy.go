// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy defines the acceptance policy a drop applies to
// submitted patch bundles: which refs a bundle may carry, how many,
// and whether fat or encrypted packs are admitted.
//
// The default policy is embedded as JSONC and can be overridden per
// node; operator files use the same format (JSON extended with
// comments and trailing commas).
package policy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

//go:embed default.jsonc
var defaultPolicy []byte

// Policy is the set of gates a submission must pass.
type Policy struct {
	// AllowFatPack admits packs without prerequisites, which carry
	// full history instead of a delta.
	AllowFatPack bool `json:"allow_fat_pack"`

	// AllowEncrypted admits bundles whose pack section is encrypted.
	AllowEncrypted bool `json:"allow_encrypted"`

	// AllowedRefs are the refname patterns a bundle may carry. "*"
	// matches within one path segment, "**" across segments. Empty
	// means no ref is allowed.
	AllowedRefs []string `json:"allowed_refs"`

	// Per-category caps on the refs in one bundle.
	MaxBranches int `json:"max_branches"`
	MaxTags     int `json:"max_tags"`
	MaxNotes    int `json:"max_notes"`
	MaxRefs     int `json:"max_refs"`

	// MaxCommits caps the commits any single ref may introduce.
	MaxCommits int `json:"max_commits"`
}

// Default returns the embedded default policy.
func Default() Policy {
	var p Policy
	if err := json.Unmarshal(jsonc.ToJSON(defaultPolicy), &p); err != nil {
		// The embedded default is validated by tests; a parse failure
		// here is a build defect.
		panic(fmt.Sprintf("policy: embedded default invalid: %v", err))
	}
	return p
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result over the default policy, so partial override
// files keep defaults for absent fields.
func Parse(data []byte) (Policy, error) {
	p := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
		return Policy{}, fmt.Errorf("policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Load reads a policy override file.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{"max_branches", p.MaxBranches},
		{"max_tags", p.MaxTags},
		{"max_notes", p.MaxNotes},
		{"max_refs", p.MaxRefs},
		{"max_commits", p.MaxCommits},
	} {
		if field.value < 0 {
			return fmt.Errorf("policy: %s must not be negative", field.name)
		}
	}
	return nil
}

// AllowsRef reports whether name matches any allowed pattern. An
// empty pattern list denies everything.
func (p Policy) AllowsRef(name gitstore.Refname) bool {
	for _, pattern := range p.AllowedRefs {
		if MatchRef(pattern, string(name)) {
			return true
		}
	}
	return false
}
