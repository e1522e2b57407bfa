// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"crypto/sha512"
	"encoding/json"
	"fmt"

	"github.com/driftwood-project/driftwood/lib/canonical"
)

// Envelope type tags. The canonical form of every document carries a
// "_type" field so a signature over one document kind can never be
// replayed as another.
const (
	TypeIdentity   = "driftwood.dev/identity"
	TypeDrop       = "driftwood.dev/drop"
	TypeMirrors    = "driftwood.dev/mirrors"
	TypeAlternates = "driftwood.dev/alternates"
)

// Signed pairs a document with signatures over it, keyed by the
// signing key's id. This is the persisted form of every metadata
// document.
type Signed[T any] struct {
	Signed     T                   `json:"signed"`
	Signatures map[KeyID]Signature `json:"signatures"`
}

// Signer produces signatures over payloads. Implementations live in
// lib/signer (file-backed keys, ssh-agent).
type Signer interface {
	PublicKey() Key
	Sign(payload []byte) (Signature, error)
}

// envelope produces the canonical form of doc with the "_type" tag
// spliced in.
func envelope(typeTag string, doc any) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	tag, err := json.Marshal(typeTag)
	if err != nil {
		return nil, err
	}
	fields["_type"] = tag
	tagged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return canonical.Transform(tagged)
}

// signingPayload derives the bytes that are actually signed: the
// SHA-512 digest of the canonical form.
func signingPayload(canonicalForm []byte) []byte {
	sum := sha512.Sum512(canonicalForm)
	return sum[:]
}

func signAll(canonicalForm []byte, signers []Signer) (map[KeyID]Signature, error) {
	payload := signingPayload(canonicalForm)
	signatures := make(map[KeyID]Signature, len(signers))
	for _, signer := range signers {
		sig, err := signer.Sign(payload)
		if err != nil {
			return nil, fmt.Errorf("metadata: sign: %w", err)
		}
		signatures[signer.PublicKey().ID()] = sig
	}
	return signatures, nil
}

// SignIdentity signs an identity revision with the given signers.
func SignIdentity(id Identity, signers ...Signer) (Signed[Identity], error) {
	c, err := id.Canonical()
	if err != nil {
		return Signed[Identity]{}, err
	}
	sigs, err := signAll(c, signers)
	if err != nil {
		return Signed[Identity]{}, err
	}
	return Signed[Identity]{Signed: id, Signatures: sigs}, nil
}

// SignDrop signs a drop revision with the given signers.
func SignDrop(d Drop, signers ...Signer) (Signed[Drop], error) {
	c, err := d.Canonical()
	if err != nil {
		return Signed[Drop]{}, err
	}
	sigs, err := signAll(c, signers)
	if err != nil {
		return Signed[Drop]{}, err
	}
	return Signed[Drop]{Signed: d, Signatures: sigs}, nil
}

// SignMirrors signs a mirrors document with the given signers.
func SignMirrors(m Mirrors, signers ...Signer) (Signed[Mirrors], error) {
	c, err := m.Canonical()
	if err != nil {
		return Signed[Mirrors]{}, err
	}
	sigs, err := signAll(c, signers)
	if err != nil {
		return Signed[Mirrors]{}, err
	}
	return Signed[Mirrors]{Signed: m, Signatures: sigs}, nil
}

// SignAlternates signs an alternates document with the given signers.
func SignAlternates(a Alternates, signers ...Signer) (Signed[Alternates], error) {
	c, err := a.Canonical()
	if err != nil {
		return Signed[Alternates]{}, err
	}
	sigs, err := signAll(c, signers)
	if err != nil {
		return Signed[Alternates]{}, err
	}
	return Signed[Alternates]{Signed: a, Signatures: sigs}, nil
}
