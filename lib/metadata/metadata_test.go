// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/lib/signer"
)

func newSigner(t *testing.T) *signer.FileSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("NewSignerFromKey: %v", err)
	}
	return signer.FromSSHSigner(s)
}

func genesisIdentity(t *testing.T, s metadata.Signer) metadata.Identity {
	t.Helper()
	return metadata.Identity{
		FmtVersion: metadata.IdentityFmtVersion,
		Keys:       metadata.NewKeySet(s.PublicKey()),
		Threshold:  1,
	}
}

// blobResolver resolves predecessors from stored JSON blobs, the way
// production code reads them out of the object store.
type blobResolver map[string][]byte

func (r blobResolver) store(t *testing.T, s metadata.Signed[metadata.Identity]) metadata.ContentHash {
	t.Helper()
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	h := metadata.ContentHashOf(raw)
	r[h.String()] = raw
	return h
}

func (r blobResolver) resolve(h metadata.ContentHash) (metadata.Signed[metadata.Identity], error) {
	var out metadata.Signed[metadata.Identity]
	raw, ok := r[h.String()]
	if !ok {
		return out, errors.New("no such blob")
	}
	err := json.Unmarshal(raw, &out)
	return out, err
}

func TestIdentityIDGenesisOnly(t *testing.T) {
	s := newSigner(t)
	genesis := genesisIdentity(t, s)

	if _, err := genesis.ID(); err != nil {
		t.Fatalf("ID of genesis: %v", err)
	}

	rev := genesis
	rev.Prev = &metadata.ContentHash{}
	if _, err := rev.ID(); !errors.Is(err, metadata.ErrNotRoot) {
		t.Fatalf("ID of non-genesis revision: %v, want ErrNotRoot", err)
	}
}

func TestVerifyIdentityGenesis(t *testing.T) {
	s := newSigner(t)
	genesis := genesisIdentity(t, s)
	signed, err := metadata.SignIdentity(genesis, s)
	if err != nil {
		t.Fatalf("SignIdentity: %v", err)
	}

	v, err := metadata.VerifyIdentity(signed, time.Now(), nil)
	if err != nil {
		t.Fatalf("VerifyIdentity: %v", err)
	}
	want, err := genesis.ID()
	if err != nil {
		t.Fatal(err)
	}
	if v.ID() != want {
		t.Fatalf("verified id %s != computed id %s", v.ID(), want)
	}
}

func TestVerifyIdentityRotation(t *testing.T) {
	old := newSigner(t)
	next := newSigner(t)
	resolver := blobResolver{}

	genesis := genesisIdentity(t, old)
	signedGenesis, err := metadata.SignIdentity(genesis, old)
	if err != nil {
		t.Fatal(err)
	}
	prev := resolver.store(t, signedGenesis)

	rotated := metadata.Identity{
		FmtVersion: metadata.IdentityFmtVersion,
		Prev:       &prev,
		Keys:       metadata.NewKeySet(next.PublicKey()),
		Threshold:  1,
	}

	// The rotation must satisfy the old revision's threshold too.
	signedBoth, err := metadata.SignIdentity(rotated, old, next)
	if err != nil {
		t.Fatal(err)
	}
	v, err := metadata.VerifyIdentity(signedBoth, time.Now(), resolver.resolve)
	if err != nil {
		t.Fatalf("VerifyIdentity after rotation: %v", err)
	}
	want, err := genesis.ID()
	if err != nil {
		t.Fatal(err)
	}
	if v.ID() != want {
		t.Fatal("rotation changed the identity id")
	}

	// Only the new key signing is a key theft, not a rotation.
	signedNewOnly, err := metadata.SignIdentity(rotated, next)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.VerifyIdentity(signedNewOnly, time.Now(), resolver.resolve); !errors.Is(err, metadata.ErrSignatureThreshold) {
		t.Fatalf("rotation without predecessor approval: %v, want ErrSignatureThreshold", err)
	}
}

func TestVerifyIdentityExpired(t *testing.T) {
	s := newSigner(t)
	genesis := genesisIdentity(t, s)
	past := time.Now().Add(-time.Hour)
	genesis.Expires = &past

	signed, err := metadata.SignIdentity(genesis, s)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.VerifyIdentity(signed, time.Now(), nil); !errors.Is(err, metadata.ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
}

func TestVerifyIdentityIncompatibleVersion(t *testing.T) {
	s := newSigner(t)
	genesis := genesisIdentity(t, s)
	genesis.FmtVersion = metadata.FmtVersion{Major: 99}

	signed, err := metadata.SignIdentity(genesis, s)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.VerifyIdentity(signed, time.Now(), nil); !errors.Is(err, metadata.ErrIncompatibleVersion) {
		t.Fatalf("got %v, want ErrIncompatibleVersion", err)
	}
}

func TestVerifyIdentityRootRole(t *testing.T) {
	root := newSigner(t)
	daily := newSigner(t)

	genesis := metadata.Identity{
		FmtVersion: metadata.IdentityFmtVersion,
		Keys:       metadata.NewKeySet(root.PublicKey(), daily.PublicKey()),
		Root: &metadata.RootRole{
			Keys:      []metadata.KeyID{root.PublicKey().ID()},
			Threshold: 1,
		},
	}

	// A signature by a key outside the root role does not count.
	signedDaily, err := metadata.SignIdentity(genesis, daily)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.VerifyIdentity(signedDaily, time.Now(), nil); !errors.Is(err, metadata.ErrSignatureThreshold) {
		t.Fatalf("got %v, want ErrSignatureThreshold", err)
	}

	signedRoot, err := metadata.SignIdentity(genesis, root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.VerifyIdentity(signedRoot, time.Now(), nil); err != nil {
		t.Fatalf("VerifyIdentity: %v", err)
	}
}

func TestHasAncestor(t *testing.T) {
	old := newSigner(t)
	next := newSigner(t)
	resolver := blobResolver{}

	genesis := genesisIdentity(t, old)
	signedGenesis, err := metadata.SignIdentity(genesis, old)
	if err != nil {
		t.Fatal(err)
	}
	prev := resolver.store(t, signedGenesis)

	rotated := metadata.Identity{
		FmtVersion: metadata.IdentityFmtVersion,
		Prev:       &prev,
		Keys:       metadata.NewKeySet(next.PublicKey()),
		Threshold:  1,
	}

	ok, err := rotated.HasAncestor(prev, resolver.resolve)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("rotated revision should have its genesis as ancestor")
	}

	unrelated := metadata.ContentHashOf([]byte("something else"))
	ok, err = rotated.HasAncestor(unrelated, resolver.resolve)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("found an ancestor that is not in the chain")
	}
}

func TestVerifyDrop(t *testing.T) {
	rootSigner := newSigner(t)
	genesis := genesisIdentity(t, rootSigner)
	rootID, err := genesis.ID()
	if err != nil {
		t.Fatal(err)
	}
	findSigner := func(id metadata.IdentityID) (metadata.KeySet, error) {
		if id != rootID {
			return nil, errors.New("unknown identity")
		}
		return genesis.Keys, nil
	}

	drop := metadata.Drop{
		FmtVersion:  metadata.DropFmtVersion,
		Description: "test drop",
		Roles: metadata.DropRoles{
			Root:     metadata.Role{IDs: []metadata.IdentityID{rootID}, Threshold: 1},
			Snapshot: metadata.Role{IDs: []metadata.IdentityID{rootID}, Threshold: 1},
			Mirrors:  metadata.Role{IDs: []metadata.IdentityID{rootID}, Threshold: 1},
		},
	}
	signed, err := metadata.SignDrop(drop, rootSigner)
	if err != nil {
		t.Fatal(err)
	}

	v, err := metadata.VerifyDrop(signed, nil, findSigner)
	if err != nil {
		t.Fatalf("VerifyDrop: %v", err)
	}
	if v.Drop().Description != "test drop" {
		t.Fatal("verified drop lost its content")
	}

	// An unauthorized signature does not meet the root threshold.
	stranger := newSigner(t)
	forged, err := metadata.SignDrop(drop, stranger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := metadata.VerifyDrop(forged, nil, findSigner); !errors.Is(err, metadata.ErrSignatureThreshold) {
		t.Fatalf("got %v, want ErrSignatureThreshold", err)
	}
}

func TestVerifyDropDuplicateKey(t *testing.T) {
	shared := newSigner(t)
	a := genesisIdentity(t, shared)
	b := metadata.Identity{
		FmtVersion: metadata.IdentityFmtVersion,
		Keys:       metadata.NewKeySet(shared.PublicKey()),
		Threshold:  1,
		Mirrors:    []string{"https://example.com"},
	}
	aID, err := a.ID()
	if err != nil {
		t.Fatal(err)
	}
	bID, err := b.ID()
	if err != nil {
		t.Fatal(err)
	}
	if aID == bID {
		t.Fatal("test identities must differ")
	}
	findSigner := func(id metadata.IdentityID) (metadata.KeySet, error) {
		return metadata.NewKeySet(shared.PublicKey()), nil
	}

	drop := metadata.Drop{
		FmtVersion: metadata.DropFmtVersion,
		Roles: metadata.DropRoles{
			Root: metadata.Role{IDs: []metadata.IdentityID{aID, bID}, Threshold: 2},
		},
	}
	signed, err := metadata.SignDrop(drop, shared)
	if err != nil {
		t.Fatal(err)
	}

	var dup *metadata.DuplicateKeyError
	if _, err := metadata.VerifyDrop(signed, nil, findSigner); !errors.As(err, &dup) {
		t.Fatalf("got %v, want DuplicateKeyError", err)
	}
}

// mirrorsTestDrop builds a drop whose mirrors role is held by the
// given signer's genesis identity.
func mirrorsTestDrop(t *testing.T, s metadata.Signer) (metadata.Drop, metadata.SignerResolver) {
	t.Helper()
	genesis := genesisIdentity(t, s)
	id, err := genesis.ID()
	if err != nil {
		t.Fatal(err)
	}
	findSigner := func(got metadata.IdentityID) (metadata.KeySet, error) {
		if got != id {
			return nil, errors.New("unknown identity")
		}
		return genesis.Keys, nil
	}
	drop := metadata.Drop{
		FmtVersion: metadata.DropFmtVersion,
		Roles: metadata.DropRoles{
			Mirrors: metadata.Role{IDs: []metadata.IdentityID{id}, Threshold: 1},
		},
	}
	return drop, findSigner
}

func TestVerifyMirrors(t *testing.T) {
	s := newSigner(t)
	drop, findSigner := mirrorsTestDrop(t, s)

	m := metadata.Mirrors{
		FmtVersion: metadata.MirrorsFmtVersion,
		Mirrors: []metadata.Mirror{
			{URL: "https://mirror.example", Kind: metadata.MirrorBundled},
		},
	}
	signed, err := metadata.SignMirrors(m, s)
	if err != nil {
		t.Fatalf("SignMirrors: %v", err)
	}
	if err := drop.VerifyMirrors(signed, time.Now(), findSigner); err != nil {
		t.Fatalf("VerifyMirrors: %v", err)
	}

	// A signature outside the mirrors role does not count.
	stranger := newSigner(t)
	forged, err := metadata.SignMirrors(m, stranger)
	if err != nil {
		t.Fatal(err)
	}
	if err := drop.VerifyMirrors(forged, time.Now(), findSigner); !errors.Is(err, metadata.ErrSignatureThreshold) {
		t.Fatalf("got %v, want ErrSignatureThreshold", err)
	}

	// Stale lists age out.
	past := time.Now().Add(-time.Hour)
	expired := m
	expired.Expires = &past
	signedExpired, err := metadata.SignMirrors(expired, s)
	if err != nil {
		t.Fatal(err)
	}
	if err := drop.VerifyMirrors(signedExpired, time.Now(), findSigner); !errors.Is(err, metadata.ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
}

func TestVerifyAlternates(t *testing.T) {
	s := newSigner(t)
	drop, findSigner := mirrorsTestDrop(t, s)

	a := metadata.Alternates{
		FmtVersion: metadata.MirrorsFmtVersion,
		Alternates: []string{"https://other-drop.example"},
	}
	signed, err := metadata.SignAlternates(a, s)
	if err != nil {
		t.Fatalf("SignAlternates: %v", err)
	}
	if err := drop.VerifyAlternates(signed, time.Now(), findSigner); err != nil {
		t.Fatalf("VerifyAlternates: %v", err)
	}

	stranger := newSigner(t)
	forged, err := metadata.SignAlternates(a, stranger)
	if err != nil {
		t.Fatal(err)
	}
	if err := drop.VerifyAlternates(forged, time.Now(), findSigner); !errors.Is(err, metadata.ErrSignatureThreshold) {
		t.Fatalf("got %v, want ErrSignatureThreshold", err)
	}
}

func TestIdentityWireShape(t *testing.T) {
	s := newSigner(t)
	genesis := genesisIdentity(t, s)

	raw, err := json.Marshal(genesis)
	if err != nil {
		t.Fatal(err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"fmt_version", "prev", "keys", "threshold", "mirrors", "expires", "custom"} {
		if _, ok := wire[field]; !ok {
			t.Errorf("missing wire field %q", field)
		}
	}
	if string(wire["fmt_version"]) != `"1.0.0"` {
		t.Errorf("fmt_version = %s", wire["fmt_version"])
	}

	var keys []string
	if err := json.Unmarshal(wire["keys"], &keys); err != nil {
		t.Fatalf("keys should be an array of authorized_keys strings: %v", err)
	}
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "ssh-ed25519 ") {
		t.Errorf("keys = %v", keys)
	}

	var back metadata.Identity
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	backID, err := back.ID()
	if err != nil {
		t.Fatal(err)
	}
	wantID, err := genesis.ID()
	if err != nil {
		t.Fatal(err)
	}
	if backID != wantID {
		t.Fatal("wire roundtrip changed the identity id")
	}
}

func TestCanonicalEnvelopeTags(t *testing.T) {
	s := newSigner(t)
	genesis := genesisIdentity(t, s)
	c, err := genesis.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(c), `"_type":"driftwood.dev/identity"`) {
		t.Fatalf("canonical form missing envelope tag: %s", c)
	}

	drop := metadata.Drop{FmtVersion: metadata.DropFmtVersion}
	dc, err := drop.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(dc), `"_type":"driftwood.dev/drop"`) {
		t.Fatalf("canonical form missing envelope tag: %s", dc)
	}
}

func TestLegacySpecVersionField(t *testing.T) {
	s := newSigner(t)
	raw := []byte(`{
		"spec_version": "0.1.0",
		"prev": null,
		"keys": ["` + s.PublicKey().String() + `"],
		"threshold": 1,
		"mirrors": [],
		"expires": null,
		"custom": {}
	}`)
	var id metadata.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		t.Fatalf("unmarshal pre-0.2 document: %v", err)
	}
	if id.FmtVersion.String() != "0.1.0" {
		t.Fatalf("fmt_version = %s", id.FmtVersion)
	}
}
