// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"

	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/sealed"
)

// writeBundleFile assembles a bundle file from a header and raw pack
// bytes and stores it under its bundle hash.
func writeBundleFile(t *testing.T, dir string, h *bundle.Header, pack []byte) bundle.Expect {
	t.Helper()
	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	buf.Write(pack)

	path := filepath.Join(dir, h.Hash().String()+bundle.FileExtension)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return bundle.Expect{Hash: h.Hash()}
}

func testHeader() *bundle.Header {
	return &bundle.Header{
		Version:      bundle.V2,
		ObjectFormat: bundle.Sha1,
		References: map[gitstore.Refname]bundle.ObjectID{
			"refs/heads/main": "0123456789012345678901234567890123456789",
		},
	}
}

func TestPlainPackdataUnencrypted(t *testing.T) {
	dir := t.TempDir()
	pack := []byte("PACKnot really a pack, but detected as one")
	expect := writeBundleFile(t, dir, testHeader(), pack)

	b, err := BundleFromStored(dir, expect)
	if err != nil {
		t.Fatalf("BundleFromStored: %v", err)
	}
	if b.IsEncrypted() {
		t.Fatal("plain pack detected as encrypted")
	}

	r, err := b.PlainPackdata(nil)
	if err != nil {
		t.Fatalf("PlainPackdata: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pack) {
		t.Errorf("pack data = %q, want %q", got, pack)
	}
}

func TestPlainPackdataEncrypted(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}

	pack := []byte("PACKpayload that travels sealed")
	var ciphertext bytes.Buffer
	if err := sealed.Encrypt(&ciphertext, bytes.NewReader(pack), []string{identity.Recipient().String()}); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	dir := t.TempDir()
	expect := writeBundleFile(t, dir, testHeader(), ciphertext.Bytes())

	b, err := BundleFromStored(dir, expect)
	if err != nil {
		t.Fatalf("BundleFromStored: %v", err)
	}
	if !b.IsEncrypted() || *b.Encryption != sealed.EncryptionAge {
		t.Fatalf("encryption = %v, want age", b.Encryption)
	}

	// Without identities the pack stays sealed.
	if _, err := b.PlainPackdata(nil); !errors.Is(err, ErrSealedPack) {
		t.Fatalf("PlainPackdata without identities: %v, want ErrSealedPack", err)
	}

	r, err := b.PlainPackdata([]age.Identity{identity})
	if err != nil {
		t.Fatalf("PlainPackdata: %v", err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pack) {
		t.Errorf("decrypted pack = %q, want %q", got, pack)
	}
}
