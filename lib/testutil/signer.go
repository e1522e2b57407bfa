// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/lib/signer"
)

// NewSigner generates a fresh ed25519 signing identity for a test and
// returns it along with the raw private key.
func NewSigner(t *testing.T) (metadata.Signer, ed25519.PrivateKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("ssh signer: %v", err)
	}
	return signer.FromSSHSigner(sshSigner), priv
}

// WriteKeyFile writes the private key in OpenSSH format into the
// test's temp directory and returns its path, for handing to git as
// user.signingkey.
func WriteKeyFile(t *testing.T, priv ed25519.PrivateKey) string {
	t.Helper()
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return path
}
