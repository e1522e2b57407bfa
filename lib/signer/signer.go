// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package signer provides the concrete signing backends behind
// metadata.Signer: a private key file on disk, and a running
// ssh-agent. Both produce raw SSH signature blobs over the payload,
// verifiable with metadata.Key.Verify.
package signer

import (
	"crypto/rand"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/driftwood-project/driftwood/lib/metadata"
)

// FileSigner signs with a private key loaded from an OpenSSH key
// file.
type FileSigner struct {
	signer ssh.Signer
}

// LoadFile reads an unencrypted OpenSSH private key.
func LoadFile(path string) (*FileSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	s, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: parse %s: %w", path, err)
	}
	return &FileSigner{signer: s}, nil
}

// LoadFileWithPassphrase reads a passphrase-protected OpenSSH private
// key.
func LoadFileWithPassphrase(path string, passphrase []byte) (*FileSigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	s, err := ssh.ParsePrivateKeyWithPassphrase(raw, passphrase)
	if err != nil {
		return nil, fmt.Errorf("signer: parse %s: %w", path, err)
	}
	return &FileSigner{signer: s}, nil
}

// FromSSHSigner wraps an already-constructed ssh.Signer.
func FromSSHSigner(s ssh.Signer) *FileSigner {
	return &FileSigner{signer: s}
}

// PublicKey implements metadata.Signer.
func (f *FileSigner) PublicKey() metadata.Key {
	return metadata.NewKey(f.signer.PublicKey())
}

// Sign implements metadata.Signer.
func (f *FileSigner) Sign(payload []byte) (metadata.Signature, error) {
	sig, err := f.signer.Sign(rand.Reader, payload)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return metadata.Signature(sig.Blob), nil
}
