// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed handles encrypted bundle pack sections. A submitter
// may replace the pack data of a bundle with an age or PGP encryption
// of it; this package detects which, and wraps filippo.io/age for the
// two operations Driftwood needs: encrypt pack data to a set of
// recipients, and decrypt it with locally held identities.
//
// PGP is detect-only. Nodes record that a pack is PGP-encrypted and
// pass it through, but decryption is left to the recipient's own
// tooling.
package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// Encryption identifies the scheme protecting a bundle's pack
// section.
type Encryption string

const (
	EncryptionAge Encryption = "age"
	EncryptionGpg Encryption = "gpg"
)

// MarshalText implements encoding.TextMarshaler.
func (e Encryption) MarshalText() ([]byte, error) {
	return []byte(e), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Encryption) UnmarshalText(text []byte) error {
	switch Encryption(text) {
	case EncryptionAge, EncryptionGpg:
		*e = Encryption(text)
		return nil
	}
	return fmt.Errorf("sealed: unknown encryption %q", text)
}

// Magic prefixes distinguishing pack data formats. Detection only
// needs the first 32 bytes of the pack section.
var (
	magicPack = []byte("PACK")
	magicAge  = []byte("age-encryption.org/v1")
	magicGpg  = []byte("-----BEGIN PGP MESSAGE-----")
)

// DetectLen is how many bytes of the pack section Detect needs.
const DetectLen = 32

// Detect inspects the first bytes of a bundle's pack section and
// reports how it is encrypted, if at all. Data not recognisable as a
// git pack or a known ciphertext is an error.
func Detect(prefix []byte) (*Encryption, error) {
	switch {
	case bytes.HasPrefix(prefix, magicPack):
		return nil, nil
	case bytes.HasPrefix(prefix, magicAge):
		enc := EncryptionAge
		return &enc, nil
	case bytes.HasPrefix(prefix, magicGpg):
		enc := EncryptionGpg
		return &enc, nil
	}
	return nil, fmt.Errorf("sealed: pack data is not in a known format")
}

// DetectReader reads the detection prefix from r and calls Detect.
// Short input that still carries a recognisable magic is accepted.
func DetectReader(r io.Reader) (*Encryption, error) {
	buf := make([]byte, DetectLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("sealed: read pack prefix: %w", err)
	}
	return Detect(buf[:n])
}

// Encrypt encrypts the pack data from src to the given age recipients,
// writing the ciphertext to dst. At least one recipient is required.
func Encrypt(dst io.Writer, src io.Reader, recipientKeys []string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("sealed: at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("sealed: parse recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	w, err := age.Encrypt(dst, recipients...)
	if err != nil {
		return fmt.Errorf("sealed: %w", err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("sealed: encrypt pack data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("sealed: finalize encryption: %w", err)
	}
	return nil
}

// Decrypt decrypts age ciphertext from src using identities, returning
// a reader over the plaintext pack data.
func Decrypt(src io.Reader, identities []age.Identity) (io.Reader, error) {
	if len(identities) == 0 {
		return nil, fmt.Errorf("sealed: no identities to decrypt with")
	}
	r, err := age.Decrypt(src, identities...)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypt pack data: %w", err)
	}
	return r, nil
}

// LoadIdentities parses an age identities file (one identity per line,
// '#' comments), as written by age-keygen.
func LoadIdentities(r io.Reader) ([]age.Identity, error) {
	ids, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("sealed: parse identities: %w", err)
	}
	return ids, nil
}
