// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"filippo.io/age"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name   string
		prefix string
		want   *Encryption
		ok     bool
	}{
		{"plain pack", "PACK\x00\x00\x00\x02more", nil, true},
		{"age", "age-encryption.org/v1\n-> X25519", ptr(EncryptionAge), true},
		{"gpg", "-----BEGIN PGP MESSAGE-----\n\nhQ", ptr(EncryptionGpg), true},
		{"garbage", "definitely not a pack", nil, false},
		{"empty", "", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Detect([]byte(tc.prefix))
			if tc.ok != (err == nil) {
				t.Fatalf("err = %v, want ok=%v", err, tc.ok)
			}
			if !tc.ok {
				return
			}
			if (got == nil) != (tc.want == nil) {
				t.Fatalf("encryption = %v, want %v", got, tc.want)
			}
			if got != nil && *got != *tc.want {
				t.Errorf("encryption = %s, want %s", *got, *tc.want)
			}
		})
	}
}

func TestDetectReaderShortInput(t *testing.T) {
	// A full 32 bytes may not be available; the magic alone decides.
	enc, err := DetectReader(strings.NewReader("age-encryption.org/v1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if enc == nil || *enc != EncryptionAge {
		t.Errorf("encryption = %v, want age", enc)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}

	pack := []byte("PACK\x00\x00\x00\x02 fake pack data for the roundtrip")
	var sealed bytes.Buffer
	if err := Encrypt(&sealed, bytes.NewReader(pack), []string{identity.Recipient().String()}); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	enc, err := Detect(sealed.Bytes()[:DetectLen])
	if err != nil {
		t.Fatal(err)
	}
	if enc == nil || *enc != EncryptionAge {
		t.Fatalf("ciphertext not detected as age: %v", enc)
	}

	plain, err := Decrypt(bytes.NewReader(sealed.Bytes()), []age.Identity{identity})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	got, err := io.ReadAll(plain)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, pack) {
		t.Error("decrypted pack differs from original")
	}
}

func TestDecryptWrongIdentity(t *testing.T) {
	right, _ := age.GenerateX25519Identity()
	wrong, _ := age.GenerateX25519Identity()

	var sealed bytes.Buffer
	if err := Encrypt(&sealed, strings.NewReader("PACKdata"), []string{right.Recipient().String()}); err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(bytes.NewReader(sealed.Bytes()), []age.Identity{wrong}); err == nil {
		t.Fatal("expected decryption failure with the wrong identity")
	}
}

func TestLoadIdentities(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	file := "# created by age-keygen\n" + identity.String() + "\n"
	ids, err := LoadIdentities(strings.NewReader(file))
	if err != nil {
		t.Fatalf("LoadIdentities: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("identities = %d, want 1", len(ids))
	}
}

func ptr(e Encryption) *Encryption { return &e }
