// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/sealed"
)

// ErrSealedPack marks a pack section this node cannot read: it is
// encrypted and no matching identity is available.
var ErrSealedPack = errors.New("patches: pack section is sealed")

// Bundle is a patch bundle stored on disk under its bundle hash, with
// its header parsed and the pack section's encryption detected.
type Bundle struct {
	Header     *bundle.Header
	Path       string
	Info       bundle.Info
	Encryption *sealed.Encryption

	packStart int64
}

// CopyBundle streams a submitted bundle to the bundle directory,
// computing its checksum on the way, and stores it under its bundle
// hash. The temp file is cleaned up on any failure.
func CopyBundle(from io.Reader, dir string) (*Bundle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	sha := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, sha), from)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("patches: store bundle: %w", err)
	}
	var checksum bundle.Checksum
	copy(checksum[:], sha.Sum(nil))

	header, packStart, err := bundle.ReadHeaderFile(tmpName)
	if err != nil {
		return nil, err
	}
	encryption, err := detectPackEncryption(tmpName, packStart)
	if err != nil {
		return nil, err
	}

	hash := header.Hash()
	path := filepath.Join(dir, hash.String()+bundle.FileExtension)
	// Same-directory rename, atomic. A concurrent store of the same
	// bundle converges on identical content.
	if err := os.Rename(tmpName, path); err != nil {
		return nil, fmt.Errorf("patches: persist bundle: %w", err)
	}

	return &Bundle{
		Header:     header,
		Path:       path,
		Info:       bundle.Info{Len: uint64(n), Hash: hash, Checksum: checksum},
		Encryption: encryption,
		packStart:  packStart,
	}, nil
}

// BundleFromFetched wraps a bundle the Fetcher already verified and
// persisted.
func BundleFromFetched(f *bundle.Fetched) (*Bundle, error) {
	header, packStart, err := bundle.ReadHeaderFile(f.Path)
	if err != nil {
		return nil, err
	}
	encryption, err := detectPackEncryption(f.Path, packStart)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Header:     header,
		Path:       f.Path,
		Info:       f.Info,
		Encryption: encryption,
		packStart:  packStart,
	}, nil
}

// BundleFromStored opens a previously stored bundle file and checks
// it against what its record promised.
func BundleFromStored(dir string, expect bundle.Expect) (*Bundle, error) {
	path := filepath.Join(dir, expect.Hash.String()+bundle.FileExtension)
	header, packStart, err := bundle.ReadHeaderFile(path)
	if err != nil {
		return nil, err
	}
	encryption, err := detectPackEncryption(path, packStart)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	defer f.Close()
	sha := sha256.New()
	length, err := io.Copy(sha, f)
	if err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	var checksum bundle.Checksum
	copy(checksum[:], sha.Sum(nil))

	hash := header.Hash()
	if hash != expect.Hash {
		return nil, fmt.Errorf("patches: stored bundle %s: hash mismatch", path)
	}
	if expect.Len > 0 && uint64(length) != expect.Len {
		return nil, fmt.Errorf("patches: stored bundle %s: length mismatch", path)
	}
	if expect.Checksum != nil && checksum != *expect.Checksum {
		return nil, fmt.Errorf("patches: stored bundle %s: checksum mismatch", path)
	}

	return &Bundle{
		Header:     header,
		Path:       path,
		Info:       bundle.Info{Len: uint64(length), Hash: hash, Checksum: checksum},
		Encryption: encryption,
		packStart:  packStart,
	}, nil
}

// IsEncrypted reports whether the pack section is encrypted.
func (b *Bundle) IsEncrypted() bool {
	return b.Encryption != nil
}

// Reader opens the whole bundle file.
func (b *Bundle) Reader() (io.ReadCloser, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	return f, nil
}

// PlainPackdata opens the pack section in plaintext: directly for
// unencrypted bundles, decrypting with the given age identities for
// sealed ones. Returns ErrSealedPack when the section is encrypted
// and cannot be opened (PGP, or no identities).
func (b *Bundle) PlainPackdata(identities []age.Identity) (io.ReadCloser, error) {
	if b.Encryption == nil {
		return b.Packdata()
	}
	if *b.Encryption != sealed.EncryptionAge || len(identities) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrSealedPack, *b.Encryption)
	}
	f, err := b.Packdata()
	if err != nil {
		return nil, err
	}
	plain, err := sealed.Decrypt(f, identities)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &decryptedPack{Reader: plain, file: f}, nil
}

// decryptedPack streams decrypted pack data while owning the
// underlying bundle file handle.
type decryptedPack struct {
	io.Reader
	file io.Closer
}

func (d *decryptedPack) Close() error {
	return d.file.Close()
}

// Packdata opens the pack section of the bundle file.
func (b *Bundle) Packdata() (io.ReadCloser, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	if _, err := f.Seek(b.packStart, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("patches: %w", err)
	}
	return f, nil
}

func detectPackEncryption(path string, packStart int64) (*sealed.Encryption, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(packStart, io.SeekStart); err != nil {
		return nil, fmt.Errorf("patches: %w", err)
	}
	return sealed.DetectReader(f)
}
