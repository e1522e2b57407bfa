// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
)

// maxURIListBytes caps the size of an alternate-location list
// response so a hostile mirror cannot feed us unbounded data.
const maxURIListBytes = 50_000

// Fetched is a bundle file downloaded and verified to disk.
type Fetched struct {
	Path string
	Info Info
}

// Fetcher downloads bundle files over HTTP. A mirror may answer a
// bundle request either with the bundle bytes or with a text list of
// alternate locations, one URI per line.
type Fetcher struct {
	Client *http.Client
	Logger *slog.Logger
}

// Fetch downloads url into outDir. On success exactly one of the
// returns is set: the fetched bundle, or the list of alternate
// locations the mirror answered with instead.
//
// The file is persisted atomically under its bundle hash, so
// concurrent fetchers racing on the same bundle converge on one
// file.
func (f *Fetcher) Fetch(ctx context.Context, url string, outDir string, expect Expect) (*Fetched, []string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("bundle: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("bundle: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("bundle: fetch %s: unexpected status %s", url, resp.Status)
	}

	peek := make([]byte, 16)
	if _, err := io.ReadFull(resp.Body, peek); err != nil {
		return nil, nil, fmt.Errorf("bundle: fetch %s: short response: %w", url, err)
	}
	if !bytes.HasPrefix(peek, []byte(SignatureV2)) && !bytes.HasPrefix(peek, []byte(SignatureV3)) {
		uris, err := parseURIList(peek, resp.Body)
		return nil, uris, err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("bundle: %w", err)
	}
	dst := filepath.Join(outDir, expect.Hash.String()+FileExtension)
	pending, err := renameio.TempFile(outDir, dst)
	if err != nil {
		return nil, nil, fmt.Errorf("bundle: %w", err)
	}
	defer pending.Cleanup()

	sha := sha256.New()
	out := io.MultiWriter(pending, sha)
	if _, err := out.Write(peek); err != nil {
		return nil, nil, fmt.Errorf("bundle: %w", err)
	}
	body := io.Reader(resp.Body)
	if expect.Len > 0 {
		body = io.LimitReader(body, int64(expect.Len))
	}
	n, err := io.Copy(out, body)
	if err != nil {
		return nil, nil, fmt.Errorf("bundle: fetch %s: %w", url, err)
	}
	total := uint64(n) + uint64(len(peek))

	var checksum Checksum
	copy(checksum[:], sha.Sum(nil))
	if expect.Checksum != nil && checksum != *expect.Checksum {
		return nil, nil, fmt.Errorf("bundle: fetch %s: checksum mismatch", url)
	}

	header, _, err := ReadHeaderFile(pending.Name())
	if err != nil {
		return nil, nil, err
	}
	hash := header.Hash()
	if hash != expect.Hash {
		return nil, nil, fmt.Errorf("bundle: fetch %s: bundle hash mismatch: got %s, want %s",
			url, hash, expect.Hash)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return nil, nil, fmt.Errorf("bundle: persist %s: %w", dst, err)
	}
	if f.Logger != nil {
		f.Logger.Info("fetched bundle", "hash", hash, "len", total, "url", url)
	}

	return &Fetched{
		Path: dst,
		Info: Info{Len: total, Hash: hash, Checksum: checksum, URIs: []string{url}},
	}, nil, nil
}

// parseURIList reads an alternate-location list: one URI per line,
// '#' starting a comment line.
func parseURIList(peek []byte, rest io.Reader) ([]string, error) {
	limited := io.LimitReader(rest, maxURIListBytes)
	var uris []string
	scanner := bufio.NewScanner(io.MultiReader(bytes.NewReader(peek), limited))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("bundle: read location list: %w", err)
	}
	return uris, nil
}

// WriteURIList writes the alternate-location sidecar for a stored
// bundle file.
func WriteURIList(bundlePath string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	path := strings.TrimSuffix(bundlePath, FileExtension) + ListExtension
	var buf bytes.Buffer
	for _, uri := range uris {
		buf.WriteString(uri + "\n")
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("bundle: write %s: %w", path, err)
	}
	return nil
}
