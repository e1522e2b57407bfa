// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

func testBundleBytes(t *testing.T) ([]byte, Hash) {
	t.Helper()
	h := &Header{
		Version:      V2,
		ObjectFormat: Sha1,
		References:   map[gitstore.Refname]ObjectID{"refs/heads/main": oidB},
	}
	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	buf.WriteString("PACK....fake pack payload....")
	return buf.Bytes(), h.Hash()
}

func TestFetchBundle(t *testing.T) {
	payload, hash := testBundleBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	var f Fetcher
	fetched, uris, err := f.Fetch(context.Background(), srv.URL, dir, Expect{
		Len:  uint64(len(payload)),
		Hash: hash,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if uris != nil {
		t.Fatal("expected a bundle, got a location list")
	}

	want := filepath.Join(dir, hash.String()+FileExtension)
	if fetched.Path != want {
		t.Errorf("Path = %q, want %q", fetched.Path, want)
	}
	onDisk, err := os.ReadFile(fetched.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, payload) {
		t.Error("persisted file differs from served payload")
	}
	if fetched.Info.Len != uint64(len(payload)) || fetched.Info.Hash != hash {
		t.Errorf("Info = %+v", fetched.Info)
	}
}

func TestFetchHashMismatch(t *testing.T) {
	payload, _ := testBundleBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	var wrong Hash
	wrong[0] = 0xFF
	var f Fetcher
	if _, _, err := f.Fetch(context.Background(), srv.URL, t.TempDir(), Expect{
		Len:  uint64(len(payload)),
		Hash: wrong,
	}); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}

func TestFetchLocationList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# alternates\nhttps://mirror.example/bundles/x.bundle\nhttps://other.example/y.bundle\n"))
	}))
	defer srv.Close()

	var f Fetcher
	fetched, uris, err := f.Fetch(context.Background(), srv.URL, t.TempDir(), Expect{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if fetched != nil {
		t.Fatal("expected a location list, got a bundle")
	}
	if len(uris) != 2 || uris[0] != "https://mirror.example/bundles/x.bundle" {
		t.Errorf("uris = %v", uris)
	}
}

func TestWriteURIList(t *testing.T) {
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "abc.bundle")
	if err := WriteURIList(bundlePath, []string{"https://a.example/x", "https://b.example/y"}); err != nil {
		t.Fatalf("WriteURIList: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "abc.uris"))
	if err != nil {
		t.Fatal(err)
	}
	want := "https://a.example/x\nhttps://b.example/y\n"
	if string(got) != want {
		t.Errorf("uris file = %q, want %q", got, want)
	}
}
