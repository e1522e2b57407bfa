// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package gitstore

import (
	"context"
	"errors"
	"os/exec"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	st, err := Init(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return st
}

func TestBlobRoundtrip(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	content := []byte("hello, driftwood\n")
	oid, err := st.WriteBlob(ctx, content)
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if !oid.Valid() {
		t.Fatalf("WriteBlob returned invalid oid %q", oid)
	}

	got, err := st.ReadBlob(ctx, oid)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("ReadBlob = %q, want %q", got, content)
	}

	ok, err := st.HasObject(ctx, oid)
	if err != nil || !ok {
		t.Errorf("HasObject(%s) = %v, %v", oid, ok, err)
	}
}

func TestTreeAndCommit(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	blob, err := st.WriteBlob(ctx, []byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := st.WriteTree(ctx, []TreeEntry{
		{Mode: ModeBlob, Type: "blob", OID: blob, Name: "record.json"},
	})
	if err != nil {
		t.Fatalf("WriteTree: %v", err)
	}

	commit, err := st.CommitTree(ctx, tree, nil, "initial record\n")
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}

	gotTree, err := st.TreeOf(ctx, commit)
	if err != nil || gotTree != tree {
		t.Fatalf("TreeOf = %s, %v; want %s", gotTree, err, tree)
	}

	message, err := st.CommitMessage(ctx, commit)
	if err != nil {
		t.Fatalf("CommitMessage: %v", err)
	}
	if message != "initial record\n" {
		t.Errorf("CommitMessage = %q", message)
	}

	got, err := st.ResolvePath(ctx, commit, "record.json")
	if err != nil || got != blob {
		t.Errorf("ResolvePath = %s, %v; want %s", got, err, blob)
	}
	if _, err := st.ResolvePath(ctx, commit, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolvePath(missing) err = %v, want ErrNotFound", err)
	}

	entries, err := st.ReadTree(ctx, tree)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "record.json" || entries[0].OID != blob {
		t.Errorf("ReadTree = %+v", entries)
	}
}

func TestRefsAndAncestry(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	first, err := st.CommitTree(ctx, EmptyTree, nil, "first\n")
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.CommitTree(ctx, EmptyTree, []OID{first}, "second\n")
	if err != nil {
		t.Fatal(err)
	}

	tx := st.Begin()
	tx.Create("refs/drift/patches", second)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("tx.Commit: %v", err)
	}

	got, err := st.ResolveRef(ctx, "refs/drift/patches")
	if err != nil || got != second {
		t.Fatalf("ResolveRef = %s, %v; want %s", got, err, second)
	}
	if _, err := st.ResolveRef(ctx, "refs/drift/absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveRef(absent) err = %v, want ErrNotFound", err)
	}

	ok, err := st.IsAncestor(ctx, first, second)
	if err != nil || !ok {
		t.Errorf("IsAncestor(first, second) = %v, %v", ok, err)
	}
	ok, err = st.IsAncestor(ctx, second, first)
	if err != nil || ok {
		t.Errorf("IsAncestor(second, first) = %v, %v", ok, err)
	}

	base, err := st.MergeBase(ctx, first, second)
	if err != nil || base != first {
		t.Errorf("MergeBase = %s, %v; want %s", base, err, first)
	}

	n, err := st.CountCommits(ctx, second, []OID{first})
	if err != nil || n != 1 {
		t.Errorf("CountCommits = %d, %v; want 1", n, err)
	}

	commits, err := st.ListCommits(ctx, second, nil)
	if err != nil || len(commits) != 2 || commits[0] != second {
		t.Errorf("ListCommits = %v, %v", commits, err)
	}

	refs, err := st.ListRefs(ctx, "refs/drift")
	if err != nil || len(refs) != 1 || refs["refs/drift/patches"] != second {
		t.Errorf("ListRefs = %v, %v", refs, err)
	}
}

func TestTxStaleOldValueFails(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)

	first, err := st.CommitTree(ctx, EmptyTree, nil, "first\n")
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.CommitTree(ctx, EmptyTree, []OID{first}, "second\n")
	if err != nil {
		t.Fatal(err)
	}

	tx := st.Begin()
	tx.Create("refs/drift/seen", first)
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	// Stale expected old value: the ref points at first, not second.
	stale := st.Begin()
	stale.Update("refs/drift/seen", first, &second)
	if err := stale.Commit(ctx); err == nil {
		t.Fatal("expected stale transaction to fail")
	}

	// The failed transaction must not have moved the ref.
	got, err := st.ResolveRef(ctx, "refs/drift/seen")
	if err != nil || got != first {
		t.Errorf("ResolveRef = %s, %v; want %s", got, err, first)
	}
}
