// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"context"
	"errors"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

// The seen tree guards against replays: every accepted patch id is
// recorded as a blob at <first two hex chars>/<rest>, fanning the
// entries out over at most 256 subtrees.

// seenContains reports whether the patch id is already recorded in
// the seen tree.
func seenContains(ctx context.Context, st *gitstore.Store, seenTree gitstore.OID, h Heads) (bool, error) {
	prefix, rest := h.shard()
	_, err := st.ResolvePath(ctx, seenTree, prefix+"/"+rest)
	if errors.Is(err, gitstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// seenAdd records the patch id in the seen tree, pointing at the
// record's heads blob, and returns the updated tree. A zero seenTree
// starts a fresh tree.
func seenAdd(ctx context.Context, st *gitstore.Store, seenTree gitstore.OID, h Heads, blob gitstore.OID) (gitstore.OID, error) {
	prefix, rest := h.shard()

	var rootEntries []gitstore.TreeEntry
	if seenTree != "" {
		var err error
		rootEntries, err = st.ReadTree(ctx, seenTree)
		if err != nil {
			return "", err
		}
	}

	var shardEntries []gitstore.TreeEntry
	for _, e := range rootEntries {
		if e.Name == prefix && e.Type == "tree" {
			var err error
			shardEntries, err = st.ReadTree(ctx, e.OID)
			if err != nil {
				return "", err
			}
			break
		}
	}

	shardEntries = upsertEntry(shardEntries, gitstore.TreeEntry{
		Mode: gitstore.ModeBlob, Type: "blob", OID: blob, Name: rest,
	})
	shard, err := st.WriteTree(ctx, shardEntries)
	if err != nil {
		return "", err
	}
	rootEntries = upsertEntry(rootEntries, gitstore.TreeEntry{
		Mode: gitstore.ModeTree, Type: "tree", OID: shard, Name: prefix,
	})
	return st.WriteTree(ctx, rootEntries)
}
