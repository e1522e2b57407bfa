// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/sealed"
)

// ErrNotRecord marks a drop history commit that is not a patch record
// (metadata-only commits carry no topic trailer).
var ErrNotRecord = errors.New("patches: commit is not a patch record")

// Size caps on record blobs, applied before parsing.
const (
	maxHeadsBlob = 64
	maxMetaBlob  = 100_000
)

// BundleInfo is everything a record captures about its bundle: the
// transfer info (length, hash, checksum, known locations) plus the
// header contents, so a mirror can re-fetch and re-verify the bundle
// without the original file.
type BundleInfo struct {
	bundle.Info
	Prerequisites []bundle.ObjectID                 `json:"prerequisites"`
	References    map[gitstore.Refname]bundle.ObjectID `json:"references"`
	Encryption    *sealed.Encryption                `json:"encryption,omitempty"`
}

// BundleInfoOf captures a stored bundle.
func BundleInfoOf(b *Bundle) BundleInfo {
	prereqs := append([]bundle.ObjectID(nil), b.Header.Prerequisites...)
	refs := make(map[gitstore.Refname]bundle.ObjectID, len(b.Header.References))
	for name, oid := range b.Header.References {
		refs[name] = oid
	}
	return BundleInfo{
		Info:          b.Info,
		Prerequisites: prereqs,
		References:    refs,
		Encryption:    b.Encryption,
	}
}

// Expect returns the verification data for re-fetching this bundle.
func (b BundleInfo) Expect() bundle.Expect {
	checksum := b.Checksum
	return bundle.Expect{Len: b.Len, Hash: b.Hash, Checksum: &checksum}
}

// Meta is the record.json blob of a record commit.
type Meta struct {
	Bundle    BundleInfo `json:"bundle"`
	Signature Signature  `json:"signature"`
}

// Record is one entry of the drop's patch log.
type Record struct {
	Topic Topic `json:"topic"`
	Heads Heads `json:"heads"`
	Meta  Meta  `json:"meta"`
}

// SignedPart returns the bytes the submitter signs: the raw patch id.
func (r *Record) SignedPart() []byte {
	return r.Heads[:]
}

// BundleHash returns the hash naming the record's bundle file.
func (r *Record) BundleHash() bundle.Hash {
	return r.Meta.Bundle.Hash
}

// BundlePath returns the record's bundle file path under dir.
func (r *Record) BundlePath(dir string) string {
	return filepath.Join(dir, r.BundleHash().String()+bundle.FileExtension)
}

// IsEncrypted reports whether the record's bundle pack is encrypted.
func (r *Record) IsEncrypted() bool {
	return r.Meta.Bundle.Encryption != nil
}

// IsSnapshot reports whether the record belongs to the snapshots
// topic.
func (r *Record) IsSnapshot() bool {
	return r.Topic == TopicSnapshots
}

// IsMergepoint reports whether the record belongs to the merges
// topic.
func (r *Record) IsMergepoint() bool {
	return r.Topic == TopicMerges
}

// RecordFromCommit reads a record back out of a drop history commit.
// Returns ErrNotRecord for commits without a topic trailer.
func RecordFromCommit(ctx context.Context, st *gitstore.Store, commit gitstore.OID) (*Record, error) {
	message, err := st.CommitMessage(ctx, commit)
	if err != nil {
		return nil, err
	}
	topic, ok, err := TopicFromMessage(message)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRecord
	}

	tree, err := st.TreeOf(ctx, commit)
	if err != nil {
		return nil, err
	}
	headsOID, err := st.ResolvePath(ctx, tree, blobHeads)
	if err != nil {
		return nil, fmt.Errorf("patches: commit %s: %s: %w", commit, blobHeads, err)
	}
	headsRaw, err := st.ReadBlob(ctx, headsOID)
	if err != nil {
		return nil, err
	}
	if len(headsRaw) > maxHeadsBlob {
		return nil, fmt.Errorf("patches: commit %s: oversized %s blob", commit, blobHeads)
	}
	heads, err := HeadsFromHex(strings.TrimSpace(string(headsRaw)))
	if err != nil {
		return nil, err
	}

	metaOID, err := st.ResolvePath(ctx, tree, blobMeta)
	if err != nil {
		return nil, fmt.Errorf("patches: commit %s: %s: %w", commit, blobMeta, err)
	}
	metaRaw, err := st.ReadBlob(ctx, metaOID)
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > maxMetaBlob {
		return nil, fmt.Errorf("patches: commit %s: oversized %s blob", commit, blobMeta)
	}
	var meta Meta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("patches: commit %s: %s: %w", commit, blobMeta, err)
	}

	return &Record{Topic: topic, Heads: heads, Meta: meta}, nil
}

// Commit writes the record to the drop history: the parent commit's
// tree with the ids tree and the record's heads and record.json blobs
// written over it, committed with the topic trailer as message and
// SSH-signed with signingKey. Returns the new commit and the heads
// blob (for the seen tree).
func (r *Record) Commit(ctx context.Context, st *gitstore.Store, ids gitstore.OID, parent *gitstore.OID, signingKey string) (commit, headsBlob gitstore.OID, err error) {
	var entries []gitstore.TreeEntry
	if parent != nil {
		parentTree, err := st.TreeOf(ctx, *parent)
		if err != nil {
			return "", "", err
		}
		entries, err = st.ReadTree(ctx, parentTree)
		if err != nil {
			return "", "", err
		}
	}

	headsBlob, err = st.WriteBlob(ctx, []byte(r.Heads.String()))
	if err != nil {
		return "", "", err
	}
	metaRaw, err := json.MarshalIndent(&r.Meta, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("patches: %w", err)
	}
	metaBlob, err := st.WriteBlob(ctx, metaRaw)
	if err != nil {
		return "", "", err
	}

	entries = upsertEntry(entries, gitstore.TreeEntry{
		Mode: gitstore.ModeTree, Type: "tree", OID: ids, Name: idsTreeName,
	})
	entries = upsertEntry(entries, gitstore.TreeEntry{
		Mode: gitstore.ModeBlob, Type: "blob", OID: headsBlob, Name: blobHeads,
	})
	entries = upsertEntry(entries, gitstore.TreeEntry{
		Mode: gitstore.ModeBlob, Type: "blob", OID: metaBlob, Name: blobMeta,
	})

	tree, err := st.WriteTree(ctx, entries)
	if err != nil {
		return "", "", err
	}
	var parents []gitstore.OID
	if parent != nil {
		parents = append(parents, *parent)
	}
	commit, err = st.CommitTreeSigned(ctx, tree, parents, r.Topic.Trailer()+"\n", signingKey)
	if err != nil {
		return "", "", err
	}
	return commit, headsBlob, nil
}

func upsertEntry(entries []gitstore.TreeEntry, e gitstore.TreeEntry) []gitstore.TreeEntry {
	for i := range entries {
		if entries[i].Name == e.Name {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}
