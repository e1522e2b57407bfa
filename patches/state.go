// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/metadata"
)

// DropHead is the verified tip of a drop history: the commit, the
// tree of identity snapshots, and the drop document in force.
type DropHead struct {
	Tip  gitstore.OID
	Ids  gitstore.OID
	Drop metadata.Drop
}

// LoadDropHead resolves and verifies the drop document at the tip of
// name. Role member identities are verified out of the drop's own ids
// tree, so no external lookups happen.
func LoadDropHead(ctx context.Context, st *gitstore.Store, name gitstore.Refname, now time.Time) (*DropHead, error) {
	tip, err := st.ResolveRef(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("patches: drop ref %s: %w", name, err)
	}
	tree, err := st.TreeOf(ctx, tip)
	if err != nil {
		return nil, err
	}
	ids, err := st.ResolvePath(ctx, tree, idsTreeName)
	if err != nil {
		return nil, fmt.Errorf("patches: invalid drop: %s tree: %w", idsTreeName, err)
	}

	blobOID, err := st.ResolvePath(ctx, tree, dropMetaFile)
	if err != nil {
		return nil, fmt.Errorf("patches: invalid drop: %s: %w", dropMetaFile, err)
	}
	raw, err := st.ReadBlob(ctx, blobOID)
	if err != nil {
		return nil, err
	}
	var signed metadata.Signed[metadata.Drop]
	if err := json.Unmarshal(raw, &signed); err != nil {
		return nil, fmt.Errorf("patches: %s: %w", dropMetaFile, err)
	}

	findPrev := func(h metadata.ContentHash) (metadata.Signed[metadata.Drop], error) {
		return loadSignedBlob[metadata.Drop](ctx, st, h)
	}
	findSigner := func(id metadata.IdentityID) (metadata.KeySet, error) {
		v, err := FindIdentityInTree(ctx, st, ids, id, now)
		if err != nil {
			return nil, err
		}
		return v.Identity().Keys, nil
	}
	verified, err := metadata.VerifyDrop(signed, findPrev, findSigner)
	if err != nil {
		return nil, fmt.Errorf("patches: verify drop: %w", err)
	}

	return &DropHead{Tip: tip, Ids: ids, Drop: verified.Drop()}, nil
}

// LoadMirrors reads and verifies the drop's mirrors document, stored
// next to the drop document at the history tip and signed under the
// drop's mirrors role. A drop without one returns nil.
func LoadMirrors(ctx context.Context, st *gitstore.Store, head *DropHead, now time.Time) (*metadata.Mirrors, error) {
	tree, err := st.TreeOf(ctx, head.Tip)
	if err != nil {
		return nil, err
	}
	blobOID, err := st.ResolvePath(ctx, tree, mirrorsMetaFile)
	if errors.Is(err, gitstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := st.ReadBlob(ctx, blobOID)
	if err != nil {
		return nil, err
	}
	var signed metadata.Signed[metadata.Mirrors]
	if err := json.Unmarshal(raw, &signed); err != nil {
		return nil, fmt.Errorf("patches: %s: %w", mirrorsMetaFile, err)
	}

	findSigner := func(id metadata.IdentityID) (metadata.KeySet, error) {
		v, err := FindIdentityInTree(ctx, st, head.Ids, id, now)
		if err != nil {
			return nil, err
		}
		return v.Identity().Keys, nil
	}
	if err := head.Drop.VerifyMirrors(signed, now, findSigner); err != nil {
		return nil, fmt.Errorf("patches: verify mirrors: %w", err)
	}
	m := signed.Signed
	return &m, nil
}

// FindIdentityInTree loads and verifies the identity snapshot stored
// under ids/<id>. Predecessor revisions resolve from the snapshot's
// own folded history, by content hash.
func FindIdentityInTree(ctx context.Context, st *gitstore.Store, ids gitstore.OID, id metadata.IdentityID, now time.Time) (*metadata.VerifiedIdentity, error) {
	blobOID, err := st.ResolvePath(ctx, ids, id.String()+"/"+identityMetaFile)
	if err != nil {
		return nil, fmt.Errorf("patches: identity %s: %w", id, err)
	}
	raw, err := st.ReadBlob(ctx, blobOID)
	if err != nil {
		return nil, err
	}
	var signed metadata.Signed[metadata.Identity]
	if err := json.Unmarshal(raw, &signed); err != nil {
		return nil, fmt.Errorf("patches: identity %s: %w", id, err)
	}

	findPrev := historyResolver(ctx, st, ids, id)
	verified, err := metadata.VerifyIdentity(signed, now, findPrev)
	if err != nil {
		return nil, fmt.Errorf("patches: verify identity %s: %w", id, err)
	}
	if verified.ID() != id {
		return nil, fmt.Errorf("patches: ids don't match after verification: expected %s found %s", id, verified.ID())
	}
	return verified, nil
}

// historyResolver resolves identity predecessors against the folded
// history tree of a snapshot: entries are matched by blob object id,
// which for stored metadata equals the content hash's legacy digest.
func historyResolver(ctx context.Context, st *gitstore.Store, ids gitstore.OID, id metadata.IdentityID) metadata.IdentityResolver {
	var entries []gitstore.TreeEntry
	loaded := false
	return func(h metadata.ContentHash) (metadata.Signed[metadata.Identity], error) {
		var out metadata.Signed[metadata.Identity]
		if !loaded {
			histOID, err := st.ResolvePath(ctx, ids, id.String()+"/"+foldedHistory)
			if err != nil {
				return out, fmt.Errorf("history of %s: %w", id, err)
			}
			entries, err = st.ReadTree(ctx, histOID)
			if err != nil {
				return out, err
			}
			loaded = true
		}
		want := gitstore.OID(hex.EncodeToString(h.SHA1[:]))
		for _, e := range entries {
			if e.OID == want {
				return loadSignedBlob[metadata.Identity](ctx, st, h)
			}
		}
		return out, fmt.Errorf("parent %s not found in history of %s", h, id)
	}
}

// loadSignedBlob reads a signed metadata document out of the object
// store by content hash, cross-checking the SHA-256 half against the
// stored bytes.
func loadSignedBlob[T any](ctx context.Context, st *gitstore.Store, h metadata.ContentHash) (metadata.Signed[T], error) {
	var out metadata.Signed[T]
	raw, err := st.ReadBlob(ctx, gitstore.OID(hex.EncodeToString(h.SHA1[:])))
	if err != nil {
		return out, err
	}
	if got := metadata.ContentHashOf(raw); !got.Equal(h) {
		return out, fmt.Errorf("object %s does not match its content hash", h)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// foldIdentity writes the snapshot tree for an adopted identity
// revision under ids/<id> and returns the updated ids tree. The
// id.json blob and every history entry reference the submitted blobs
// by content hash, so stored bytes stay byte-identical to what was
// signed.
func foldIdentity(ctx context.Context, st *gitstore.Store, ids gitstore.OID, head metadata.Signed[metadata.Identity], headHash metadata.ContentHash, id metadata.IdentityID) (gitstore.OID, error) {
	var hashes []metadata.ContentHash
	cur := head.Signed
	for cur.Prev != nil {
		h := *cur.Prev
		hashes = append(hashes, h)
		prev, err := loadSignedBlob[metadata.Identity](ctx, st, h)
		if err != nil {
			return "", fmt.Errorf("patches: fold identity %s: %w", id, err)
		}
		cur = prev.Signed
	}

	// History entries count up from genesis.
	var histEntries []gitstore.TreeEntry
	for i := len(hashes) - 1; i >= 0; i-- {
		histEntries = append(histEntries, gitstore.TreeEntry{
			Mode: gitstore.ModeBlob,
			Type: "blob",
			OID:  gitstore.OID(hex.EncodeToString(hashes[i].SHA1[:])),
			Name: fmt.Sprintf("%d.json", len(hashes)-1-i),
		})
	}
	hist, err := st.WriteTree(ctx, histEntries)
	if err != nil {
		return "", err
	}

	idTree, err := st.WriteTree(ctx, []gitstore.TreeEntry{
		{Mode: gitstore.ModeTree, Type: "tree", OID: hist, Name: foldedHistory},
		{Mode: gitstore.ModeBlob, Type: "blob", OID: gitstore.OID(hex.EncodeToString(headHash.SHA1[:])), Name: identityMetaFile},
	})
	if err != nil {
		return "", err
	}

	rootEntries, err := st.ReadTree(ctx, ids)
	if err != nil {
		return "", err
	}
	rootEntries = upsertEntry(rootEntries, gitstore.TreeEntry{
		Mode: gitstore.ModeTree, Type: "tree", OID: idTree, Name: id.String(),
	})
	return st.WriteTree(ctx, rootEntries)
}

// UnbundledRef maps a bundled refname into the per-patch namespace:
// <prefix>/<heads>/<name without refs/>.
func UnbundledRef(prefix gitstore.Refname, heads Heads, name gitstore.Refname) (gitstore.Refname, error) {
	joined := strings.TrimRight(string(prefix), "/") + "/" + heads.String() + "/" + strings.TrimPrefix(string(name), "refs/")
	return gitstore.ParseRefname(joined)
}

// unbundle stages refs for every reference the bundle carried,
// sandboxed under the per-patch namespace.
func unbundle(ctx context.Context, st *gitstore.Store, tx *gitstore.Tx, prefix gitstore.Refname, r *Record) error {
	for _, name := range sortedRefNames(r.Meta.Bundle.References) {
		oid := gitstore.OID(r.Meta.Bundle.References[name])
		ok, err := st.HasObject(ctx, oid)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("patches: ref not actually in bundle: %s %s", oid, name)
		}
		byHeads, err := UnbundledRef(prefix, r.Heads, name)
		if err != nil {
			return err
		}
		tx.Update(byHeads, oid, nil)
	}
	return nil
}

// mergeNotes folds the submitted topic head into the topic's note
// thread. A new topic starts with an empty-tree commit on top of the
// submitted head; an existing one requires a merge base, and every
// commit the submission adds must carry a good signature by the
// submitter before the two-parent merge commit is staged.
func mergeNotes(ctx context.Context, st *gitstore.Store, tx *gitstore.Tx, submitter *metadata.VerifiedIdentity, r *Record) error {
	topicRef := r.Topic.Refname()
	theirsOID, ok := r.Meta.Bundle.References[topicRef]
	if !ok {
		return fmt.Errorf("patches: invalid record: missing %q", topicRef)
	}
	theirs := gitstore.OID(theirsOID)

	ours, err := st.ResolveRef(ctx, topicRef)
	switch {
	case errors.Is(err, gitstore.ErrNotFound):
		msg := fmt.Sprintf("Create topic from '%s'\n\n%s\n", theirs, r.Heads.Trailer())
		oid, err := st.CommitTree(ctx, gitstore.EmptyTree, []gitstore.OID{theirs}, msg)
		if err != nil {
			return err
		}
		tx.Create(topicRef, oid)
		return nil
	case err != nil:
		return err
	}

	if ours == theirs {
		return fmt.Errorf("patches: illegal state: theirs equals ours (%s)", ours)
	}
	base, err := st.MergeBase(ctx, ours, theirs)
	if errors.Is(err, gitstore.ErrNotFound) {
		return fmt.Errorf("patches: %s: %s diverges from %s", topicRef, theirs, ours)
	}
	if err != nil {
		return err
	}
	if err := verifyCommitRange(ctx, st, submitter, theirs, base); err != nil {
		return err
	}

	msg := fmt.Sprintf("Merge '%s' into %s\n\n%s\n", theirs, r.Topic, r.Heads.Trailer())
	oid, err := st.CommitTree(ctx, gitstore.EmptyTree, []gitstore.OID{ours, theirs}, msg)
	if err != nil {
		return err
	}
	tx.Update(topicRef, oid, &ours)
	return nil
}

// verifyCommitRange checks that every first-parent commit in
// tip..base carries a good SSH signature by one of the submitter's
// current keys.
func verifyCommitRange(ctx context.Context, st *gitstore.Store, submitter *metadata.VerifiedIdentity, tip, base gitstore.OID) error {
	commits, err := st.ListCommitsFirstParent(ctx, tip, []gitstore.OID{base})
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		return nil
	}
	signersFile, cleanup, err := writeAllowedSigners(submitter.Identity().Keys)
	if err != nil {
		return err
	}
	defer cleanup()
	for _, c := range commits {
		if err := st.VerifyCommitSigned(ctx, c, signersFile); err != nil {
			return fmt.Errorf("patches: commit %s not signed by submitter %s: %w", c, submitter.ID(), err)
		}
	}
	return nil
}

// writeAllowedSigners renders a key set as a git allowed-signers file
// in a temp location.
func writeAllowedSigners(keys metadata.KeySet) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "driftwood-signers-*")
	if err != nil {
		return "", nil, fmt.Errorf("patches: %w", err)
	}
	for _, kid := range keys.IDs() {
		if _, err := fmt.Fprintf(f, "* %s\n", keys[kid]); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", nil, fmt.Errorf("patches: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("patches: %w", err)
	}
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}

// TrackingBranch maps a branch to its tracking ref under RefBranches.
// Only refs/heads/ names qualify, and the drop's own checkout branch
// is reserved.
func TrackingBranch(branch gitstore.Refname) (gitstore.Refname, error) {
	suffix, ok := strings.CutPrefix(string(branch), "refs/heads/")
	if !ok {
		return "", fmt.Errorf("patches: not a branch: %s", branch)
	}
	if suffix == "patches" {
		return "", fmt.Errorf("patches: reserved name: %s", branch)
	}
	return gitstore.ParseRefname(string(RefBranches) + "/" + suffix)
}

// symrefAlias records a branch alias to apply after the transaction
// commits: in a bare drop the plain branch name becomes a symref to
// its tracking ref.
type symrefAlias struct {
	name   gitstore.Refname
	target gitstore.Refname
}

// updateBranches fast-forwards tracking branches the submitter is
// entitled to fold, per the drop's per-branch roles. A tip that does
// not descend from the recorded one is an error; an invalid branch
// name in the drop document is logged and skipped.
func updateBranches(ctx context.Context, st *gitstore.Store, tx *gitstore.Tx, submitter *metadata.VerifiedIdentity, drop metadata.Drop, r *Record, logger *slog.Logger) ([]symrefAlias, error) {
	var aliases []symrefAlias
	for _, branch := range sortedBranchNames(drop.Roles.Branches) {
		role := drop.Roles.Branches[branch]
		if !role.Contains(submitter.ID()) {
			continue
		}
		tracking, err := TrackingBranch(branch)
		if err != nil {
			logger.Warn("skipping invalid branch", "branch", branch, "error", err)
			continue
		}
		target, ok := r.Meta.Bundle.References[branch]
		if !ok {
			continue
		}

		ours, err := st.ResolveRef(ctx, tracking)
		switch {
		case errors.Is(err, gitstore.ErrNotFound):
			tx.Update(tracking, gitstore.OID(target), nil)
		case err != nil:
			return nil, err
		default:
			descendant, err := st.IsAncestor(ctx, ours, gitstore.OID(target))
			if err != nil {
				return nil, err
			}
			if !descendant {
				return nil, fmt.Errorf("patches: checkpoint branch %s diverges from previously recorded tip %s", branch, ours)
			}
			tx.Update(tracking, gitstore.OID(target), &ours)
		}
		aliases = append(aliases, symrefAlias{name: branch, target: tracking})
	}
	return aliases, nil
}

func sortedRefNames(refs map[gitstore.Refname]bundle.ObjectID) []gitstore.Refname {
	names := make([]gitstore.Refname, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

func sortedBranchNames(branches map[gitstore.Refname]metadata.AnnotatedRole) []gitstore.Refname {
	names := make([]gitstore.Refname, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
