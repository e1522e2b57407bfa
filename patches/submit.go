// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/lib/policy"
)

// Submission is a patch bundle together with the submitter's
// signature over its patch id.
type Submission struct {
	Signature Signature
	Bundle    *Bundle
}

// SubmissionFromHTTP reads a submission off an HTTP request: the
// signature from the submission header, the bundle from the body.
// Requests without a declared content length are rejected, as are
// bodies over MaxBundleLen.
func SubmissionFromHTTP(r *http.Request, bundleDir string) (*Submission, error) {
	if r.ContentLength < 0 {
		return nil, fmt.Errorf("patches: submission without content length")
	}
	if r.ContentLength > MaxBundleLen {
		return nil, fmt.Errorf("patches: submission exceeds %d bytes", MaxBundleLen)
	}
	value := r.Header.Get(SignatureHeader)
	if value == "" {
		return nil, fmt.Errorf("patches: missing %s header", SignatureHeader)
	}
	sig, err := ParseSignatureHeader(value)
	if err != nil {
		return nil, err
	}

	b, err := CopyBundle(io.LimitReader(r.Body, MaxBundleLen), bundleDir)
	if err != nil {
		return nil, err
	}
	return &Submission{Signature: sig, Bundle: b}, nil
}

// AcceptArgs is everything Accept needs from the receiving node.
type AcceptArgs struct {
	// UnbundlePrefix is the ref namespace accepted bundles' refs land
	// under, keyed by patch id. Must start with "refs/".
	UnbundlePrefix gitstore.Refname
	// DropRef is the drop history ref the record commit extends.
	DropRef gitstore.Refname
	// SeenRef anchors the replay-protection tree.
	SeenRef gitstore.Refname

	Store *gitstore.Store
	// Signer is the node's own key, which must be eligible for the
	// drop's snapshot role.
	Signer metadata.Signer
	// SigningKey is the value for user.signingkey when signing the
	// record commit: a private key path, or "key::" plus the public
	// key for agent signing.
	SigningKey string
	Policy     policy.Policy
	Logger     *slog.Logger
	Now        time.Time
}

// Accept runs a submission through the drop's acceptance gates and,
// if all pass, appends a record commit to the drop history, marks the
// patch id seen, stages the bundle's refs under the per-patch
// namespace, folds the topic's note thread, and fast-forwards any
// tracking branches the submitter is entitled to. All ref updates
// land in one atomic transaction.
func (s *Submission) Accept(ctx context.Context, args AcceptArgs) (*Record, error) {
	if !strings.HasPrefix(string(args.UnbundlePrefix), "refs/") {
		return nil, fmt.Errorf("patches: unbundle prefix must be under refs/, got %q", args.UnbundlePrefix)
	}
	logger := args.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := args.Store
	b := s.Bundle

	if b.IsEncrypted() && !args.Policy.AllowEncrypted {
		return nil, fmt.Errorf("patches: encrypted bundles are not accepted here")
	}
	if b.Header.ObjectFormat != bundle.Sha1 {
		return nil, fmt.Errorf("patches: object format %q not supported by this drop", b.Header.ObjectFormat)
	}
	if len(b.Header.Prerequisites) == 0 && !args.Policy.AllowFatPack {
		return nil, fmt.Errorf("patches: bundle carries full history, thin packs required")
	}
	topic, err := classifyRefs(b.Header, args.Policy)
	if err != nil {
		return nil, err
	}

	heads := HeadsFromHeader(b.Header)

	seenTree, seenTip, err := loadSeen(ctx, st, args.SeenRef)
	if err != nil {
		return nil, err
	}
	if seenTree != "" {
		replayed, err := seenContains(ctx, st, seenTree, heads)
		if err != nil {
			return nil, err
		}
		if replayed {
			return nil, fmt.Errorf("patches: %s already seen", heads)
		}
	}

	if b.IsEncrypted() {
		if err := checkPrerequisites(ctx, st, b.Header.Prerequisites); err != nil {
			return nil, err
		}
	} else {
		pack, err := b.Packdata()
		if err != nil {
			return nil, err
		}
		err = st.IndexPack(ctx, pack)
		pack.Close()
		if err != nil {
			return nil, fmt.Errorf("patches: index pack: %w", err)
		}
		if err := checkCommitCounts(ctx, st, b.Header, args.Policy.MaxCommits); err != nil {
			return nil, err
		}
	}

	head, err := LoadDropHead(ctx, st, args.DropRef, args.Now)
	if err != nil {
		return nil, err
	}
	if th := head.Drop.Roles.Snapshot.Threshold; th != 1 {
		return nil, fmt.Errorf("patches: drop snapshot role threshold %d, only 1 is supported", th)
	}
	if err := checkSignerEligible(ctx, st, head, args.Signer, args.Now); err != nil {
		return nil, err
	}

	submitter, theirSigned, err := resolveSubmitter(ctx, st, head.Ids, s.Signature.Signer, args.Now)
	if err != nil {
		return nil, err
	}
	if !submitter.DidSign(heads[:], s.Signature.Signature) {
		return nil, fmt.Errorf("patches: signature over %s does not verify against identity %s", heads, submitter.ID())
	}

	ids := head.Ids
	if theirSigned != nil {
		ids, err = foldIdentity(ctx, st, head.Ids, *theirSigned, s.Signature.Signer, submitter.ID())
		if err != nil {
			return nil, err
		}
	}

	record := &Record{
		Topic: topic,
		Heads: heads,
		Meta:  Meta{Bundle: BundleInfoOf(b), Signature: s.Signature},
	}
	tip := head.Tip
	commit, headsBlob, err := record.Commit(ctx, st, ids, &tip, args.SigningKey)
	if err != nil {
		return nil, err
	}

	newSeenTree, err := seenAdd(ctx, st, seenTree, heads, headsBlob)
	if err != nil {
		return nil, err
	}
	var seenParents []gitstore.OID
	if seenTip != nil {
		seenParents = append(seenParents, *seenTip)
	}
	seenCommit, err := st.CommitTree(ctx, newSeenTree, seenParents, heads.Trailer()+"\n")
	if err != nil {
		return nil, err
	}

	tx := st.Begin()
	tx.Update(args.DropRef, commit, &tip)
	tx.Update(args.SeenRef, seenCommit, seenTip)

	var aliases []symrefAlias
	if !b.IsEncrypted() {
		if err := unbundle(ctx, st, tx, args.UnbundlePrefix, record); err != nil {
			return nil, err
		}
		if err := mergeNotes(ctx, st, tx, submitter, record); err != nil {
			return nil, err
		}
		if record.IsMergepoint() {
			aliases, err = updateBranches(ctx, st, tx, submitter, head.Drop, record, logger)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// Symrefs are not transactional; apply the branch aliases only
	// after the transaction landed.
	for _, a := range aliases {
		if err := st.SetSymref(ctx, a.name, a.target); err != nil {
			logger.Warn("failed to alias branch", "branch", a.name, "target", a.target, "error", err)
		}
	}

	logger.Info("accepted patch",
		"topic", record.Topic,
		"heads", record.Heads,
		"submitter", submitter.ID(),
		"record", commit)
	return record, nil
}

// classifyRefs checks every bundled ref against the policy, enforces
// the per-category caps, and returns the topic of the single topic
// ref the bundle must carry.
func classifyRefs(h *bundle.Header, p policy.Policy) (Topic, error) {
	if len(h.References) > p.MaxRefs {
		return Topic{}, fmt.Errorf("patches: too many refs: %d, max %d", len(h.References), p.MaxRefs)
	}

	var branches, tags, notes, topics int
	var topic Topic
	for name := range h.References {
		if !p.AllowsRef(name) {
			return Topic{}, fmt.Errorf("patches: ref %q not allowed by policy", name)
		}
		switch {
		case strings.HasPrefix(string(name), "refs/heads/"):
			branches++
		case strings.HasPrefix(string(name), "refs/tags/"):
			tags++
		case strings.HasPrefix(string(name), "refs/notes/"):
			notes++
		case strings.HasPrefix(string(name), string(RefTopics)+"/"):
			topics++
			t, err := TopicFromRefname(name)
			if err != nil {
				return Topic{}, err
			}
			topic = t
		}
	}

	if branches > p.MaxBranches {
		return Topic{}, fmt.Errorf("patches: too many branches: %d, max %d", branches, p.MaxBranches)
	}
	if tags > p.MaxTags {
		return Topic{}, fmt.Errorf("patches: too many tags: %d, max %d", tags, p.MaxTags)
	}
	if notes > p.MaxNotes {
		return Topic{}, fmt.Errorf("patches: too many notes: %d, max %d", notes, p.MaxNotes)
	}
	if topics != 1 {
		return Topic{}, fmt.Errorf("patches: expected exactly one topic ref, found %d", topics)
	}
	return topic, nil
}

// loadSeen resolves the seen ref to its tree, or empty values if the
// ref does not exist yet.
func loadSeen(ctx context.Context, st *gitstore.Store, name gitstore.Refname) (tree gitstore.OID, tip *gitstore.OID, err error) {
	commit, err := st.ResolveRef(ctx, name)
	if errors.Is(err, gitstore.ErrNotFound) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	tree, err = st.TreeOf(ctx, commit)
	if err != nil {
		return "", nil, err
	}
	return tree, &commit, nil
}

// checkPrerequisites verifies an encrypted bundle connects to history
// this drop already has: every prerequisite must be present and
// reachable from a previously staged bundle ref.
func checkPrerequisites(ctx context.Context, st *gitstore.Store, prereqs []bundle.ObjectID) error {
	var tips map[gitstore.Refname]gitstore.OID
	for _, pre := range prereqs {
		oid := gitstore.OID(pre)
		have, err := st.HasObject(ctx, oid)
		if err != nil {
			return err
		}
		if !have {
			return fmt.Errorf("patches: unknown prerequisite %s", pre)
		}
		if tips == nil {
			tips, err = st.ListRefs(ctx, string(RefBundles)+"/")
			if err != nil {
				return err
			}
		}
		reachable := false
		for _, tip := range tips {
			ok, err := st.IsAncestor(ctx, oid, tip)
			if err != nil {
				continue
			}
			if ok {
				reachable = true
				break
			}
		}
		if !reachable {
			return fmt.Errorf("patches: prerequisite %s not reachable from any recorded bundle", pre)
		}
	}
	return nil
}

// checkCommitCounts caps the commits each bundled ref introduces over
// the bundle's prerequisites. Every reference counts; a ref under an
// unexpected prefix must not smuggle history past the cap.
func checkCommitCounts(ctx context.Context, st *gitstore.Store, h *bundle.Header, maxCommits int) error {
	exclude := make([]gitstore.OID, 0, len(h.Prerequisites))
	for _, pre := range h.Prerequisites {
		exclude = append(exclude, gitstore.OID(pre))
	}
	for name, tip := range h.References {
		n, err := st.CountCommits(ctx, gitstore.OID(tip), exclude)
		if err != nil {
			return fmt.Errorf("patches: count commits of %s: %w", name, err)
		}
		if n > maxCommits {
			return fmt.Errorf("patches: %s introduces %d commits, max %d", name, n, maxCommits)
		}
	}
	return nil
}

// checkSignerEligible verifies the node's signer key belongs to an
// identity in the drop's snapshot role: only such nodes may extend
// the drop history. A role member missing from the ids tree is
// skipped; a member that fails to load or verify fails the
// submission, so a corrupt record cannot silently narrow the role.
func checkSignerEligible(ctx context.Context, st *gitstore.Store, head *DropHead, signer metadata.Signer, now time.Time) error {
	keyID := signer.PublicKey().ID()
	for _, id := range head.Drop.Roles.Snapshot.IDs {
		v, err := FindIdentityInTree(ctx, st, head.Ids, id, now)
		if errors.Is(err, gitstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, ok := v.Identity().Keys[keyID]; ok {
			return nil
		}
	}
	return fmt.Errorf("patches: this node's key is not eligible for the drop's snapshot role")
}

// resolveSubmitter loads the identity revision named by the signature
// header out of the object store and reconciles it with the revision
// stored in the drop's ids tree. The newer of the two wins; histories
// that contain neither one another are rejected. A non-nil second
// return means the submitted revision is newer and must be folded.
func resolveSubmitter(ctx context.Context, st *gitstore.Store, ids gitstore.OID, signerHash metadata.ContentHash, now time.Time) (*metadata.VerifiedIdentity, *metadata.Signed[metadata.Identity], error) {
	theirSigned, err := loadSignedBlob[metadata.Identity](ctx, st, signerHash)
	if err != nil {
		return nil, nil, fmt.Errorf("patches: submitter identity %s: %w", signerHash, err)
	}
	findPrev := func(h metadata.ContentHash) (metadata.Signed[metadata.Identity], error) {
		return loadSignedBlob[metadata.Identity](ctx, st, h)
	}
	theirs, err := metadata.VerifyIdentity(theirSigned, now, findPrev)
	if err != nil {
		return nil, nil, fmt.Errorf("patches: verify submitter identity: %w", err)
	}
	id := theirs.ID()

	storedOID, err := st.ResolvePath(ctx, ids, id.String()+"/"+identityMetaFile)
	if errors.Is(err, gitstore.ErrNotFound) {
		return theirs, &theirSigned, nil
	}
	if err != nil {
		return nil, nil, err
	}
	storedRaw, err := st.ReadBlob(ctx, storedOID)
	if err != nil {
		return nil, nil, err
	}
	storedHash := metadata.ContentHashOf(storedRaw)
	if storedHash.Equal(signerHash) {
		return theirs, nil, nil
	}

	newer, err := theirs.Identity().HasAncestor(storedHash, findPrev)
	if err != nil {
		return nil, nil, err
	}
	if newer {
		return theirs, &theirSigned, nil
	}

	stored, err := FindIdentityInTree(ctx, st, ids, id, now)
	if err != nil {
		return nil, nil, err
	}
	older, err := stored.Identity().HasAncestor(signerHash, historyResolver(ctx, st, ids, id))
	if err != nil {
		return nil, nil, err
	}
	if !older {
		return nil, nil, fmt.Errorf("patches: identity %s diverges from the stored revision", id)
	}
	return stored, nil, nil
}
