// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package patches implements the drop's patch log: submissions arrive
// as git bundles, pass the acceptance policy, and are appended to the
// drop history as signed record commits. The package also maintains
// the derived state (unbundled refs, topic note threads, tracking
// branches, the replay-protection seen tree) and iterates records for
// mirror sync.
package patches

import "github.com/driftwood-project/driftwood/lib/gitstore"

// MaxBundleLen caps the size of a submitted patch bundle in bytes.
const MaxBundleLen = 5_000_000

// SignatureHeader carries the submitter's signature on HTTP
// submissions.
const SignatureHeader = "X-it-Signature"

// Ref namespaces of a drop repository.
const (
	// RefDropHeadsPatches is the conventional checkout branch of the
	// drop history.
	RefDropHeadsPatches gitstore.Refname = "refs/heads/patches"

	// RefBranches holds tracking branches folded from accepted merges.
	RefBranches gitstore.Refname = "refs/drift/branches"
	// RefBundles is the prefix under which accepted bundles' refs are
	// stored, keyed by their heads hash.
	RefBundles gitstore.Refname = "refs/drift/bundles"
	// RefPatches is the drop history: one record commit per accepted
	// submission.
	RefPatches gitstore.Refname = "refs/drift/patches"
	// RefSeen anchors the sharded tree of already-accepted heads.
	RefSeen gitstore.Refname = "refs/drift/seen"
	// RefTopics is the prefix of per-topic note threads.
	RefTopics gitstore.Refname = "refs/drift/topics"
	// RefIDs is the prefix under which submitters publish their
	// identity documents inside bundles.
	RefIDs gitstore.Refname = "refs/drift/ids"
)

// Blob names inside a record commit's tree.
const (
	blobHeads = "heads"
	blobMeta  = "record.json"
)

// Metadata file names inside drop trees.
const (
	dropMetaFile     = "drop.json"
	mirrorsMetaFile  = "mirrors.json"
	identityMetaFile = "id.json"
	foldedHistory    = ".history"
	idsTreeName      = "ids"
)
