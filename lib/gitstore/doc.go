// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitstore provides typed access to the git CLI for the
// content-addressed object store backing a drop. All commands target
// a specific repository directory via the -C flag, which is
// automatically injected by all Store methods.
//
// Pack transfer, object storage, and ref storage are delegated to git
// entirely; this package adds the small typed surface Driftwood
// needs: blob/tree/commit plumbing, ancestry queries, pack indexing,
// refname validation, and atomic multi-ref transactions over
// `git update-ref --stdin`.
package gitstore
