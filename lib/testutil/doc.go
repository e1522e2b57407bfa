// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Driftwood
// packages.
//
// [RequireGit] skips tests that need a git binary on hosts without
// one. [NewSigner] generates a throwaway ed25519 signing identity,
// and [WriteKeyFile] persists its private key in OpenSSH format so
// git can sign commits with it. [UniqueID] hands out unique names for
// tests that create refs or files in a shared store.
package testutil
