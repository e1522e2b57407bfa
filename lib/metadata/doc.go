// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadata implements Driftwood's signed metadata model: the
// hash-linked, threshold-signed documents that establish who may
// contribute to a drop and which keys speak for them.
//
// Two document chains exist. An Identity describes a participant: a
// set of SSH public keys and a signature threshold, revised over time
// with each revision linking to its predecessor by content hash. A
// Drop describes a shared patch space: roles (root, snapshot, mirrors,
// per-branch) whose members are identities, likewise revised as a
// hash-linked chain. Mirrors and Alternates are leaf documents signed
// under a drop's mirrors role.
//
// Every document is serialized through lib/canonical; the SHA-512 of
// the canonical form is the signing payload. Verification walks a
// chain from head to genesis. At every link the head revision's
// signature set must meet the revision's own threshold under its own
// keys AND the predecessor's threshold under the predecessor's keys,
// so a key rotation is only valid when enough holders of the old keys
// approved it. Invalid individual signatures are logged and skipped;
// only an unmet threshold is fatal.
package metadata
