// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrIncompatibleVersion means a document's format version has a
	// newer major version than this implementation supports.
	ErrIncompatibleVersion = errors.New("metadata: incompatible format version")

	// ErrSignatureThreshold means the provided signature set does not
	// contain enough valid signatures by authorized keys.
	ErrSignatureThreshold = errors.New("metadata: required signature threshold not met")

	// ErrExpired means the document is past its expiry date.
	ErrExpired = errors.New("metadata: document past its expiry date")

	// ErrNotRoot means an identity id was requested for a revision
	// that is not the genesis revision.
	ErrNotRoot = errors.New("metadata: not the root revision")
)

// DuplicateKeyError reports a key that appears in the current key set
// of more than one identity within the same role resolution. Shared
// keys would let a single actor satisfy a multi-party threshold, so
// verification refuses them outright.
type DuplicateKeyError struct {
	Key KeyID
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("metadata: key %s appears in more than one identity", e.Key)
}
