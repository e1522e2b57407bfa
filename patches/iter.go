// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

// Records reads the patch records of a drop history, newest first (or
// oldest first with reverse). Commits without a topic trailer, such
// as the genesis metadata commit, are skipped.
func Records(ctx context.Context, st *gitstore.Store, dropRef gitstore.Refname, reverse bool) ([]*Record, error) {
	tip, err := st.ResolveRef(ctx, dropRef)
	if err != nil {
		return nil, fmt.Errorf("patches: drop ref %s: %w", dropRef, err)
	}
	commits, err := st.ListCommits(ctx, tip, nil)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(commits))
	for _, c := range commits {
		r, err := RecordFromCommit(ctx, st, c)
		if errors.Is(err, ErrNotRecord) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if reverse {
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
	}
	return records, nil
}
