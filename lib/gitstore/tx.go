// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package gitstore

import (
	"bytes"
	"context"
	"fmt"
)

// Tx is a staged multi-ref update. Operations are collected with
// Update/Create/Delete and applied atomically by Commit via
// `git update-ref --stdin`: either every staged update lands or none
// does. A ref under concurrent modification fails the whole
// transaction.
type Tx struct {
	store *Store
	ops   []txOp
}

type txOp struct {
	verb string
	name Refname
	new  OID
	old  *OID
}

// Begin starts an empty transaction.
func (s *Store) Begin() *Tx {
	return &Tx{store: s}
}

// Update stages setting name to new. With old non-nil the ref must
// currently point at old (the zero OID means "must not exist").
func (t *Tx) Update(name Refname, new OID, old *OID) {
	t.ops = append(t.ops, txOp{verb: "update", name: name, new: new, old: old})
}

// Create stages creating name, failing if it already exists.
func (t *Tx) Create(name Refname, new OID) {
	t.ops = append(t.ops, txOp{verb: "create", name: name, new: new})
}

// Delete stages deleting name. With old non-nil the ref must
// currently point at old.
func (t *Tx) Delete(name Refname, old *OID) {
	t.ops = append(t.ops, txOp{verb: "delete", name: name, old: old})
}

// Len returns the number of staged operations.
func (t *Tx) Len() int {
	return len(t.ops)
}

// Commit applies all staged operations atomically. The underlying
// `update-ref --stdin` session takes all per-ref locks at prepare and
// releases them at commit; any contended or stale ref aborts the
// whole batch.
func (t *Tx) Commit(ctx context.Context) error {
	if len(t.ops) == 0 {
		return nil
	}

	// NUL-terminated input format: the command and refname are
	// separated by a space, every value is NUL-terminated, optional
	// values still take their terminator.
	var stdin bytes.Buffer
	stdin.WriteString("start\x00")
	for _, op := range t.ops {
		switch op.verb {
		case "update":
			fmt.Fprintf(&stdin, "update %s\x00%s\x00", op.name, op.new)
			if op.old != nil {
				stdin.WriteString(string(*op.old))
			}
			stdin.WriteByte(0)
		case "create":
			fmt.Fprintf(&stdin, "create %s\x00%s\x00", op.name, op.new)
		case "delete":
			fmt.Fprintf(&stdin, "delete %s\x00", op.name)
			if op.old != nil {
				stdin.WriteString(string(*op.old))
			}
			stdin.WriteByte(0)
		}
	}
	stdin.WriteString("prepare\x00commit\x00")

	if _, err := t.store.run(ctx, &stdin, "update-ref", "--stdin", "-z"); err != nil {
		return fmt.Errorf("gitstore: ref transaction: %w", err)
	}
	return nil
}
