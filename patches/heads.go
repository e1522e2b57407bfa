// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package patches

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/driftwood-project/driftwood/lib/bundle"
)

// Heads identifies a patch submission: the SHA-256 over the sorted
// set of distinct reference tips in its bundle header. Two bundles
// delivering the same tips are the same patch, no matter how the pack
// was assembled. Heads is also the payload the submitter signs.
type Heads [32]byte

// headsTrailer starts the commit message trailer linking a commit to
// its patch.
const headsTrailer = "Patch:"

// HeadsFromHeader derives the patch id from a bundle header.
func HeadsFromHeader(h *bundle.Header) Heads {
	tips := make([]bundle.ObjectID, 0, len(h.References))
	for _, oid := range h.References {
		tips = append(tips, oid)
	}
	sort.Slice(tips, func(i, j int) bool {
		if len(tips[i]) != len(tips[j]) {
			return len(tips[i]) < len(tips[j])
		}
		return tips[i] < tips[j]
	})

	sha := sha256.New()
	var prev bundle.ObjectID
	for i, tip := range tips {
		if i > 0 && tip == prev {
			continue
		}
		sha.Write(tip.Bytes())
		prev = tip
	}
	var out Heads
	copy(out[:], sha.Sum(nil))
	return out
}

// HeadsFromHex parses a 64-character hex string.
func HeadsFromHex(s string) (Heads, error) {
	var h Heads
	if err := decodeHexInto(h[:], s); err != nil {
		return Heads{}, fmt.Errorf("patches: invalid heads %q", s)
	}
	return h, nil
}

// HeadsFromMessage scans a commit message for the patch trailer.
// Returns false if no trailer is present.
func HeadsFromMessage(message string) (Heads, bool, error) {
	value, ok := findTrailer(message, headsTrailer)
	if !ok {
		return Heads{}, false, nil
	}
	h, err := HeadsFromHex(value)
	if err != nil {
		return Heads{}, false, err
	}
	return h, true, nil
}

func (h Heads) String() string {
	return hexEncode(h[:])
}

// Trailer renders the commit message trailer naming this patch.
func (h Heads) Trailer() string {
	return headsTrailer + " " + h.String()
}

// MarshalText implements encoding.TextMarshaler.
func (h Heads) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Heads) UnmarshalText(text []byte) error {
	parsed, err := HeadsFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// shard splits the hex form for the sharded seen tree: a two-char
// fan-out directory and the remainder as the leaf name.
func (h Heads) shard() (prefix, rest string) {
	s := h.String()
	return s[:2], s[2:]
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func decodeHexInto(dst []byte, s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
