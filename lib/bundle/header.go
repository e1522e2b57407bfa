// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle implements the git bundle container Driftwood uses
// to move patches between nodes: the v2/v3 header grammar, the
// order-independent bundle hash derived from it, and an HTTP fetcher
// that persists verified bundle files atomically.
package bundle

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

// Bundle file signatures.
const (
	SignatureV2 = "# v2 git bundle"
	SignatureV3 = "# v3 git bundle"
)

// FileExtension is the extension of stored bundle files.
const FileExtension = ".bundle"

// ListExtension is the extension of the alternate-location sidecar
// files.
const ListExtension = ".uris"

// Version is the bundle container version.
type Version string

const (
	V2 Version = "v2"
	V3 Version = "v3"
)

// ObjectFormat is the hash algorithm of the object ids in a bundle.
type ObjectFormat string

const (
	Sha1   ObjectFormat = "sha1"
	Sha256 ObjectFormat = "sha256"
)

func (f ObjectFormat) hexLen() int {
	if f == Sha256 {
		return 64
	}
	return 40
}

// ObjectID is a hex git object id, either SHA-1 (40 chars) or SHA-256
// (64 chars).
type ObjectID string

// ParseObjectID validates a hex object id of either length.
func ParseObjectID(s string) (ObjectID, error) {
	if len(s) != 40 && len(s) != 64 {
		return "", fmt.Errorf("bundle: invalid object id length %d", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("bundle: invalid object id %q: %w", s, err)
	}
	return ObjectID(strings.ToLower(s)), nil
}

func (o ObjectID) String() string {
	return string(o)
}

// Bytes returns the raw digest.
func (o ObjectID) Bytes() []byte {
	raw, err := hex.DecodeString(string(o))
	if err != nil {
		return nil
	}
	return raw
}

// lessObjectID orders SHA-1 ids before SHA-256 ids, each group by
// digest bytes. This is the order the bundle hash depends on.
func lessObjectID(a, b ObjectID) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// Header is the reference section of a bundle file: the container
// version, object format, prerequisite objects the receiver must
// already have, and the references the bundle carries.
type Header struct {
	Version       Version                        `json:"version"`
	ObjectFormat  ObjectFormat                   `json:"object-format"`
	Prerequisites []ObjectID                     `json:"prerequisites"`
	References    map[gitstore.Refname]ObjectID  `json:"references"`
}

// ParseHeader reads a bundle header from br, leaving br positioned at
// the start of the pack section. It returns the header and the number
// of bytes consumed.
func ParseHeader(br *bufio.Reader) (*Header, int64, error) {
	var consumed int64
	readLine := func() (string, error) {
		line, err := br.ReadString('\n')
		consumed += int64(len(line))
		if err == io.EOF && line != "" {
			err = nil
		}
		return strings.TrimSuffix(line, "\n"), err
	}

	first, err := readLine()
	if err != nil {
		return nil, consumed, fmt.Errorf("bundle: empty input")
	}

	h := &Header{References: make(map[gitstore.Refname]ObjectID)}
	switch first {
	case SignatureV2:
		h.Version = V2
		h.ObjectFormat = Sha1
	case SignatureV3:
		h.Version = V3
	default:
		return nil, consumed, fmt.Errorf("bundle: invalid signature %q", first)
	}

	line, err := readLine()
	if err != nil {
		return nil, consumed, fmt.Errorf("bundle: truncated header")
	}

	if h.Version == V3 {
		if !strings.HasPrefix(line, "@") {
			return nil, consumed, fmt.Errorf("bundle: expected capabilities")
		}
		for strings.HasPrefix(line, "@") {
			if strings.HasPrefix(line, "@filter") {
				return nil, consumed, fmt.Errorf("bundle: object filters are not supported")
			}
			switch strings.TrimPrefix(line, "@object-format=") {
			case "sha1":
				h.ObjectFormat = Sha1
			case "sha256":
				h.ObjectFormat = Sha256
			default:
				return nil, consumed, fmt.Errorf("bundle: unrecognised capability %q", line)
			}
			if line, err = readLine(); err != nil {
				return nil, consumed, fmt.Errorf("bundle: truncated header")
			}
		}
		if h.ObjectFormat == "" {
			h.ObjectFormat = Sha1
		}
	}

	hexLen := h.ObjectFormat.hexLen()
	for line != "" {
		off := 0
		if strings.HasPrefix(line, "-") {
			off = 1
		}
		if len(line) < off+hexLen {
			return nil, consumed, fmt.Errorf("bundle: unrecognised header line %q", line)
		}
		oid, err := ParseObjectID(line[off : off+hexLen])
		if err != nil {
			return nil, consumed, err
		}
		if len(line) > off+hexLen && line[off+hexLen] != ' ' {
			return nil, consumed, fmt.Errorf("bundle: unrecognised header line %q", line)
		}

		if off > 0 {
			h.Prerequisites = append(h.Prerequisites, oid)
		} else {
			if len(line) < off+hexLen+2 {
				return nil, consumed, fmt.Errorf("bundle: reference line without refname")
			}
			name := line[off+hexLen+1:]
			if !strings.HasPrefix(name, "refs/") {
				return nil, consumed, fmt.Errorf("bundle: shorthand refname %q", name)
			}
			refname, err := gitstore.ParseRefname(name)
			if err != nil {
				return nil, consumed, err
			}
			if _, dup := h.References[refname]; dup {
				return nil, consumed, fmt.Errorf("bundle: duplicate refname %q", refname)
			}
			h.References[refname] = oid
		}

		if line, err = readLine(); err != nil {
			return nil, consumed, fmt.Errorf("bundle: header not terminated by blank line")
		}
	}

	if len(h.References) == 0 {
		return nil, consumed, fmt.Errorf("bundle: empty references")
	}

	sortObjectIDs(h.Prerequisites)
	h.Prerequisites = dedupeObjectIDs(h.Prerequisites)
	return h, consumed, nil
}

// ReadHeaderFile parses the header of a bundle file on disk,
// returning the header and the byte offset where the pack section
// starts.
func ReadHeaderFile(path string) (*Header, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("bundle: %w", err)
	}
	defer f.Close()
	return ParseHeader(bufio.NewReader(f))
}

// WriteTo writes the header in bundle file syntax, terminated by the
// blank line separating it from the pack section.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var buf strings.Builder
	switch h.Version {
	case V3:
		buf.WriteString(SignatureV3 + "\n")
		buf.WriteString("@object-format=" + string(h.ObjectFormat) + "\n")
	default:
		buf.WriteString(SignatureV2 + "\n")
	}

	prereqs := append([]ObjectID(nil), h.Prerequisites...)
	sortObjectIDs(prereqs)
	for _, pre := range prereqs {
		buf.WriteString("-" + string(pre) + "\n")
	}

	names := make([]string, 0, len(h.References))
	for name := range h.References {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		buf.WriteString(string(h.References[gitstore.Refname(name)]) + " " + name + "\n")
	}
	buf.WriteString("\n")

	n, err := io.WriteString(w, buf.String())
	return int64(n), err
}

// Hash derives the bundle hash: the SHA-256 over the sorted set of
// all object ids in the header (prerequisites and reference tips
// alike). Two headers naming the same objects hash identically no
// matter how the bundle was assembled.
func (h *Header) Hash() Hash {
	set := make(map[ObjectID]struct{}, len(h.Prerequisites)+len(h.References))
	for _, oid := range h.Prerequisites {
		set[oid] = struct{}{}
	}
	for _, oid := range h.References {
		set[oid] = struct{}{}
	}
	ids := make([]ObjectID, 0, len(set))
	for oid := range set {
		ids = append(ids, oid)
	}
	sortObjectIDs(ids)

	sha := sha256.New()
	for _, oid := range ids {
		sha.Write(oid.Bytes())
	}
	var out Hash
	copy(out[:], sha.Sum(nil))
	return out
}

func sortObjectIDs(ids []ObjectID) {
	sort.Slice(ids, func(i, j int) bool { return lessObjectID(ids[i], ids[j]) })
}

func dedupeObjectIDs(ids []ObjectID) []ObjectID {
	out := ids[:0]
	var prev ObjectID
	for i, oid := range ids {
		if i == 0 || oid != prev {
			out = append(out, oid)
		}
		prev = oid
	}
	return out
}
