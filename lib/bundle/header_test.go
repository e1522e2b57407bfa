// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

const (
	oidA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	oidB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	oidC = "cccccccccccccccccccccccccccccccccccccccc"
)

func parse(t *testing.T, input string) *Header {
	t.Helper()
	h, _, err := ParseHeader(bufio.NewReader(strings.NewReader(input)))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	return h
}

func TestParseHeaderV2(t *testing.T) {
	input := "# v2 git bundle\n" +
		"-" + oidA + "\n" +
		oidB + " refs/heads/main\n" +
		oidC + " refs/drift/topics/00ff\n" +
		"\nPACKdata"

	h := parse(t, input)
	if h.Version != V2 || h.ObjectFormat != Sha1 {
		t.Errorf("version/format = %s/%s", h.Version, h.ObjectFormat)
	}
	if len(h.Prerequisites) != 1 || h.Prerequisites[0] != ObjectID(oidA) {
		t.Errorf("prerequisites = %v", h.Prerequisites)
	}
	if h.References["refs/heads/main"] != ObjectID(oidB) {
		t.Errorf("references = %v", h.References)
	}
	if h.References["refs/drift/topics/00ff"] != ObjectID(oidC) {
		t.Errorf("references = %v", h.References)
	}
}

func TestParseHeaderLeavesReaderAtPack(t *testing.T) {
	input := "# v2 git bundle\n" + oidB + " refs/heads/main\n" + "\nPACKdata"
	br := bufio.NewReader(strings.NewReader(input))
	_, consumed, err := ParseHeader(br)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	rest := make([]byte, 8)
	if _, err := br.Read(rest); err != nil {
		t.Fatal(err)
	}
	if string(rest) != "PACKdata" {
		t.Errorf("reader positioned at %q, want pack start", rest)
	}
	if want := int64(len(input) - len("PACKdata")); consumed != want {
		t.Errorf("consumed = %d, want %d", consumed, want)
	}
}

func TestParseHeaderV3ObjectFormat(t *testing.T) {
	sha256oid := strings.Repeat("ab", 32)
	input := "# v3 git bundle\n" +
		"@object-format=sha256\n" +
		sha256oid + " refs/heads/main\n\n"

	h := parse(t, input)
	if h.Version != V3 || h.ObjectFormat != Sha256 {
		t.Errorf("version/format = %s/%s", h.Version, h.ObjectFormat)
	}
	if h.References["refs/heads/main"] != ObjectID(sha256oid) {
		t.Errorf("references = %v", h.References)
	}
}

func TestParseHeaderV3MultipleCapabilities(t *testing.T) {
	sha256oid := strings.Repeat("ab", 32)
	input := "# v3 git bundle\n" +
		"@object-format=sha1\n" +
		"@object-format=sha256\n" +
		sha256oid + " refs/heads/main\n\n"

	h := parse(t, input)
	if h.ObjectFormat != Sha256 {
		t.Errorf("object format = %s, want sha256 (last capability wins)", h.ObjectFormat)
	}
	if h.References["refs/heads/main"] != ObjectID(sha256oid) {
		t.Errorf("references = %v", h.References)
	}
}

func TestParseHeaderRejects(t *testing.T) {
	cases := map[string]string{
		"bad signature":    "# v1 git bundle\n\n",
		"filter cap":       "# v3 git bundle\n@filter=blob:none\n" + oidA + " refs/heads/x\n\n",
		"late filter cap":  "# v3 git bundle\n@object-format=sha1\n@filter=blob:none\n" + oidA + " refs/heads/x\n\n",
		"unknown cap":      "# v3 git bundle\n@object-format=md5\n\n",
		"no capabilities":  "# v3 git bundle\n" + oidA + " refs/heads/x\n\n",
		"shorthand ref":    "# v2 git bundle\n" + oidA + " main\n\n",
		"duplicate ref":    "# v2 git bundle\n" + oidA + " refs/heads/x\n" + oidB + " refs/heads/x\n\n",
		"no references":    "# v2 git bundle\n-" + oidA + "\n\n",
		"no terminator":    "# v2 git bundle\n" + oidA + " refs/heads/x\n",
		"wrong oid length": "# v3 git bundle\n@object-format=sha256\n" + oidA + " refs/heads/x\n\n",
		"bad oid":          "# v2 git bundle\nzz" + oidA[2:] + " refs/heads/x\n\n",
	}
	for name, input := range cases {
		if _, _, err := ParseHeader(bufio.NewReader(strings.NewReader(input))); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHeaderHashOrderIndependent(t *testing.T) {
	a := &Header{
		Version:       V2,
		ObjectFormat:  Sha1,
		Prerequisites: []ObjectID{oidA},
		References: map[gitstore.Refname]ObjectID{
			"refs/heads/main": oidB,
			"refs/tags/v1":    oidC,
		},
	}
	// Same objects distributed differently.
	b := &Header{
		Version:       V2,
		ObjectFormat:  Sha1,
		Prerequisites: []ObjectID{oidC, oidA},
		References: map[gitstore.Refname]ObjectID{
			"refs/heads/other": oidB,
		},
	}
	if a.Hash() != b.Hash() {
		t.Error("hash should depend only on the set of object ids")
	}

	c := &Header{
		Version:      V2,
		ObjectFormat: Sha1,
		References:   map[gitstore.Refname]ObjectID{"refs/heads/main": oidB},
	}
	if a.Hash() == c.Hash() {
		t.Error("different object sets should hash differently")
	}
}

func TestHeaderWriteParseRoundtrip(t *testing.T) {
	h := &Header{
		Version:       V3,
		ObjectFormat:  Sha1,
		Prerequisites: []ObjectID{oidA},
		References: map[gitstore.Refname]ObjectID{
			"refs/heads/main":  oidB,
			"refs/tags/v1.0.0": oidC,
		},
	}

	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got := parse(t, buf.String())

	if got.Version != h.Version || got.ObjectFormat != h.ObjectFormat {
		t.Errorf("version/format = %s/%s", got.Version, got.ObjectFormat)
	}
	if got.Hash() != h.Hash() {
		t.Error("roundtrip changed the bundle hash")
	}
	if len(got.References) != len(h.References) {
		t.Errorf("references = %v", got.References)
	}
}
