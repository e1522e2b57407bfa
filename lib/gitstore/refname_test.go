// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package gitstore

import "testing"

func TestParseRefname(t *testing.T) {
	cases := []struct {
		in   string
		want Refname
		ok   bool
	}{
		{"main", "refs/heads/main", true},
		{"feature/x", "refs/heads/feature/x", true},
		{"refs/heads/main", "refs/heads/main", true},
		{"refs/drift/topics/abc", "refs/drift/topics/abc", true},
		{"", "", false},
		{"@", "", false},
		{".", "", false},
		{"a//b", "", false},
		{"a..b", "", false},
		{"a.lock", "", false},
		{"a.lock/b", "", false},
		{"refs/heads/.hidden", "", false},
		{"refs/heads/trailing.", "", false},
		{"has space", "", false},
		{"has~tilde", "", false},
		{"has^caret", "", false},
		{"has:colon", "", false},
		{"has?question", "", false},
		{"has[bracket", "", false},
		{"has\\backslash", "", false},
		{"glob*", "", false},
		{"a@{b", "", false},
	}
	for _, tc := range cases {
		got, err := ParseRefname(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("ParseRefname(%q): unexpected error %v", tc.in, err)
			} else if got != tc.want {
				t.Errorf("ParseRefname(%q) = %q, want %q", tc.in, got, tc.want)
			}
		} else if err == nil {
			t.Errorf("ParseRefname(%q): expected error, got %q", tc.in, got)
		}
	}
}

func TestCheckRefFormatPatterns(t *testing.T) {
	if err := CheckRefFormat("refs/heads/*", true, true); err != nil {
		t.Errorf("single glob should be accepted as pattern: %v", err)
	}
	if err := CheckRefFormat("refs/*/x/*", true, true); err == nil {
		t.Error("two globs should be rejected")
	}
	if err := CheckRefFormat("refs/heads/*", true, false); err == nil {
		t.Error("glob should be rejected when patterns are not allowed")
	}
}

func TestOIDValid(t *testing.T) {
	if !OID("4b825dc642cb6eb9a060e54bf8d69288fbee4904").Valid() {
		t.Error("sha1 oid should be valid")
	}
	if !OID("6ef19b41225c5369f1c104d45d8d85efa9b057b53b14b4b9b939dd74decc5321").Valid() {
		t.Error("sha256 oid should be valid")
	}
	for _, bad := range []OID{"", "abc", "4B825DC642CB6EB9A060E54BF8D69288FBEE4904", "zz825dc642cb6eb9a060e54bf8d69288fbee4904"} {
		if bad.Valid() {
			t.Errorf("%q should be invalid", bad)
		}
	}
}
