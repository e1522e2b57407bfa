// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package gitstore

import (
	"fmt"
	"strings"
)

// maxRefComponent is git's per-component name limit.
const maxRefComponent = 255

// Refname is a validated, fully-qualified git reference name. Parsing
// a name that does not start with "refs/" treats it as a branch name
// and prepends "refs/heads/".
type Refname string

// ParseRefname validates s and qualifies it.
func ParseRefname(s string) (Refname, error) {
	if err := CheckRefFormat(s, true, false); err != nil {
		return "", err
	}
	if !strings.HasPrefix(s, "refs/") {
		s = "refs/heads/" + s
	}
	return Refname(s), nil
}

func (r Refname) String() string {
	return string(r)
}

// MarshalText implements encoding.TextMarshaler.
func (r Refname) MarshalText() ([]byte, error) {
	return []byte(r), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// name.
func (r *Refname) UnmarshalText(text []byte) error {
	name, err := ParseRefname(string(text))
	if err != nil {
		return err
	}
	*r = name
	return nil
}

// CheckRefFormat validates a reference name (or, with allowPattern, a
// single-glob pattern) against git's refname rules.
func CheckRefFormat(s string, allowOneLevel, allowPattern bool) error {
	switch s {
	case "":
		return fmt.Errorf("gitstore: empty refname")
	case "@", ".":
		return fmt.Errorf("gitstore: invalid refname %q", s)
	}

	globs := 0
	parts := strings.Split(s, "/")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("gitstore: refname %q contains //", s)
		}
		if len(part) > maxRefComponent {
			return fmt.Errorf("gitstore: refname component too long in %q", s)
		}
		if strings.HasSuffix(part, ".lock") {
			return fmt.Errorf("gitstore: refname %q: component ends with .lock", s)
		}
		if strings.Contains(part, "..") {
			return fmt.Errorf("gitstore: refname %q contains ..", s)
		}
		if strings.Contains(part, "@{") {
			return fmt.Errorf("gitstore: refname %q contains @{", s)
		}
		if strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".") {
			return fmt.Errorf("gitstore: refname %q: component starts or ends with .", s)
		}
		for _, c := range part {
			switch {
			case c == '*':
				globs++
			case c == 0 || c == '\\' || c == '~' || c == '^' || c == ':' ||
				c == '?' || c == '[' || c == ' ':
				return fmt.Errorf("gitstore: refname %q contains %q", s, c)
			case c < 0x20 || c == 0x7f:
				return fmt.Errorf("gitstore: refname %q contains control character", s)
			}
		}
	}

	switch {
	case len(parts) < 2 && !allowOneLevel:
		return fmt.Errorf("gitstore: refname %q has a single component", s)
	case globs > 0 && !allowPattern:
		return fmt.Errorf("gitstore: refname %q contains *", s)
	case globs > 1:
		return fmt.Errorf("gitstore: pattern %q has more than one *", s)
	}
	return nil
}
