// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"path"
	"strings"
)

// MatchRef checks whether a refname matches a glob pattern using the
// hierarchical conventions of gitignore-style globs:
//
//   - Exact match: "refs/heads/main" matches only "refs/heads/main"
//   - Single-segment wildcard: "refs/drift/topics/*" matches
//     "refs/drift/topics/ab12" but not "refs/drift/topics/a/b"
//   - Recursive wildcard: "refs/heads/**" matches "refs/heads/main"
//     and "refs/heads/feature/x"
//   - Interior recursive: "refs/**/main" matches "refs/heads/main"
//     and "refs/remotes/origin/main"
//   - Character wildcards: "?" matches a single non-slash character
//
// The single-segment wildcard "*" does not match "/"; use "**" to
// cross hierarchy boundaries.
//
// Returns false for malformed patterns (unmatched brackets, etc.)
// rather than propagating errors: a malformed pattern should never
// admit a ref.
func MatchRef(pattern, refname string) bool {
	// Universal match.
	if pattern == "**" {
		return true
	}

	// No ** in the pattern: delegate to path.Match which handles
	// single-segment * and ? correctly (not matching /).
	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, refname)
	}

	// Suffix: "refs/heads/**" matches the prefix (with glob
	// wildcards), then anything after.
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		// ** matches zero additional segments: the whole refname is
		// the prefix.
		if matchGlob(prefix, refname) {
			return true
		}
		return hasMatchingPrefix(prefix, refname)
	}

	// Prefix: "**/main" matches anything before, then the suffix.
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchGlob(suffix, refname) {
			return true
		}
		return hasMatchingSuffix(suffix, refname)
	}

	// Interior: "refs/**/main" splits on the first /**, matching prefix
	// and suffix independently with glob wildcards.
	separatorIndex := strings.Index(pattern, "/**/")
	if separatorIndex >= 0 {
		prefix := pattern[:separatorIndex]
		suffix := pattern[separatorIndex+4:]

		// Zero-segment case: prefix and suffix adjacent.
		if matchGlob(prefix+"/"+suffix, refname) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(refname, "/")

		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		// Segments consumed by ** must be non-empty.
		for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
			if segment == "" {
				return false
			}
		}
		return true
	}

	// Multiple ** segments or other complex patterns: deny.
	return false
}

// matchGlob matches a pattern against a string using path.Match
// semantics (wildcards * and ? do not cross / boundaries). Returns
// false for malformed patterns.
func matchGlob(pattern, s string) bool {
	matched, err := path.Match(pattern, s)
	return err == nil && matched
}

// hasMatchingPrefix reports whether the refname starts with segments
// matching the pattern, with at least one segment after the matched
// portion.
func hasMatchingPrefix(pattern, refname string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(refname, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[:depth], "/"))
}

// hasMatchingSuffix reports whether the refname ends with segments
// matching the pattern, with at least one segment before the matched
// portion.
func hasMatchingSuffix(pattern, refname string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(refname, "/")
	if len(segments) <= depth {
		return false
	}
	return matchGlob(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
