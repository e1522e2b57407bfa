// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"strconv"
	"strings"
)

// Format versions of the document types this implementation writes.
// Compatibility is judged on the major version only.
var (
	IdentityFmtVersion = FmtVersion{1, 0, 0}
	DropFmtVersion     = FmtVersion{0, 2, 0}
	MirrorsFmtVersion  = FmtVersion{0, 2, 0}
)

// FmtVersion is a semantic version identifying a document format.
type FmtVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// Compatible reports whether this (supported) version can process a
// document declaring version other: the supported major version must
// be greater than or equal to the document's.
func (v FmtVersion) Compatible(other FmtVersion) bool {
	return v.Major >= other.Major
}

func (v FmtVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MarshalText implements encoding.TextMarshaler.
func (v FmtVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *FmtVersion) UnmarshalText(text []byte) error {
	parts := strings.SplitN(string(text), ".", 3)
	if len(parts) != 3 {
		return fmt.Errorf("metadata: invalid version string %q", text)
	}
	var nums [3]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return fmt.Errorf("metadata: invalid version string %q: %w", text, err)
		}
		nums[i] = uint32(n)
	}
	*v = FmtVersion{nums[0], nums[1], nums[2]}
	return nil
}
