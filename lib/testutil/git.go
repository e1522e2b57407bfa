// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os/exec"
	"testing"
)

// RequireGit skips the test when no git binary is installed.
func RequireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}
