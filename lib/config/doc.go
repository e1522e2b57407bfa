// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Driftwood
// nodes.
//
// Configuration is loaded from a single file specified by either the
// DRIFTWOOD_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search; this keeps configuration
// deterministic and auditable.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${DRIFTWOOD_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
package config
