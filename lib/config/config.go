// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/driftwood-project/driftwood/lib/gitstore"
)

// Config is the master configuration of a Driftwood node.
type Config struct {
	// Root is the base directory for node data. Derived path defaults
	// (GitDir, BundleDir, the sync state file) resolve under it.
	Root string `yaml:"root"`

	Server ServerConfig `yaml:"server"`
	Drop   DropConfig   `yaml:"drop"`
	Sync   SyncConfig   `yaml:"sync"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Listen is the TCP address the server binds.
	Listen string `yaml:"listen"`
}

// DropConfig configures the drop repository and signing.
type DropConfig struct {
	// GitDir is the bare git repository holding the drop.
	GitDir string `yaml:"git_dir"`

	// BundleDir is where accepted and fetched bundle files are stored,
	// one file per bundle hash.
	BundleDir string `yaml:"bundle_dir"`

	// DropRef is the drop history ref.
	DropRef string `yaml:"drop_ref"`
	// SeenRef anchors the replay-protection tree.
	SeenRef string `yaml:"seen_ref"`
	// UnbundlePrefix is the namespace accepted bundles' refs land
	// under.
	UnbundlePrefix string `yaml:"unbundle_prefix"`

	// PolicyFile optionally overrides the embedded accept policy
	// (JSONC).
	PolicyFile string `yaml:"policy_file"`

	// SigningKeyFile is the node's OpenSSH private key, used both for
	// metadata signatures and for signing record commits. When
	// UseAgent is set, signing goes through ssh-agent instead and
	// SigningKeyFile names the corresponding public key.
	SigningKeyFile string `yaml:"signing_key_file"`
	UseAgent       bool   `yaml:"use_agent"`
	// AgentSocket overrides $SSH_AUTH_SOCK.
	AgentSocket string `yaml:"agent_socket"`
}

// SyncConfig configures mirror synchronization.
type SyncConfig struct {
	// StateFile is the CBOR resume state of the sync walk.
	StateFile string `yaml:"state_file"`

	// Jobs bounds concurrent bundle downloads.
	Jobs int `yaml:"jobs"`

	// AgeIdentitiesFile holds age identities for decrypting encrypted
	// bundle payloads addressed to this node.
	AgeIdentitiesFile string `yaml:"age_identities_file"`
}

// Default returns the default configuration. The config file is still
// required for anything deployment-specific; the defaults exist so
// every field has a workable zero-value.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".cache", "driftwood")

	return &Config{
		Root: root,
		Server: ServerConfig{
			Listen: "127.0.0.1:8084",
		},
		Drop: DropConfig{
			GitDir:         filepath.Join(root, "drop.git"),
			BundleDir:      filepath.Join(root, "bundles"),
			DropRef:        "refs/drift/patches",
			SeenRef:        "refs/drift/seen",
			UnbundlePrefix: "refs/drift/bundles",
		},
		Sync: SyncConfig{
			StateFile: filepath.Join(root, "sync-state.cbor"),
			Jobs:      4,
		},
	}
}

// Load loads configuration from the DRIFTWOOD_CONFIG environment
// variable. There are no fallbacks and no file discovery; if the
// variable is unset this fails.
func Load() (*Config, error) {
	path := os.Getenv("DRIFTWOOD_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("DRIFTWOOD_CONFIG environment variable not set; " +
			"set it to the path of your driftwood.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables do not override
// config values. The only expansion performed is ${HOME} and
// ${DRIFTWOOD_ROOT} in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"DRIFTWOOD_ROOT": c.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Root = expandVars(c.Root, vars)
	vars["DRIFTWOOD_ROOT"] = c.Root

	c.Drop.GitDir = expandVars(c.Drop.GitDir, vars)
	c.Drop.BundleDir = expandVars(c.Drop.BundleDir, vars)
	c.Drop.PolicyFile = expandVars(c.Drop.PolicyFile, vars)
	c.Drop.SigningKeyFile = expandVars(c.Drop.SigningKeyFile, vars)
	c.Drop.AgentSocket = expandVars(c.Drop.AgentSocket, vars)
	c.Sync.StateFile = expandVars(c.Sync.StateFile, vars)
	c.Sync.AgeIdentitiesFile = expandVars(c.Sync.AgeIdentitiesFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Root == "" {
		errs = append(errs, fmt.Errorf("root is required"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Drop.GitDir == "" {
		errs = append(errs, fmt.Errorf("drop.git_dir is required"))
	}
	if c.Drop.BundleDir == "" {
		errs = append(errs, fmt.Errorf("drop.bundle_dir is required"))
	}
	for _, ref := range []struct {
		name  string
		value string
	}{
		{"drop.drop_ref", c.Drop.DropRef},
		{"drop.seen_ref", c.Drop.SeenRef},
		{"drop.unbundle_prefix", c.Drop.UnbundlePrefix},
	} {
		if !strings.HasPrefix(ref.value, "refs/") {
			errs = append(errs, fmt.Errorf("%s must be under refs/", ref.name))
			continue
		}
		if _, err := gitstore.ParseRefname(ref.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ref.name, err))
		}
	}
	if c.Sync.Jobs < 1 {
		errs = append(errs, fmt.Errorf("sync.jobs must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Root, c.Drop.BundleDir} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}
