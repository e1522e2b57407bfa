// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/ssh"

	"github.com/driftwood-project/driftwood/cmd/driftwood/cli"
	"github.com/driftwood-project/driftwood/lib/config"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/lib/policy"
	"github.com/driftwood-project/driftwood/lib/signer"
	"github.com/driftwood-project/driftwood/server"
)

func serveCommand() *cli.Command {
	var (
		configPath string
		listen     string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the drop's HTTP server",
		Description: `Serve the drop over HTTP: accept signed patch submissions on
POST /patches and serve stored bundles to mirrors on GET /bundles/<hash>.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to driftwood.yaml")
			fs.StringVar(&listen, "listen", "", "listen address (overrides config)")
			return fs
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			pol, err := loadPolicy(cfg)
			if err != nil {
				return err
			}
			nodeSigner, signingKey, err := buildSigner(cfg)
			if err != nil {
				return err
			}

			srv := server.New(server.Options{
				Store:          gitstore.NewStore(cfg.Drop.GitDir),
				BundleDir:      cfg.Drop.BundleDir,
				DropRef:        gitstore.Refname(cfg.Drop.DropRef),
				SeenRef:        gitstore.Refname(cfg.Drop.SeenRef),
				UnbundlePrefix: gitstore.Refname(cfg.Drop.UnbundlePrefix),
				Signer:         nodeSigner,
				SigningKey:     signingKey,
				Policy:         pol,
				Logger:         logger,
			})
			return srv.ListenAndServe(cfg.Server.Listen)
		},
	}
}

func loadPolicy(cfg *config.Config) (policy.Policy, error) {
	if cfg.Drop.PolicyFile == "" {
		return policy.Default(), nil
	}
	return policy.Load(cfg.Drop.PolicyFile)
}

// buildSigner constructs the node's metadata signer plus the
// user.signingkey value git uses for record commits.
func buildSigner(cfg *config.Config) (metadata.Signer, string, error) {
	if cfg.Drop.SigningKeyFile == "" {
		return nil, "", fmt.Errorf("drop.signing_key_file is not configured")
	}
	if cfg.Drop.UseAgent {
		raw, err := os.ReadFile(cfg.Drop.SigningKeyFile)
		if err != nil {
			return nil, "", fmt.Errorf("read public key: %w", err)
		}
		pub, _, _, _, err := ssh.ParseAuthorizedKey(raw)
		if err != nil {
			return nil, "", fmt.Errorf("parse public key %s: %w", cfg.Drop.SigningKeyFile, err)
		}
		s, err := signer.FromAgent(cfg.Drop.AgentSocket, pub)
		if err != nil {
			return nil, "", err
		}
		// git resolves "key::<pub>" through the agent.
		return s, "key::" + s.PublicKey().String(), nil
	}

	s, err := signer.LoadFile(cfg.Drop.SigningKeyFile)
	if err != nil {
		return nil, "", err
	}
	return s, cfg.Drop.SigningKeyFile, nil
}
