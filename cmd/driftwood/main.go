// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// The driftwood binary runs a patch drop: an HTTP node that accepts
// signed patch bundles into a verified drop history, serves the
// stored bundles to mirrors, and synchronizes from other drops.
package main

import (
	"fmt"
	"os"

	"github.com/driftwood-project/driftwood/cmd/driftwood/cli"
	"github.com/driftwood-project/driftwood/lib/config"
)

func main() {
	if err := root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func root() *cli.Command {
	return &cli.Command{
		Name: "driftwood",
		Description: `Driftwood: decentralized patch drops over git.

Run a drop that accepts signed patch bundles, verify its trust chain,
and mirror bundles between drops.`,
		Subcommands: []*cli.Command{
			serveCommand(),
			syncCommand(),
			dropCommand(),
			idCommand(),
		},
	}
}

// loadConfig resolves the configuration: an explicit --config path
// wins, then DRIFTWOOD_CONFIG, then defaults.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.LoadFile(path)
	case os.Getenv("DRIFTWOOD_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
