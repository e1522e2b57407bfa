// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/driftwood-project/driftwood/cmd/driftwood/cli"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/patches"
)

func dropCommand() *cli.Command {
	return &cli.Command{
		Name:    "drop",
		Summary: "Inspect the local drop",
		Subcommands: []*cli.Command{
			dropShowCommand(),
			dropLogCommand(),
		},
	}
}

func dropShowCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "show",
		Summary: "Print the verified drop document at the history tip",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("show", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to driftwood.yaml")
			return fs
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			st := gitstore.NewStore(cfg.Drop.GitDir)
			head, err := patches.LoadDropHead(ctx, st, gitstore.Refname(cfg.Drop.DropRef), time.Now())
			if err != nil {
				return err
			}
			return printJSON(struct {
				Tip  gitstore.OID `json:"tip"`
				Drop any          `json:"drop"`
			}{Tip: head.Tip, Drop: head.Drop})
		},
	}
}

func dropLogCommand() *cli.Command {
	var (
		configPath string
		reverse    bool
	)
	return &cli.Command{
		Name:    "log",
		Summary: "List the patch records in the drop history",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("log", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to driftwood.yaml")
			fs.BoolVar(&reverse, "reverse", false, "oldest first")
			return fs
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			st := gitstore.NewStore(cfg.Drop.GitDir)
			records, err := patches.Records(ctx, st, gitstore.Refname(cfg.Drop.DropRef), reverse)
			if err != nil {
				return err
			}
			for _, r := range records {
				kind := "patch"
				switch {
				case r.IsSnapshot():
					kind = "snapshot"
				case r.IsMergepoint():
					kind = "merge"
				}
				fmt.Printf("%s  %-8s  bundle %s  (%d bytes)\n",
					r.Heads, kind, r.BundleHash(), r.Meta.Bundle.Len)
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
