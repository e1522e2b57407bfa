// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/driftwood-project/driftwood/cmd/driftwood/cli"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/patches"
)

func idCommand() *cli.Command {
	return &cli.Command{
		Name:    "id",
		Summary: "Inspect identities known to the drop",
		Subcommands: []*cli.Command{
			idShowCommand(),
		},
	}
}

func idShowCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "show",
		Summary: "Print a verified identity from the drop's ids tree",
		Description: `Print the identity snapshot stored under the drop tip, verified
through its full revision chain. The argument is the identity id:
the hex content hash of the genesis revision.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("show", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to driftwood.yaml")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: driftwood id show <identity-id>")
			}
			id, err := metadata.IdentityIDFromHex(args[0])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			st := gitstore.NewStore(cfg.Drop.GitDir)
			now := time.Now()
			head, err := patches.LoadDropHead(ctx, st, gitstore.Refname(cfg.Drop.DropRef), now)
			if err != nil {
				return err
			}
			verified, err := patches.FindIdentityInTree(ctx, st, head.Ids, id, now)
			if err != nil {
				return err
			}
			return printJSON(struct {
				ID       metadata.IdentityID `json:"id"`
				Identity metadata.Identity   `json:"identity"`
			}{ID: verified.ID(), Identity: verified.Identity()})
		},
	}
}
