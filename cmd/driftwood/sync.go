// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/google/renameio"
	"github.com/spf13/pflag"

	"github.com/driftwood-project/driftwood/cmd/driftwood/cli"
	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/codec"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/lib/sealed"
	"github.com/driftwood-project/driftwood/patches"
)

// syncState is the CBOR resume state of the sync walk: bundle hashes
// already fetched and verified, so a restarted sync skips them
// without re-hashing the files.
type syncState struct {
	Fetched map[string]bool `json:"fetched"`
}

func loadSyncState(path string) (*syncState, error) {
	state := &syncState{Fetched: make(map[string]bool)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	if err := codec.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("sync state %s: %w", path, err)
	}
	if state.Fetched == nil {
		state.Fetched = make(map[string]bool)
	}
	return state, nil
}

func saveSyncState(path string, state *syncState) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o644)
}

func syncCommand() *cli.Command {
	var (
		configPath string
		mirrors    []string
		jobs       int
	)
	return &cli.Command{
		Name:    "sync",
		Summary: "Fetch missing bundles from mirrors",
		Description: `Walk the drop history newest-first and download every bundle the
history still needs. Once a snapshot bundle is reached, older
non-snapshot bundles are redundant and are skipped; the walk ends at
a snapshot with no prerequisites, which carries complete history.`,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to driftwood.yaml")
			fs.StringArrayVar(&mirrors, "from", nil, "mirror base URL (repeatable)")
			fs.IntVar(&jobs, "jobs", 0, "concurrent downloads (overrides config)")
			return fs
		},
		Run: func(args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if jobs > 0 {
				cfg.Sync.Jobs = jobs
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			identities, err := loadAgeIdentities(cfg.Sync.AgeIdentitiesFile)
			if err != nil {
				return err
			}

			return runSync(context.Background(), syncArgs{
				store:      gitstore.NewStore(cfg.Drop.GitDir),
				dropRef:    gitstore.Refname(cfg.Drop.DropRef),
				bundleDir:  cfg.Drop.BundleDir,
				stateFile:  cfg.Sync.StateFile,
				mirrors:    mirrors,
				jobs:       cfg.Sync.Jobs,
				identities: identities,
				logger:     logger,
			})
		},
	}
}

type syncArgs struct {
	store      *gitstore.Store
	dropRef    gitstore.Refname
	bundleDir  string
	stateFile  string
	mirrors    []string
	jobs       int
	identities []age.Identity
	logger     *slog.Logger
}

// loadAgeIdentities reads the configured age identities file, if any.
func loadAgeIdentities(path string) ([]age.Identity, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("age identities: %w", err)
	}
	defer f.Close()
	return sealed.LoadIdentities(f)
}

func runSync(ctx context.Context, args syncArgs) error {
	state, err := loadSyncState(args.stateFile)
	if err != nil {
		return err
	}
	records, err := patches.Records(ctx, args.store, args.dropRef, false)
	if err != nil {
		return err
	}

	// The drop's own mirrors document extends the locations given on
	// the command line.
	now := time.Now()
	head, err := patches.LoadDropHead(ctx, args.store, args.dropRef, now)
	if err != nil {
		return err
	}
	mirrorsDoc, err := patches.LoadMirrors(ctx, args.store, head, now)
	if err != nil {
		return err
	}
	if mirrorsDoc != nil {
		for _, m := range mirrorsDoc.Mirrors {
			if m.Kind == metadata.MirrorBundled {
				args.mirrors = append(args.mirrors, m.URL)
			}
		}
	}

	wanted := selectRecords(records)
	missing := make([]*patches.Record, 0, len(wanted))
	for _, r := range wanted {
		if state.Fetched[r.BundleHash().String()] {
			continue
		}
		if _, err := patches.BundleFromStored(args.bundleDir, r.Meta.Bundle.Expect()); err == nil {
			state.Fetched[r.BundleHash().String()] = true
			continue
		}
		missing = append(missing, r)
	}
	args.logger.Info("sync plan",
		"records", len(records), "wanted", len(wanted), "missing", len(missing))

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, args.jobs)
		errs    []error
		fetcher = bundle.Fetcher{Logger: args.logger}
	)
	for _, r := range missing {
		wg.Add(1)
		sem <- struct{}{}
		go func(r *patches.Record) {
			defer wg.Done()
			defer func() { <-sem }()

			err := fetchRecordBundle(ctx, &fetcher, args, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("bundle %s: %w", r.BundleHash(), err))
				return
			}
			state.Fetched[r.BundleHash().String()] = true
		}(r)
	}
	wg.Wait()

	if err := saveSyncState(args.stateFile, state); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// selectRecords picks the records whose bundles a mirror needs,
// walking newest first. A snapshot makes all older non-snapshot
// bundles redundant; a snapshot without prerequisites carries
// complete history and ends the walk.
func selectRecords(records []*patches.Record) []*patches.Record {
	var wanted []*patches.Record
	chasingSnapshot := false
	for _, r := range records {
		if chasingSnapshot && !r.IsSnapshot() {
			continue
		}
		wanted = append(wanted, r)
		if r.IsSnapshot() {
			chasingSnapshot = true
			if len(r.Meta.Bundle.Prerequisites) == 0 {
				break
			}
		}
	}
	return wanted
}

// fetchRecordBundle tries every known location of the record's
// bundle: the URIs its record announced, then the configured mirrors.
// A mirror may answer with a location list, which extends the
// candidate queue.
func fetchRecordBundle(ctx context.Context, fetcher *bundle.Fetcher, args syncArgs, r *patches.Record) error {
	hash := r.BundleHash()
	candidates := append([]string(nil), r.Meta.Bundle.URIs...)
	for _, base := range args.mirrors {
		candidates = append(candidates,
			strings.TrimRight(base, "/")+"/bundles/"+hash.String()+bundle.FileExtension)
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no known location")
	}

	seen := make(map[string]bool)
	var lastErr error
	for i := 0; i < len(candidates); i++ {
		url := candidates[i]
		if seen[url] {
			continue
		}
		seen[url] = true

		fetched, alternates, err := fetcher.Fetch(ctx, url, args.bundleDir, r.Meta.Bundle.Expect())
		if err != nil {
			lastErr = err
			continue
		}
		if fetched == nil {
			// The mirror answered with locations instead of bytes.
			candidates = append(candidates, alternates...)
			continue
		}

		b, err := patches.BundleFromFetched(fetched)
		if err != nil {
			return err
		}
		pack, err := b.PlainPackdata(args.identities)
		switch {
		case errors.Is(err, patches.ErrSealedPack):
			// Stored for replication; the pack stays sealed to this
			// node.
			args.logger.Info("bundle stored sealed", "hash", hash)
		case err != nil:
			return err
		default:
			err = args.store.IndexPack(ctx, pack)
			pack.Close()
			if err != nil {
				return err
			}
		}
		return bundle.WriteURIList(fetched.Path, fetched.Info.URIs)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no location answered")
	}
	return lastErr
}
