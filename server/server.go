// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the HTTP surface of a Driftwood node:
// bundle retrieval for mirrors and patch submission. Connection
// handling is concurrent; patch acceptance is serialized behind one
// mutex, since every acceptance rewrites the drop history tip.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/driftwood-project/driftwood/lib/bundle"
	"github.com/driftwood-project/driftwood/lib/gitstore"
	"github.com/driftwood-project/driftwood/lib/metadata"
	"github.com/driftwood-project/driftwood/lib/policy"
	"github.com/driftwood-project/driftwood/patches"
)

// Options configures a Server.
type Options struct {
	Store     *gitstore.Store
	BundleDir string

	DropRef        gitstore.Refname
	SeenRef        gitstore.Refname
	UnbundlePrefix gitstore.Refname

	Signer metadata.Signer
	// SigningKey is the user.signingkey value for record commits.
	SigningKey string
	Policy     policy.Policy
	Logger     *slog.Logger
}

// Server serves bundles and accepts patch submissions.
type Server struct {
	opts   Options
	logger *slog.Logger

	// acceptMu serializes submissions: acceptance reads the drop tip,
	// verifies against it, and commits on top of it.
	acceptMu sync.Mutex
}

// New constructs a Server. The zero Logger falls back to
// slog.Default.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{opts: opts, logger: logger}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /-/status", s.handleStatus)
	mux.HandleFunc("GET /bundles/{name}", s.handleBundle)
	mux.HandleFunc("POST /patches", s.handleSubmit)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if tip, err := s.opts.Store.ResolveRef(r.Context(), s.opts.DropRef); err == nil {
		status["drop"] = string(tip)
	}
	writeJSON(w, http.StatusOK, status)
}

// handleBundle serves stored bundle files and their alternate-location
// lists. The name is either a bare bundle hash, "<hash>.bundle", or
// "<hash>.uris".
func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ext := bundle.FileExtension
	switch {
	case strings.HasSuffix(name, bundle.ListExtension):
		name = strings.TrimSuffix(name, bundle.ListExtension)
		ext = bundle.ListExtension
	case strings.HasSuffix(name, bundle.FileExtension):
		name = strings.TrimSuffix(name, bundle.FileExtension)
	}
	hash, err := bundle.ParseHash(name)
	if err != nil {
		http.Error(w, "invalid bundle hash", http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.opts.BundleDir, hash.String()+ext)
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if ext == bundle.ListExtension {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	http.ServeContent(w, r, hash.String()+ext, info.ModTime(), f)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, err := patches.SubmissionFromHTTP(r, s.opts.BundleDir)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.acceptMu.Lock()
	record, err := sub.Accept(r.Context(), patches.AcceptArgs{
		UnbundlePrefix: s.opts.UnbundlePrefix,
		DropRef:        s.opts.DropRef,
		SeenRef:        s.opts.SeenRef,
		Store:          s.opts.Store,
		Signer:         s.opts.Signer,
		SigningKey:     s.opts.SigningKey,
		Policy:         s.opts.Policy,
		Logger:         s.logger,
		Now:            time.Now(),
	})
	s.acceptMu.Unlock()
	if err != nil {
		s.logger.Warn("submission rejected", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ListenAndServe binds addr and serves until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		// Headers are gone; nothing left to do but note it.
		fmt.Fprintln(os.Stderr, "server: encode response:", err)
	}
}
