// Copyright 2026 The Driftwood Authors
// SPDX-License-Identifier: Apache-2.0

package gitstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a ref, object, or path does not
// resolve.
var ErrNotFound = errors.New("gitstore: not found")

// EmptyTree is the object id of the empty tree in a SHA-1 repository.
const EmptyTree OID = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// OID is a hex object id.
type OID string

func (o OID) String() string {
	return string(o)
}

// Valid reports whether o looks like a SHA-1 or SHA-256 object id.
func (o OID) Valid() bool {
	if len(o) != 40 && len(o) != 64 {
		return false
	}
	for _, c := range o {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Store is a (usually bare) git repository used as the object store
// for a drop. All operations target the store's directory via
// "git -C <dir>".
type Store struct {
	dir string

	// CommitterName and CommitterEmail identify the store when it
	// writes commits (patch records, topic merges).
	CommitterName  string
	CommitterEmail string
}

// NewStore returns a Store targeting the given directory.
func NewStore(dir string) *Store {
	return &Store{
		dir:            dir,
		CommitterName:  "driftwood",
		CommitterEmail: "driftwood@localhost",
	}
}

// Init creates a bare repository at dir and returns a Store for it.
func Init(ctx context.Context, dir string) (*Store, error) {
	st := NewStore(dir)
	if _, err := st.run(ctx, nil, "init", "--bare", "--quiet", dir); err != nil {
		return nil, err
	}
	return st, nil
}

// Dir returns the repository directory.
func (s *Store) Dir() string {
	return s.dir
}

// run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error
// messages on failure.
func (s *Store) run(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	out, _, err := s.runExit(ctx, stdin, args...)
	return out, err
}

// runExit is run plus the process exit code, for commands that use
// exit status 1 as a negative answer rather than a failure.
func (s *Store) runExit(ctx context.Context, stdin io.Reader, args ...string) (string, int, error) {
	fullArgs := append([]string{"-C", s.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdin = stdin
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.Env = append(command.Environ(),
		"GIT_AUTHOR_NAME="+s.CommitterName,
		"GIT_AUTHOR_EMAIL="+s.CommitterEmail,
		"GIT_COMMITTER_NAME="+s.CommitterName,
		"GIT_COMMITTER_EMAIL="+s.CommitterEmail,
	)

	if err := command.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), exitErr.ExitCode(), fmt.Errorf("git %s in %s: %w (stderr: %s)",
				strings.Join(args, " "), s.dir, err, strings.TrimSpace(stderr.String()))
		}
		return "", -1, fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), s.dir, err)
	}
	return stdout.String(), 0, nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The caller gets full control over Stdin, Stdout, and Stderr before
// starting the process. The -C flag targeting this repository is
// automatically prepended.
func (s *Store) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", s.dir}, args...)
	return exec.CommandContext(ctx, "git", fullArgs...)
}

// ResolveRef resolves a reference to an object id. Returns
// ErrNotFound if the ref does not exist.
func (s *Store) ResolveRef(ctx context.Context, name Refname) (OID, error) {
	out, code, err := s.runExit(ctx, nil, "rev-parse", "--verify", "--quiet", string(name))
	if code == 1 {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// ResolvePath resolves a path inside a tree-ish (for example
// "HEAD:ids/<id>/id.json"). Returns ErrNotFound if the path does not
// exist.
func (s *Store) ResolvePath(ctx context.Context, treeish OID, path string) (OID, error) {
	spec := string(treeish) + ":" + path
	out, code, err := s.runExit(ctx, nil, "rev-parse", "--verify", "--quiet", spec)
	if code == 1 {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// ReadBlob returns the content of a blob object.
func (s *Store) ReadBlob(ctx context.Context, oid OID) ([]byte, error) {
	out, code, err := s.runExit(ctx, nil, "cat-file", "blob", string(oid))
	if code == 128 {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// HasObject reports whether the object exists in the store.
func (s *Store) HasObject(ctx context.Context, oid OID) (bool, error) {
	_, code, err := s.runExit(ctx, nil, "cat-file", "-e", string(oid))
	if code == 1 || code == 128 {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WriteBlob stores content as a blob object.
func (s *Store) WriteBlob(ctx context.Context, content []byte) (OID, error) {
	out, err := s.run(ctx, bytes.NewReader(content), "hash-object", "-w", "--stdin")
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// TreeEntry is one entry of a tree object.
type TreeEntry struct {
	Mode string // "100644" for blobs, "040000" for trees
	Type string // "blob" or "tree"
	OID  OID
	Name string
}

// ModeBlob and ModeTree are the entry modes Driftwood writes.
const (
	ModeBlob = "100644"
	ModeTree = "040000"
)

// WriteTree stores a tree object with the given entries.
func (s *Store) WriteTree(ctx context.Context, entries []TreeEntry) (OID, error) {
	var stdin bytes.Buffer
	for _, e := range entries {
		mode := e.Mode
		if mode == ModeTree {
			// mktree wants the raw octal form without the leading zero.
			mode = "40000"
		}
		fmt.Fprintf(&stdin, "%s %s %s\t%s\n", mode, e.Type, e.OID, e.Name)
	}
	out, err := s.run(ctx, &stdin, "mktree")
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// ReadTree lists the immediate entries of a tree-ish.
func (s *Store) ReadTree(ctx context.Context, treeish OID) ([]TreeEntry, error) {
	out, code, err := s.runExit(ctx, nil, "ls-tree", "--full-tree", string(treeish))
	if code == 128 {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var entries []TreeEntry
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		meta, name, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("gitstore: malformed ls-tree line %q", line)
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			return nil, fmt.Errorf("gitstore: malformed ls-tree line %q", line)
		}
		entries = append(entries, TreeEntry{
			Mode: fields[0],
			Type: fields[1],
			OID:  OID(fields[2]),
			Name: name,
		})
	}
	return entries, nil
}

// CommitTree writes a commit object.
func (s *Store) CommitTree(ctx context.Context, tree OID, parents []OID, message string) (OID, error) {
	args := []string{"commit-tree", string(tree)}
	for _, p := range parents {
		args = append(args, "-p", string(p))
	}
	out, err := s.run(ctx, strings.NewReader(message), args...)
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// CommitTreeSigned writes an SSH-signed commit object. signingKey is
// the value git expects in user.signingKey: a private key file path,
// or a literal public key prefixed "key::" when the private key lives
// in ssh-agent.
func (s *Store) CommitTreeSigned(ctx context.Context, tree OID, parents []OID, message, signingKey string) (OID, error) {
	args := []string{
		"-c", "gpg.format=ssh",
		"-c", "user.signingkey=" + signingKey,
		"commit-tree", "-S", string(tree),
	}
	for _, p := range parents {
		args = append(args, "-p", string(p))
	}
	out, err := s.run(ctx, strings.NewReader(message), args...)
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// CommitMessage returns the full message of a commit.
func (s *Store) CommitMessage(ctx context.Context, commit OID) (string, error) {
	out, code, err := s.runExit(ctx, nil, "show", "-s", "--format=%B", string(commit))
	if code == 128 {
		return "", ErrNotFound
	}
	return out, err
}

// TreeOf resolves a commit-ish to its tree.
func (s *Store) TreeOf(ctx context.Context, commit OID) (OID, error) {
	out, code, err := s.runExit(ctx, nil, "rev-parse", "--verify", "--quiet", string(commit)+"^{tree}")
	if code == 1 {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// Parents returns a commit's parent ids.
func (s *Store) Parents(ctx context.Context, commit OID) ([]OID, error) {
	out, err := s.run(ctx, nil, "show", "-s", "--format=%P", string(commit))
	if err != nil {
		return nil, err
	}
	var parents []OID
	for _, f := range strings.Fields(out) {
		parents = append(parents, OID(f))
	}
	return parents, nil
}

// CountCommits counts commits reachable from tip but not from any of
// exclude.
func (s *Store) CountCommits(ctx context.Context, tip OID, exclude []OID) (int, error) {
	args := []string{"rev-list", "--count", string(tip)}
	for _, e := range exclude {
		args = append(args, "^"+string(e))
	}
	out, err := s.run(ctx, nil, args...)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("gitstore: rev-list --count: %w", err)
	}
	return n, nil
}

// ListCommits returns commits reachable from tip but not from any of
// exclude, newest first.
func (s *Store) ListCommits(ctx context.Context, tip OID, exclude []OID) ([]OID, error) {
	args := []string{"rev-list", string(tip)}
	for _, e := range exclude {
		args = append(args, "^"+string(e))
	}
	out, err := s.run(ctx, nil, args...)
	if err != nil {
		return nil, err
	}
	var commits []OID
	for _, line := range strings.Fields(out) {
		commits = append(commits, OID(line))
	}
	return commits, nil
}

// ListCommitsFirstParent is ListCommits restricted to the first-parent
// chain, the walk used when auditing a linear range of a topic.
func (s *Store) ListCommitsFirstParent(ctx context.Context, tip OID, exclude []OID) ([]OID, error) {
	args := []string{"rev-list", "--first-parent", string(tip)}
	for _, e := range exclude {
		args = append(args, "^"+string(e))
	}
	out, err := s.run(ctx, nil, args...)
	if err != nil {
		return nil, err
	}
	var commits []OID
	for _, line := range strings.Fields(out) {
		commits = append(commits, OID(line))
	}
	return commits, nil
}

// MergeBase returns the best common ancestor of a and b, or
// ErrNotFound if the histories are unrelated.
func (s *Store) MergeBase(ctx context.Context, a, b OID) (OID, error) {
	out, code, err := s.runExit(ctx, nil, "merge-base", string(a), string(b))
	if code == 1 {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return OID(strings.TrimSpace(out)), nil
}

// IsAncestor reports whether ancestor is an ancestor of descendant.
func (s *Store) IsAncestor(ctx context.Context, ancestor, descendant OID) (bool, error) {
	_, code, err := s.runExit(ctx, nil, "merge-base", "--is-ancestor", string(ancestor), string(descendant))
	if code == 1 {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IndexPack reads a (possibly thin) pack from r and stores its
// objects, completing thin packs against the local object store.
func (s *Store) IndexPack(ctx context.Context, r io.Reader) error {
	_, err := s.run(ctx, r, "index-pack", "--stdin", "--fix-thin")
	return err
}

// ListRefs returns all refs under prefix with their target ids.
func (s *Store) ListRefs(ctx context.Context, prefix string) (map[Refname]OID, error) {
	out, err := s.run(ctx, nil, "for-each-ref", "--format=%(objectname) %(refname)", prefix)
	if err != nil {
		return nil, err
	}
	refs := make(map[Refname]OID)
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		oid, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("gitstore: malformed for-each-ref line %q", line)
		}
		refs[Refname(name)] = OID(oid)
	}
	return refs, nil
}

// SetSymref points a symbolic ref at target.
func (s *Store) SetSymref(ctx context.Context, name, target Refname) error {
	_, err := s.run(ctx, nil, "symbolic-ref", string(name), string(target))
	return err
}

// VerifyCommitSigned checks the SSH signature on a commit against an
// allowed-signers file.
func (s *Store) VerifyCommitSigned(ctx context.Context, commit OID, allowedSignersFile string) error {
	_, err := s.run(ctx, nil,
		"-c", "gpg.ssh.allowedSignersFile="+allowedSignersFile,
		"verify-commit", string(commit))
	return err
}
