// Package workspace is the thin VCS adapter backing each Execution's
// isolated filesystem subtree (spec.md §4.8 "Workspace adapter"). The core
// supervisor only assumes atomic commit and a conflict signal; it never
// depends on git directly, so this package is free to shell out to it.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/logging"
)

// Handle identifies one workspace subtree.
type Handle string

// State is the lifecycle of a workspace (spec.md §4.2 Workspace type).
type State int

const (
	StateCreated State = iota
	StateActive
	StateCommitted
	StateMerged
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateMerged:
		return "merged"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// ConflictError is returned by Merge when the child's changes cannot be
// fast-forwarded or cleanly merged into the parent.
type ConflictError struct {
	Parent, Child Handle
	Detail        string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("workspace: merge conflict %s <- %s: %s", e.Parent, e.Child, e.Detail)
}

type entry struct {
	path  string
	state State
}

// Adapter creates, commits, merges, and destroys git-backed workspace
// subtrees under a single base directory. It holds no invariant beyond "no
// two live handles share a directory" (spec.md §4.2).
type Adapter struct {
	log *logging.Logger

	mu      sync.Mutex
	entries map[Handle]*entry
}

// New builds an Adapter. log may be nil.
func New(log *logging.Logger) *Adapter {
	if log == nil {
		log = logging.New(nil)
	}
	return &Adapter{log: log, entries: make(map[Handle]*entry)}
}

// Create makes a fresh disjoint subtree under base and initializes it as a
// git repository with an empty initial commit, returning its handle.
func (a *Adapter) Create(ctx context.Context, base string) (Handle, error) {
	handle := Handle(ids.NewWorkspaceID())
	dir := filepath.Join(base, string(handle))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("workspace: mkdir %s: %w", dir, err)
	}
	if err := a.run(ctx, dir, "init", "-b", "master"); err != nil {
		return "", err
	}
	if err := a.run(ctx, dir, "commit", "--allow-empty", "-m", "workspace created"); err != nil {
		return "", err
	}

	a.mu.Lock()
	a.entries[handle] = &entry{path: dir, state: StateActive}
	a.mu.Unlock()

	a.log.Info().Str("handle", string(handle)).Str("path", dir).Log("workspace created")
	return handle, nil
}

// Path returns the filesystem path backing handle.
func (a *Adapter) Path(handle Handle) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[handle]
	if !ok {
		return "", fmt.Errorf("workspace: unknown handle %s", handle)
	}
	return e.path, nil
}

// Commit records the current state of handle's subtree as a ref (a git
// commit hash) under message.
func (a *Adapter) Commit(ctx context.Context, handle Handle, message string) (string, error) {
	a.mu.Lock()
	e, ok := a.entries[handle]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("workspace: unknown handle %s", handle)
	}

	if err := a.run(ctx, e.path, "add", "-A"); err != nil {
		return "", err
	}
	if err := a.run(ctx, e.path, "commit", "--allow-empty", "-m", message); err != nil {
		return "", err
	}
	ref, err := a.output(ctx, e.path, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	e.state = StateCommitted
	a.mu.Unlock()

	return ref, nil
}

// Merge merges child's committed changes into parent. On a non-fast-forward
// conflict it returns a *ConflictError and leaves parent unchanged (any
// partial merge state is reset).
func (a *Adapter) Merge(ctx context.Context, parent, child Handle) error {
	a.mu.Lock()
	parentEntry, ok := a.entries[parent]
	childEntry, ok2 := a.entries[child]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("workspace: unknown parent handle %s", parent)
	}
	if !ok2 {
		return fmt.Errorf("workspace: unknown child handle %s", child)
	}

	remoteName := "merge-" + string(child)
	if err := a.run(ctx, parentEntry.path, "remote", "add", remoteName, childEntry.path); err != nil {
		return err
	}
	defer a.run(ctx, parentEntry.path, "remote", "remove", remoteName) //nolint:errcheck

	if err := a.run(ctx, parentEntry.path, "fetch", remoteName); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "git", "merge", "--no-edit", "--allow-unrelated-histories", remoteName+"/master")
	cmd.Dir = parentEntry.path
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=supervisor", "GIT_AUTHOR_EMAIL=supervisor@localhost",
		"GIT_COMMITTER_NAME=supervisor", "GIT_COMMITTER_EMAIL=supervisor@localhost")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = a.run(ctx, parentEntry.path, "merge", "--abort")
		return &ConflictError{Parent: parent, Child: child, Detail: stderr.String()}
	}

	a.mu.Lock()
	childEntry.state = StateMerged
	a.mu.Unlock()
	a.log.Info().Str("parent", string(parent)).Str("child", string(child)).Log("workspace merged")
	return nil
}

// Destroy removes handle's subtree from disk and forgets it. Safe to call
// more than once.
func (a *Adapter) Destroy(handle Handle) error {
	a.mu.Lock()
	e, ok := a.entries[handle]
	if ok {
		delete(a.entries, handle)
	}
	a.mu.Unlock()
	if !ok {
		return nil
	}
	e.state = StateDestroyed
	if err := os.RemoveAll(e.path); err != nil {
		return fmt.Errorf("workspace: destroy %s: %w", handle, err)
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=supervisor", "GIT_AUTHOR_EMAIL=supervisor@localhost",
		"GIT_COMMITTER_NAME=supervisor", "GIT_COMMITTER_EMAIL=supervisor@localhost")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("workspace: git %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

func (a *Adapter) output(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("workspace: git %v: %w", args, err)
	}
	return trimTrailingNewline(out), nil
}

func trimTrailingNewline(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return string(b)
}
