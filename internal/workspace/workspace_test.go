package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/usr/bin/git"); err != nil {
		if _, err := os.Stat("/usr/local/bin/git"); err != nil {
			t.Skip("git not available")
		}
	}
}

func TestCreateProducesDisjointPaths(t *testing.T) {
	requireGit(t)
	a := New(nil)
	ctx := context.Background()
	base := t.TempDir()

	h1, err := a.Create(ctx, base)
	require.NoError(t, err)
	h2, err := a.Create(ctx, base)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	p1, err := a.Path(h1)
	require.NoError(t, err)
	p2, err := a.Path(h2)
	require.NoError(t, err)
	require.NotEqual(t, p1, p2)
}

func TestCommitWritesRetrievableRef(t *testing.T) {
	requireGit(t)
	a := New(nil)
	ctx := context.Background()
	base := t.TempDir()

	h, err := a.Create(ctx, base)
	require.NoError(t, err)
	p, err := a.Path(h)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(p, "out.txt"), []byte("hello"), 0o644))
	ref, err := a.Commit(ctx, h, "add out.txt")
	require.NoError(t, err)
	require.NotEmpty(t, ref)
}

func TestMergeNonConflictingChildrenSucceeds(t *testing.T) {
	requireGit(t)
	a := New(nil)
	ctx := context.Background()
	base := t.TempDir()

	parent, err := a.Create(ctx, base)
	require.NoError(t, err)
	child, err := a.Create(ctx, base)
	require.NoError(t, err)

	childPath, err := a.Path(child)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(childPath, "child.txt"), []byte("child output"), 0o644))
	_, err = a.Commit(ctx, child, "child work")
	require.NoError(t, err)

	require.NoError(t, a.Merge(ctx, parent, child))

	parentPath, err := a.Path(parent)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(parentPath, "child.txt"))
	require.NoError(t, err)
}

func TestMergeConflictReturnsConflictError(t *testing.T) {
	requireGit(t)
	a := New(nil)
	ctx := context.Background()
	base := t.TempDir()

	parent, err := a.Create(ctx, base)
	require.NoError(t, err)
	child, err := a.Create(ctx, base)
	require.NoError(t, err)

	parentPath, err := a.Path(parent)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(parentPath, "shared.txt"), []byte("parent version"), 0o644))
	_, err = a.Commit(ctx, parent, "parent edits shared.txt")
	require.NoError(t, err)

	childPath, err := a.Path(child)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(childPath, "shared.txt"), []byte("child version"), 0o644))
	_, err = a.Commit(ctx, child, "child edits shared.txt")
	require.NoError(t, err)

	err = a.Merge(ctx, parent, child)
	require.Error(t, err)
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestDestroyRemovesSubtreeAndIsIdempotent(t *testing.T) {
	requireGit(t)
	a := New(nil)
	ctx := context.Background()
	base := t.TempDir()

	h, err := a.Create(ctx, base)
	require.NoError(t, err)
	p, err := a.Path(h)
	require.NoError(t, err)

	require.NoError(t, a.Destroy(h))
	_, statErr := os.Stat(p)
	require.True(t, os.IsNotExist(statErr))
	require.NoError(t, a.Destroy(h))
}

func TestPathOnUnknownHandleFails(t *testing.T) {
	a := New(nil)
	_, err := a.Path(Handle("does-not-exist"))
	require.Error(t, err)
}
