package sandbox

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@test.com"},
		{"config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test"), 0o644))
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "init"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	return dir
}

func TestHostProviderStartStatusStop(t *testing.T) {
	dir := t.TempDir()
	p := NewHostProvider()
	ctx := context.Background()

	id, err := p.Start(ctx, dir, Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	status, err := p.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)

	require.NoError(t, p.Stop(ctx, id))
	status, err = p.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, status.State)
}

func TestHostProviderUnknownIDIsNotFound(t *testing.T) {
	p := NewHostProvider()
	_, err := p.Status(context.Background(), "does-not-exist")
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func TestHostProviderCleanupIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := NewHostProvider()
	ctx := context.Background()

	id, err := p.Start(ctx, dir, Config{})
	require.NoError(t, err)

	require.NoError(t, p.Cleanup(ctx, id))
	require.NoError(t, p.Cleanup(ctx, id))

	_, err = p.Status(ctx, id)
	assert.Error(t, err)
}

func TestHostProviderDiffReflectsWorkingTreeChanges(t *testing.T) {
	dir := setupGitRepo(t)
	p := NewHostProvider()
	ctx := context.Background()

	id, err := p.Start(ctx, dir, Config{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# changed"), 0o644))

	diff, err := p.Diff(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, diff, "README.md")
	assert.Contains(t, diff, "changed")
}

func TestHostProviderExportChangedOnly(t *testing.T) {
	dir := setupGitRepo(t)
	p := NewHostProvider()
	ctx := context.Background()

	id, err := p.Start(ctx, dir, Config{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# changed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "untouched.txt"), []byte("original"), 0o644))

	dest := t.TempDir()
	require.NoError(t, p.Export(ctx, id, dest, true))

	content, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# changed", string(content))

	_, err = os.Stat(filepath.Join(dest, "untouched.txt"))
	assert.True(t, os.IsNotExist(err), "unchanged files should not be exported with changed_only")
}

func TestHostProviderExportFullTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))

	p := NewHostProvider()
	ctx := context.Background()
	id, err := p.Start(ctx, dir, Config{})
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, p.Export(ctx, id, dest, false))

	content, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(content))
}
