package syncengine

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"cub/internal/plumbing"

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

func writeTasks(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.jsonl"), []byte(content), 0o644))
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := setupGitRepo(t)
	ctx := context.Background()
	e := New(dir, "tasks.jsonl")

	assert.False(t, e.IsInitialized(ctx))
	require.NoError(t, e.Initialize(ctx))
	assert.True(t, e.IsInitialized(ctx))

	tip, err := currentTip(ctx, e)
	require.NoError(t, err)

	require.NoError(t, e.Initialize(ctx))
	tip2, err := currentTip(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, tip, tip2)
}

func TestInitializeDoesNotTouchCurrentBranch(t *testing.T) {
	dir := setupGitRepo(t)
	ctx := context.Background()
	e := New(dir, "tasks.jsonl")

	cmd := exec.Command("git", "symbolic-ref", "--short", "HEAD")
	cmd.Dir = dir
	before, err := cmd.Output()
	require.NoError(t, err)

	require.NoError(t, e.Initialize(ctx))

	cmd = exec.Command("git", "symbolic-ref", "--short", "HEAD")
	cmd.Dir = dir
	after, err := cmd.Output()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	_, err = os.Stat(filepath.Join(dir, "tasks.jsonl"))
	assert.True(t, os.IsNotExist(err), "working tree should not gain the tasks file")
}

func TestCommitIsNoopWhenUnchanged(t *testing.T) {
	dir := setupGitRepo(t)
	ctx := context.Background()
	e := New(dir, "tasks.jsonl")
	require.NoError(t, e.Initialize(ctx))

	writeTasks(t, dir, `{"id":"t1","updated_at":"2026-01-01T00:00:00Z"}`+"\n")

	sha1, err := e.Commit(ctx, "first")
	require.NoError(t, err)
	assert.NotEmpty(t, sha1)

	sha2, err := e.Commit(ctx, "second, no changes")
	require.NoError(t, err)
	assert.Equal(t, sha1, sha2)
}

func TestCommitCreatesNewCommitOnChange(t *testing.T) {
	dir := setupGitRepo(t)
	ctx := context.Background()
	e := New(dir, "tasks.jsonl")
	require.NoError(t, e.Initialize(ctx))

	writeTasks(t, dir, `{"id":"t1","updated_at":"2026-01-01T00:00:00Z"}`+"\n")
	sha1, err := e.Commit(ctx, "first")
	require.NoError(t, err)

	writeTasks(t, dir, `{"id":"t1","updated_at":"2026-01-02T00:00:00Z"}`+"\n")
	sha2, err := e.Commit(ctx, "second")
	require.NoError(t, err)
	assert.NotEqual(t, sha1, sha2)
}

func TestGetStatusUninitialized(t *testing.T) {
	dir := setupGitRepo(t)
	e := New(dir, "tasks.jsonl")
	assert.Equal(t, StatusUninitialized, e.GetStatus(context.Background()))
}

func TestGetStatusNoRemote(t *testing.T) {
	dir := setupGitRepo(t)
	ctx := context.Background()
	e := New(dir, "tasks.jsonl")
	require.NoError(t, e.Initialize(ctx))
	assert.Equal(t, StatusNoRemote, e.GetStatus(ctx))
}

func TestMergeJSONLLastWriterWins(t *testing.T) {
	local := parseJSONL(`{"id":"t1","updated_at":"2026-01-01T00:00:00Z","title":"old"}` + "\n")
	remote := parseJSONL(`{"id":"t1","updated_at":"2026-01-02T00:00:00Z","title":"new"}` + "\n")

	merged, updated, conflicts := mergeJSONL(local, remote)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "remote", conflicts[0].Winner)
	assert.Equal(t, 1, updated)
	assert.Equal(t, "new", merged["t1"]["title"])
}

func TestMergeJSONLTieBreaksToRemote(t *testing.T) {
	local := parseJSONL(`{"id":"t1","updated_at":"2026-01-01T00:00:00Z","title":"local"}` + "\n")
	remote := parseJSONL(`{"id":"t1","updated_at":"2026-01-01T00:00:00Z","title":"remote"}` + "\n")

	merged, _, conflicts := mergeJSONL(local, remote)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "remote", conflicts[0].Winner)
	assert.Equal(t, "remote", merged["t1"]["title"])
}

func TestMergeJSONLUnionsDisjointIDs(t *testing.T) {
	local := parseJSONL(`{"id":"t1","updated_at":"2026-01-01T00:00:00Z"}` + "\n")
	remote := parseJSONL(`{"id":"t2","updated_at":"2026-01-01T00:00:00Z"}` + "\n")

	merged, updated, conflicts := mergeJSONL(local, remote)
	assert.Len(t, merged, 2)
	assert.Empty(t, conflicts)
	assert.Equal(t, 1, updated)
}

func currentTip(ctx context.Context, e *Engine) (string, error) {
	return plumbing.RevParse(ctx, e.ProjectDir, e.branchRef())
}
