package section

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	res, err := UpsertManagedSection(path, "hello world", 1)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)

	info, err := DetectManagedSection(path)
	require.NoError(t, err)
	assert.True(t, info.Found)
	assert.False(t, info.ContentModified)
	assert.Equal(t, 1, info.Version)
}

func TestUpsertAppendsWhenNoMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	require.NoError(t, os.WriteFile(path, []byte("# My project\n\nSome notes.\n"), 0o644))

	res, err := UpsertManagedSection(path, "managed content", 1)
	require.NoError(t, err)
	assert.Equal(t, ActionAppended, res.Action)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Some notes.")
	assert.Contains(t, string(data), "managed content")
}

func TestUpsertReplacesExistingBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	_, err := UpsertManagedSection(path, "version one", 1)
	require.NoError(t, err)

	res, err := UpsertManagedSection(path, "version two", 2)
	require.NoError(t, err)
	assert.Equal(t, ActionReplaced, res.Action)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version two")
	assert.NotContains(t, string(data), "version one")
}

func TestUpsertIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	_, err := UpsertManagedSection(path, "stable content", 1)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = UpsertManagedSection(path, "stable content", 1)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestDetectAfterUpsertNeverReportsModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	_, err := UpsertManagedSection(path, "some content\nwith lines", 3)
	require.NoError(t, err)

	info, err := DetectManagedSection(path)
	require.NoError(t, err)
	assert.True(t, info.Found)
	assert.False(t, info.ContentModified)
}

func TestDegradedRecoveryLoneBegin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	broken := "intro\n<!-- BEGIN CUB MANAGED SECTION v1 -->\nstuff\n"
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	res, err := UpsertManagedSection(path, "fresh content", 1)
	require.NoError(t, err)
	assert.Equal(t, ActionReplaced, res.Action)
	assert.NotEmpty(t, res.Warning)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "intro")
	assert.Contains(t, string(data), "fresh content")
}

func TestCreateAgentsSymlink(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("content"), 0o644))

	ok, err := CreateAgentsSymlink(dir, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CreateAgentsSymlink(dir, false)
	require.NoError(t, err)
	assert.True(t, ok)

	link := filepath.Join(dir, "AGENTS.md")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "CLAUDE.md", target)
}

func TestCreateAgentsSymlinkCollisionRequiresForce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("not a symlink"), 0o644))

	_, err := CreateAgentsSymlink(dir, false)
	assert.Error(t, err)

	ok, err := CreateAgentsSymlink(dir, true)
	require.NoError(t, err)
	assert.True(t, ok)
}
