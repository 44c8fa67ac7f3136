package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuildUnknownName(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("nonexistent", t.TempDir())
	assert.Error(t, err)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register("b", nil)
	r.Register("a", nil)
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestDetect_DefaultsToJSONL(t *testing.T) {
	dir := t.TempDir()
	backend, err := Detect(DefaultRegistry, dir)
	require.NoError(t, err)
	assert.Equal(t, "jsonl", backend.BackendName())
}

func TestDetect_PrefersPrdJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prd.json"), []byte(`{"prefix":"prd","tasks":[]}`), 0o644))

	backend, err := Detect(DefaultRegistry, dir)
	require.NoError(t, err)
	assert.Equal(t, "json", backend.BackendName())
}

func TestDetect_EnvOverrideWins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prd.json"), []byte(`{"prefix":"prd","tasks":[]}`), 0o644))

	t.Setenv(EnvBackendOverride, "jsonl")
	backend, err := Detect(DefaultRegistry, dir)
	require.NoError(t, err)
	assert.Equal(t, "jsonl", backend.BackendName())
}

func TestIsReady_IgnoresDanglingDependency(t *testing.T) {
	tk := &Task{Status: StatusOpen, DependsOn: []string{"ghost"}}
	ready := isReady(tk, map[string]struct{}{}, map[string]struct{}{})
	assert.True(t, ready)
}

func TestIsReady_BlockedByOpenDependency(t *testing.T) {
	tk := &Task{Status: StatusOpen, DependsOn: []string{"dep-1"}}
	allIDs := map[string]struct{}{"dep-1": {}}
	closedIDs := map[string]struct{}{}
	assert.False(t, isReady(tk, closedIDs, allIDs))
}
