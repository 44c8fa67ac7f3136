package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApproval struct {
	approved map[string]bool
}

func (f fakeApproval) IsApproved(toolID string) bool { return f.approved[toolID] }

func TestExecuteIsBlockedWhenNotAdopted(t *testing.T) {
	svc := New(t.TempDir(), fakeApproval{approved: map[string]bool{}})
	cfg := ToolConfig{ID: "curl-tool", AdapterType: AdapterHTTP, HTTP: &HTTPConfig{BaseURL: "http://example.invalid"}}

	_, err := svc.Execute(context.Background(), cfg, "fetch", nil, 1, false)
	require.Error(t, err)
	var notAdopted *ToolNotAdoptedError
	assert.ErrorAs(t, err, &notAdopted)
}

func TestExecuteBypassesGateWithNoApprovalSource(t *testing.T) {
	svc := New(t.TempDir(), nil)
	cfg := ToolConfig{ID: "echo-tool", AdapterType: AdapterCLI, CLI: &CLIConfig{Command: "echo", ArgsTemplate: []string{"hello"}, OutputFormat: OutputText}}

	result, err := svc.Execute(context.Background(), cfg, "run", nil, 5, false)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Output.(string), "hello")
}

func TestExecuteWritesArtifactOnSuccess(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil)
	cfg := ToolConfig{ID: "echo-tool", AdapterType: AdapterCLI, CLI: &CLIConfig{Command: "echo", ArgsTemplate: []string{"hi"}, OutputFormat: OutputText}}

	result, err := svc.Execute(context.Background(), cfg, "run", nil, 5, true)
	require.NoError(t, err)
	require.NotEmpty(t, result.ArtifactPath)
	assert.FileExists(t, result.ArtifactPath)
	assert.Equal(t, filepath.Dir(result.ArtifactPath), dir)
}

func TestExecuteDoesNotWriteArtifactOnFailure(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil)
	cfg := ToolConfig{ID: "missing-tool", AdapterType: AdapterCLI, CLI: &CLIConfig{Command: "definitely-not-a-real-binary", OutputFormat: OutputText}}

	result, err := svc.Execute(context.Background(), cfg, "run", nil, 5, true)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.ArtifactPath)

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestCheckReadinessReportsMissingAuthEnvVar(t *testing.T) {
	svc := New(t.TempDir(), nil)
	cfg := ToolConfig{
		ID:          "api-tool",
		AdapterType: AdapterHTTP,
		HTTP:        &HTTPConfig{BaseURL: "http://example.invalid", AuthEnvVar: "CUB_TEST_MISSING_TOKEN"},
	}

	report := svc.CheckReadiness(context.Background(), cfg)
	assert.False(t, report.Ready)
	assert.Contains(t, report.Missing, `environment variable "CUB_TEST_MISSING_TOKEN" is not set`)
}

func TestListArtifactsParsesLastDashAsActionSeparator(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil)

	names := []string{
		"20260101T000000Z-git-tool-status.json",
		"20260101T000100Z-git-tool-commit.json",
		"20260101T000200Z-simple-run.json",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644))
		time.Sleep(time.Millisecond)
	}

	artifacts, err := svc.ListArtifacts("git-tool", "")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	for _, a := range artifacts {
		assert.Equal(t, "git-tool", a.ToolID)
	}

	filtered, err := svc.ListArtifacts("git-tool", "status")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "status", filtered[0].Action)
}

func TestListArtifactsSortedByModTimeDescending(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101T000000Z-a-run.json"), []byte("{}"), 0o644))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101T000100Z-b-run.json"), []byte("{}"), 0o644))

	artifacts, err := svc.ListArtifacts("", "")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "b", artifacts[0].ToolID)
	assert.Equal(t, "a", artifacts[1].ToolID)
}
