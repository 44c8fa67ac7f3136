package forensics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizeFile(t *testing.T) {
	assert.Equal(t, CategorySpec, CategorizeFile("specs/researching/foo.md"))
	assert.Equal(t, CategoryPlan, CategorizeFile("plans/foo/orient.md"))
	assert.Equal(t, CategoryTest, CategorizeFile("tests/foo_test.go"))
	assert.Equal(t, CategoryTest, CategorizeFile("src/foo.test.ts"))
	assert.Equal(t, CategorySource, CategorizeFile("src/x.go"))
	assert.Equal(t, CategoryOther, CategorizeFile("README.md"))
}

func TestWriteAndReadForensics(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "sess-1")

	require.NoError(t, w.SessionStart(dir))
	require.NoError(t, w.TaskClaim("T1", "cub claim T1"))
	require.NoError(t, w.FileWrite("src/x.go", "write"))
	require.NoError(t, w.GitCommit("git commit -m ...", "fix the thing"))
	require.NoError(t, w.TaskClose("T1", "cub close T1", "done"))
	require.NoError(t, w.SessionEnd(""))

	state, err := ReadForensics(filepath.Join(dir, "forensics", "sess-1.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "T1", state.TaskID)
	assert.NotNil(t, state.TaskClosedAt)
	assert.Equal(t, "done", state.TaskCloseReason)
	assert.Equal(t, []string{"src/x.go"}, state.FilesWritten)
	require.Len(t, state.GitCommits, 1)
}

func TestReadForensicsTolerantOfMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sess.jsonl")
	content := `{"event_type":"session_start","session_id":"s1","timestamp":"2026-01-01T00:00:00Z"}
not json at all
{"event_type":"task_claim","session_id":"s1","task_id":"T1","timestamp":"2026-01-01T00:01:00Z"}

{"event_type":"task_close","session_id":"s1","task_id":"T1","reason":"done","timestamp":"2026-01-01T00:02:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	state, err := ReadForensics(path)
	require.NoError(t, err)
	assert.Equal(t, "T1", state.TaskID)
	assert.NotNil(t, state.TaskClosedAt)
}

func TestLaterClaimSupersedes(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "sess-2")
	require.NoError(t, w.TaskClaim("T1", "claim"))
	require.NoError(t, w.TaskClose("T1", "close", "done"))
	require.NoError(t, w.TaskClaim("T2", "claim"))

	state, err := ReadForensics(filepath.Join(dir, "forensics", "sess-2.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "T2", state.TaskID)
	assert.Nil(t, state.TaskClosedAt)
}
