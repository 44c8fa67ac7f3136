package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBothBackend_ReturnsPrimaryResultAndLogsDivergence(t *testing.T) {
	dir := t.TempDir()

	primary, err := NewJSONBackend(filepath.Join(dir, "primary"), "")
	require.NoError(t, err)
	secondary, err := NewJSONLBackend(filepath.Join(dir, "secondary"))
	require.NoError(t, err)

	both, err := NewBothBackend(primary, secondary, dir, "")
	require.NoError(t, err)

	created, err := both.CreateTask(CreateParams{Title: "shared task"})
	require.NoError(t, err)
	assert.Equal(t, "shared task", created.Title)

	// The two backends assign different ids, which should be logged as a
	// divergence without failing the operation.
	_, err = os.Stat(filepath.Join(dir, ".cub", "backend-divergence.log"))
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, ".cub", "backend-divergence.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "create_task")
}

func TestBothBackend_NameComposesBothBackendNames(t *testing.T) {
	dir := t.TempDir()
	primary, err := NewJSONBackend(filepath.Join(dir, "p"), "")
	require.NoError(t, err)
	secondary, err := NewJSONLBackend(filepath.Join(dir, "s"))
	require.NoError(t, err)

	both, err := NewBothBackend(primary, secondary, dir, "")
	require.NoError(t, err)
	assert.Equal(t, "both(json+jsonl)", both.BackendName())
}

func TestCompareTasks_Equivalent(t *testing.T) {
	a := &Task{ID: "x", Title: "t", Status: StatusOpen, Priority: PriorityP2, Type: TypeTask}
	b := &Task{ID: "x", Title: "t", Status: StatusOpen, Priority: PriorityP2, Type: TypeTask}
	assert.Empty(t, compareTasks(a, b))
}

func TestCompareTasks_NilVsPresent(t *testing.T) {
	a := &Task{ID: "x"}
	assert.NotEmpty(t, compareTasks(a, nil))
	assert.NotEmpty(t, compareTasks(nil, a))
	assert.Empty(t, compareTasks(nil, nil))
}
