package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	filename string
	content  string
	err      error
}

func (r stubRunner) Run(ctx *Context) (string, []byte, error) {
	if r.err != nil {
		return "", nil, r.err
	}
	return r.filename, []byte(r.content), nil
}

func allRunners() map[Stage]Runner {
	return map[Stage]Runner{
		StageOrient:    stubRunner{filename: "orient.md", content: "orient output"},
		StageArchitect: stubRunner{filename: "architect.md", content: "architect output"},
		StageItemize:   stubRunner{filename: "itemize.md", content: "itemize output"},
	}
}

func writeSpec(t *testing.T, projectRoot string) string {
	t.Helper()
	dir := filepath.Join(projectRoot, "specs", "researching")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "my-feature.md")
	require.NoError(t, os.WriteFile(path, []byte("# spec"), 0o644))
	return path
}

func TestConfigRequiresExactlyOneOfSpecPathOrContinueFrom(t *testing.T) {
	root := t.TempDir()
	_, err := New(root, Config{Mindset: "mvp", Scale: "team", Depth: "standard"}, allRunners(), nil)
	require.Error(t, err)

	_, err = New(root, Config{
		SpecPath: writeSpec(t, root), ContinueFrom: root,
		Mindset: "mvp", Scale: "team", Depth: "standard",
	}, allRunners(), nil)
	require.Error(t, err)
}

func TestConfigRejectsInvalidEnumValues(t *testing.T) {
	root := t.TempDir()
	specPath := writeSpec(t, root)

	_, err := New(root, Config{SpecPath: specPath, Mindset: "bogus", Scale: "team", Depth: "standard"}, allRunners(), nil)
	require.Error(t, err)

	_, err = New(root, Config{SpecPath: specPath, Mindset: "mvp", Scale: "bogus", Depth: "standard"}, allRunners(), nil)
	require.Error(t, err)

	_, err = New(root, Config{SpecPath: specPath, Mindset: "mvp", Scale: "team", Depth: "bogus"}, allRunners(), nil)
	require.Error(t, err)
}

func TestRunCompletesAllStagesAndMovesSpec(t *testing.T) {
	root := t.TempDir()
	specPath := writeSpec(t, root)

	var events []string
	onProgress := func(stage Stage, status ProgressStatus, message string) {
		events = append(events, string(stage)+":"+string(status))
	}

	pipeline, err := New(root, Config{
		SpecPath: specPath, Slug: "my-feature", Depth: "standard",
		Mindset: "mvp", Scale: "team", MoveSpec: true,
	}, allRunners(), onProgress)
	require.NoError(t, err)

	result := pipeline.Run()
	require.True(t, result.Success)
	assert.True(t, result.Plan.IsComplete())
	assert.Len(t, result.StageResults, 3)
	assert.True(t, result.SpecMoved)

	_, err = os.Stat(specPath)
	assert.True(t, os.IsNotExist(err), "spec should have moved out of researching/")
	_, err = os.Stat(result.SpecNewPath)
	require.NoError(t, err)
	assert.Contains(t, result.SpecNewPath, filepath.Join("specs", "planned"))

	assert.Contains(t, events, "ORIENT:starting")
	assert.Contains(t, events, "ITEMIZE:complete")
}

func TestRunSkipsCompletedStagesOnResume(t *testing.T) {
	root := t.TempDir()
	specPath := writeSpec(t, root)

	runners := allRunners()
	pipeline, err := New(root, Config{
		SpecPath: specPath, Slug: "my-feature", Depth: "standard",
		Mindset: "mvp", Scale: "team",
	}, runners, nil)
	require.NoError(t, err)

	result := pipeline.RunSingleStage(StageOrient)
	require.True(t, result.Success)
	assert.Equal(t, StatusComplete, result.Plan.Stages[StageOrient])
	assert.Equal(t, StatusPending, result.Plan.Stages[StageArchitect])

	resumePipeline, err := New(root, Config{
		ContinueFrom: result.PlanDir, Mindset: "mvp", Scale: "team", Depth: "standard",
	}, runners, nil)
	require.NoError(t, err)

	final := resumePipeline.Run()
	require.True(t, final.Success)
	assert.Len(t, final.StageResults, 2, "orient should have been skipped as already complete")
}

func TestRunStopsOnStageFailure(t *testing.T) {
	root := t.TempDir()
	specPath := writeSpec(t, root)

	runners := allRunners()
	runners[StageArchitect] = stubRunner{err: assert.AnError}

	pipeline, err := New(root, Config{
		SpecPath: specPath, Slug: "my-feature", Depth: "standard",
		Mindset: "mvp", Scale: "team",
	}, runners, nil)
	require.NoError(t, err)

	result := pipeline.Run()
	require.False(t, result.Success)
	assert.Equal(t, StatusComplete, result.Plan.Stages[StageOrient])
	assert.Equal(t, StatusFailed, result.Plan.Stages[StageArchitect])
	assert.NotEmpty(t, result.Error)
}
