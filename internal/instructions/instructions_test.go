package instructions

import (
	"path/filepath"
	"strings"
	"testing"

	"cub/internal/section"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmptyLines(s string) int {
	n := 0
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func TestGenerateGenericLineBudget(t *testing.T) {
	out := Generate(Config{ProjectName: "widget"}, FlavorGeneric)
	n := nonEmptyLines(out)
	assert.GreaterOrEqual(t, n, 10)
	assert.LessOrEqual(t, n, 30)
	assert.Contains(t, out, "@.cub/map.md")
	assert.Contains(t, out, "widget")
	assert.NotContains(t, out, "Planning mode")
}

func TestGenerateAgentFlavorAddsExtras(t *testing.T) {
	out := Generate(Config{ProjectName: "widget"}, FlavorAgent)
	assert.Contains(t, out, "Planning mode")
	assert.Contains(t, out, "Skills")
	n := nonEmptyLines(out)
	assert.LessOrEqual(t, n, 30)
}

func TestWriteIntoUsesManagedSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AGENTS.md")
	res, err := WriteInto(path, Config{ProjectName: "widget"}, FlavorAgent)
	require.NoError(t, err)
	assert.Equal(t, section.ActionCreated, res.Action)

	info, err := section.DetectManagedSection(path)
	require.NoError(t, err)
	assert.True(t, info.Found)
	assert.False(t, info.ContentModified)
}
