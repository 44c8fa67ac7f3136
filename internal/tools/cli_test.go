package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIAdapterParsesJSONOutput(t *testing.T) {
	cfg := ToolConfig{
		ID:          "echo-json",
		AdapterType: AdapterCLI,
		CLI: &CLIConfig{
			Command:      "echo",
			ArgsTemplate: []string{`{"ok":true,"name":"{name}"}`},
			OutputFormat: OutputJSON,
		},
	}
	adapter := NewCLIAdapter()
	result := adapter.Execute(context.Background(), cfg, "run", map[string]any{"name": "widget"}, 5)
	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"ok": true, "name": "widget"}, result.Output)
}

func TestCLIAdapterSplitsLinesOutput(t *testing.T) {
	cfg := ToolConfig{
		ID:          "printf-lines",
		AdapterType: AdapterCLI,
		CLI:         &CLIConfig{Command: "printf", ArgsTemplate: []string{"a\\nb\\nc\\n"}, OutputFormat: OutputLines},
	}
	adapter := NewCLIAdapter()
	result := adapter.Execute(context.Background(), cfg, "run", nil, 5)
	require.True(t, result.Success)
	assert.Equal(t, []string{"a", "b", "c"}, result.Output)
}

func TestCLIAdapterNonzeroExitIsStructuredFailure(t *testing.T) {
	cfg := ToolConfig{
		ID:          "false-tool",
		AdapterType: AdapterCLI,
		CLI:         &CLIConfig{Command: "false", OutputFormat: OutputText},
	}
	adapter := NewCLIAdapter()
	result := adapter.Execute(context.Background(), cfg, "run", nil, 5)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestCLIAdapterIsAvailableChecksPath(t *testing.T) {
	adapter := NewCLIAdapter()
	assert.True(t, adapter.IsAvailable(context.Background(), ToolConfig{CLI: &CLIConfig{Command: "echo"}}))
	assert.False(t, adapter.IsAvailable(context.Background(), ToolConfig{CLI: &CLIConfig{Command: "definitely-not-a-real-binary"}}))
}
