package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClaudeScript writes a tiny shell script masquerading as the `claude`
// binary so the CLI adapter can be exercised without a real harness
// installed, mirroring how the sandbox/plumbing tests spawn real git
// rather than mocking it.
func fakeClaudeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return path
}

func TestCLIAdapterInvokeParsesBlockingJSON(t *testing.T) {
	fakeClaudeScript(t, `cat <<'EOF'
{"result": "done", "usage": {"input_tokens": 10, "output_tokens": 5}, "total_cost_usd": 0.02}
EOF
`)
	adapter := NewCLIAdapter("claude-cli", "claude", "")
	result, err := adapter.Invoke(context.Background(), TaskInput{SystemPrompt: "sys", TaskPrompt: "do it"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 10, result.Usage.InputTokens)
	assert.Equal(t, 5, result.Usage.OutputTokens)
	require.NotNil(t, result.Usage.CostUSD)
	assert.InDelta(t, 0.02, *result.Usage.CostUSD, 0.0001)
	assert.Empty(t, result.Error)
}

func TestCLIAdapterInvokeFallsBackToRawOutputOnMalformedJSON(t *testing.T) {
	fakeClaudeScript(t, `echo "not json"`)
	adapter := NewCLIAdapter("claude-cli", "claude", "")
	result, err := adapter.Invoke(context.Background(), TaskInput{SystemPrompt: "sys", TaskPrompt: "do it"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "not json")
}

func TestCLIAdapterInvokeNonzeroExitIsReportedAsError(t *testing.T) {
	fakeClaudeScript(t, `echo "boom" >&2; exit 1`)
	adapter := NewCLIAdapter("claude-cli", "claude", "")
	result, err := adapter.Invoke(context.Background(), TaskInput{SystemPrompt: "sys", TaskPrompt: "do it"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, result.ExitCode)
}

func TestCLIAdapterInvokeStreamingParsesNDJSONEvents(t *testing.T) {
	fakeClaudeScript(t, `cat <<'EOF'
{"type": "assistant", "message": {"content": [{"type": "text", "text": "hel"}]}, "usage": {"input_tokens": 3, "output_tokens": 1}}
not json, should be skipped
{"type": "content_block_delta", "delta": {"type": "text_delta", "text": "lo"}}
{"type": "result", "total_cost_usd": 0.5}
EOF
`)
	adapter := NewCLIAdapter("claude-cli", "claude", "")
	var chunks []string
	result, err := adapter.InvokeStreaming(context.Background(), TaskInput{SystemPrompt: "sys", TaskPrompt: "do it"}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, []string{"hel", "lo"}, chunks)
	assert.Equal(t, 3, result.Usage.InputTokens)
	require.NotNil(t, result.Usage.CostUSD)
	assert.InDelta(t, 0.5, *result.Usage.CostUSD, 0.0001)
}

func TestCLIAdapterIsAvailableReflectsPath(t *testing.T) {
	adapter := NewCLIAdapter("claude-cli", "definitely-not-a-real-binary", "")
	assert.False(t, adapter.IsAvailable(context.Background()))

	fakeClaudeScript(t, `echo ok`)
	available := NewCLIAdapter("claude-cli", "claude", "")
	assert.True(t, available.IsAvailable(context.Background()))
}

func TestCLIAdapterRunTaskWrapsInvoke(t *testing.T) {
	fakeClaudeScript(t, `echo '{"result": "ok"}'`)
	adapter := NewCLIAdapter("claude-cli", "claude", "")
	result, err := adapter.RunTask(context.Background(), TaskInput{SystemPrompt: "s", TaskPrompt: "p"})
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, "ok", result.Output)
}
