package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSDK struct {
	messages []SDKMessage
}

func (f fakeSDK) Query(ctx context.Context, opts SDKOptions) (<-chan SDKMessage, error) {
	ch := make(chan SDKMessage, len(f.messages))
	for _, m := range f.messages {
		ch <- m
	}
	close(ch)
	return ch, nil
}

func TestSDKAdapterAccumulatesTextAndMatchesToolResults(t *testing.T) {
	cost := 0.12
	sdk := fakeSDK{messages: []SDKMessage{
		{
			Type: "assistant",
			Content: []SDKContentBlock{
				{Kind: "text", Text: "hel"},
				{Kind: "tool_use", ToolUseID: "t1", ToolName: "read_file", ToolInput: "a.go"},
			},
		},
		{
			Type: "assistant",
			Content: []SDKContentBlock{
				{Kind: "text", Text: "lo"},
				{Kind: "tool_result", ToolUseID: "t1", ToolOutput: "contents"},
			},
		},
		{Type: "result", SessionID: "sess-1", TotalCostUSD: &cost, Usage: TokenUsage{InputTokens: 4, OutputTokens: 2}},
	}}

	adapter := NewSDKAdapter(sdk, "")
	result, err := adapter.RunTask(context.Background(), TaskInput{TaskPrompt: "do it"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Output)
	assert.Equal(t, "sess-1", result.SessionID)
	require.Len(t, result.ToolUses, 1)
	assert.Equal(t, "read_file", result.ToolUses[0].Name)
	assert.Equal(t, "contents", result.ToolUses[0].Output)
	require.NotNil(t, result.Usage.CostUSD)
	assert.InDelta(t, 0.12, *result.Usage.CostUSD, 0.001)
}

func TestSDKAdapterStreamTaskInvokesCallbackPerChunk(t *testing.T) {
	sdk := fakeSDK{messages: []SDKMessage{
		{Type: "assistant", Content: []SDKContentBlock{{Kind: "text", Text: "a"}, {Kind: "text", Text: "b"}}},
	}}
	adapter := NewSDKAdapter(sdk, "")
	var chunks []string
	result, err := adapter.StreamTask(context.Background(), TaskInput{}, func(c string) { chunks = append(chunks, c) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chunks)
	assert.Equal(t, "ab", result.Output)
}

func TestSDKAdapterMarksExitCodeOnErrorResult(t *testing.T) {
	sdk := fakeSDK{messages: []SDKMessage{{Type: "result", IsError: true}}}
	adapter := NewSDKAdapter(sdk, "")
	result, err := adapter.RunTask(context.Background(), TaskInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.True(t, result.Failed())
}

func TestSDKAdapterIsAvailableRequiresConfiguredSDK(t *testing.T) {
	adapter := NewSDKAdapter(nil, "")
	assert.False(t, adapter.IsAvailable(context.Background()))
	assert.True(t, NewSDKAdapter(fakeSDK{}, "").IsAvailable(context.Background()))
}

func TestAnalyzeTruncatesLargeFilesAndForbidsModification(t *testing.T) {
	sdk := &capturingSDK{}
	adapter := NewSDKAdapter(sdk, "")

	big := make([]byte, analysisTruncateBytes+10)
	for i := range big {
		big[i] = 'x'
	}

	_, err := adapter.Analyze(context.Background(), AnalysisCodeQuality, map[string]string{"big.go": string(big)}, "")
	require.NoError(t, err)
	require.NotNil(t, sdk.lastOpts)
	assert.Contains(t, sdk.lastOpts.SystemPrompt, "Do not edit, create, or delete any file")
	assert.Contains(t, sdk.lastOpts.Prompt, "truncated")
	assert.Equal(t, "bypassPermissions", sdk.lastOpts.PermissionMode)
}

type capturingSDK struct {
	lastOpts *SDKOptions
}

func (c *capturingSDK) Query(ctx context.Context, opts SDKOptions) (<-chan SDKMessage, error) {
	c.lastOpts = &opts
	ch := make(chan SDKMessage)
	close(ch)
	return ch, nil
}
