package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubAdapter struct {
	name      string
	available bool
}

func (s stubAdapter) Name() string                          { return s.name }
func (s stubAdapter) Capabilities() Capabilities             { return Capabilities{} }
func (s stubAdapter) IsAvailable(ctx context.Context) bool   { return s.available }
func (s stubAdapter) SupportsFeature(feature Feature) bool   { return false }
func (s stubAdapter) GetVersion(ctx context.Context) (string, error) { return "1.0", nil }
func (s stubAdapter) RunTask(ctx context.Context, input TaskInput) (*TaskResult, error) {
	return &TaskResult{}, nil
}
func (s stubAdapter) StreamTask(ctx context.Context, input TaskInput, onChunk func(string)) (*TaskResult, error) {
	return &TaskResult{}, nil
}
func (s stubAdapter) Analyze(ctx context.Context, analysisType AnalysisType, files map[string]string, model string) (*TaskResult, error) {
	return &TaskResult{}, nil
}

func TestDetectHonorsEnvOverrideRegardlessOfAvailability(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{name: "codex", available: true})
	r.Register(stubAdapter{name: "opencode", available: false})

	t.Setenv(EnvOverride, "opencode")
	adapter := r.Detect(context.Background(), nil)
	assert.Equal(t, "opencode", adapter.Name())
}

func TestDetectPrefersPriorityListOverDefaultOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{name: "claude-sdk", available: true})
	r.Register(stubAdapter{name: "gemini", available: true})

	adapter := r.Detect(context.Background(), []string{"gemini"})
	assert.Equal(t, "gemini", adapter.Name())
}

func TestDetectFallsBackToDefaultOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{name: "gemini", available: true})
	r.Register(stubAdapter{name: "claude-cli", available: true})

	adapter := r.Detect(context.Background(), nil)
	assert.Equal(t, "claude-cli", adapter.Name())
}

func TestDetectSkipsUnavailableAdapters(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{name: "claude-cli", available: false})
	r.Register(stubAdapter{name: "codex", available: true})

	adapter := r.Detect(context.Background(), nil)
	assert.Equal(t, "codex", adapter.Name())
}

func TestDetectReturnsNilWhenNothingAvailable(t *testing.T) {
	r := NewRegistry()
	r.Register(stubAdapter{name: "claude-cli", available: false})

	assert.Nil(t, r.Detect(context.Background(), nil))
}

func TestCapabilitiesHasMatchesFeatureFlags(t *testing.T) {
	caps := Capabilities{Streaming: true, ModelSelection: false}
	assert.True(t, caps.Has(FeatureStreaming))
	assert.False(t, caps.Has(FeatureModelSelection))
}
