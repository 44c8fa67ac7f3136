// Package harness defines the contract a coding-agent backend must
// satisfy, an SDK-native adapter delegating to an injected host SDK, a
// CLI shell-out adapter, and the registry that selects between them.
package harness

import "time"

// Feature names an optional capability callers can probe for before
// relying on it.
type Feature string

const (
	FeatureStreaming      Feature = "streaming"
	FeatureTokenReporting Feature = "token_reporting"
	FeatureSystemPrompt   Feature = "system_prompt"
	FeatureAutoMode       Feature = "auto_mode"
	FeatureJSONOutput     Feature = "json_output"
	FeatureModelSelection Feature = "model_selection"
)

// Capabilities declares which optional features a backend supports, so
// callers can adapt instead of probing with a real call.
type Capabilities struct {
	Streaming      bool
	TokenReporting bool
	SystemPrompt   bool
	AutoMode       bool
	JSONOutput     bool
	ModelSelection bool
}

// Has reports whether feature is set.
func (c Capabilities) Has(feature Feature) bool {
	switch feature {
	case FeatureStreaming:
		return c.Streaming
	case FeatureTokenReporting:
		return c.TokenReporting
	case FeatureSystemPrompt:
		return c.SystemPrompt
	case FeatureAutoMode:
		return c.AutoMode
	case FeatureJSONOutput:
		return c.JSONOutput
	case FeatureModelSelection:
		return c.ModelSelection
	default:
		return false
	}
}

// TokenUsage tracks token consumption for one invocation.
type TokenUsage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostUSD             *float64
	Estimated           bool
}

// TotalTokens is input plus output tokens.
func (u TokenUsage) TotalTokens() int { return u.InputTokens + u.OutputTokens }

// EffectiveInputTokens is input tokens not served from cache.
func (u TokenUsage) EffectiveInputTokens() int {
	if n := u.InputTokens - u.CacheReadTokens; n > 0 {
		return n
	}
	return 0
}

// HarnessResult is the sync contract's invocation outcome.
type HarnessResult struct {
	Output   string
	Usage    TokenUsage
	Duration time.Duration
	ExitCode int
	Error    string
	At       time.Time
}

// Success reports a clean exit with no error string set.
func (r HarnessResult) Success() bool { return r.ExitCode == 0 && r.Error == "" }

// TaskInput is the async contract's invocation parameters.
type TaskInput struct {
	SystemPrompt string
	TaskPrompt   string
	Model        string
	WorkingDir   string
	AutoApprove  bool
	Debug        bool
}

// ToolUseRecord pairs a tool invocation with its result, matched in
// first-unmatched-wins order as a session's message stream is consumed.
type ToolUseRecord struct {
	ToolUseID string
	Name      string
	Input     any
	Output    any
}

// Error kind constants recorded on TaskResult.ErrorKind, next to the
// free-text TaskResult.Error, so a consumer can classify failures without
// parsing the error message.
const (
	ErrKindCLINotFound     = "cli-not-found"
	ErrKindConnectionError = "connection-error"
	ErrKindProcessError    = "process-error"
	ErrKindUnknown         = "unknown"
)

// TaskResult is the async contract's invocation outcome.
type TaskResult struct {
	Output    string
	Usage     TokenUsage
	Duration  time.Duration
	ExitCode  int
	Error     string
	ErrorKind string
	SessionID string
	ToolUses  []ToolUseRecord
	At        time.Time
}

func (r TaskResult) Success() bool { return r.ExitCode == 0 && r.Error == "" }
func (r TaskResult) Failed() bool  { return !r.Success() }
