package harness

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("cub.harness")

// SDKOptions configures one query against a HostSDK.
type SDKOptions struct {
	SystemPrompt    string
	Prompt          string
	Model           string
	WorkingDir      string
	PermissionMode  string // "default" or "bypassPermissions"
}

// SDKContentBlock is one piece of an assistant message: either plain text
// or a tool invocation/result, distinguished by Kind.
type SDKContentBlock struct {
	Kind      string // "text", "tool_use", "tool_result"
	Text      string
	ToolUseID string
	ToolName  string
	ToolInput any
	ToolOutput any
}

// SDKMessage is one event in a query's message stream.
type SDKMessage struct {
	Type        string // "assistant", "result"
	Content     []SDKContentBlock
	IsError     bool
	SessionID   string
	TotalCostUSD *float64
	Usage       TokenUsage
}

// HostSDK is the abstract seam an SDK-native adapter delegates to. No
// vendored Go binding for a coding-agent SDK exists in this module's
// dependency set, so RunTask/StreamTask talk to this interface rather
// than a concrete client; production wiring supplies a real
// implementation at startup.
type HostSDK interface {
	Query(ctx context.Context, opts SDKOptions) (<-chan SDKMessage, error)
}

// SDKAdapter implements AsyncAdapter natively against a HostSDK,
// consuming its message stream and matching each tool_use block to the
// next unmatched tool_result in message order.
type SDKAdapter struct {
	sdk         HostSDK
	defaultModel string
}

// NewSDKAdapter builds an adapter delegating to sdk.
func NewSDKAdapter(sdk HostSDK, defaultModel string) *SDKAdapter {
	return &SDKAdapter{sdk: sdk, defaultModel: defaultModel}
}

func (a *SDKAdapter) Name() string { return "claude-sdk" }

func (a *SDKAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:      true,
		TokenReporting: true,
		SystemPrompt:   true,
		AutoMode:       true,
		JSONOutput:     true,
		ModelSelection: true,
	}
}

func (a *SDKAdapter) SupportsFeature(feature Feature) bool { return a.Capabilities().Has(feature) }

func (a *SDKAdapter) IsAvailable(ctx context.Context) bool { return a.sdk != nil }

func (a *SDKAdapter) GetVersion(ctx context.Context) (string, error) { return "sdk", nil }

func (a *SDKAdapter) toOptions(input TaskInput) SDKOptions {
	model := input.Model
	if model == "" {
		model = a.defaultModel
	}
	mode := "default"
	if input.AutoApprove {
		mode = "bypassPermissions"
	}
	return SDKOptions{
		SystemPrompt:   input.SystemPrompt,
		Prompt:         input.TaskPrompt,
		Model:          model,
		WorkingDir:     input.WorkingDir,
		PermissionMode: mode,
	}
}

// RunTask drives a query to completion, discarding intermediate text
// chunks (StreamTask should be used when they matter) and returning the
// accumulated result.
func (a *SDKAdapter) RunTask(ctx context.Context, input TaskInput) (*TaskResult, error) {
	return a.consume(ctx, input, nil)
}

// StreamTask drives a query, invoking onChunk for every incremental text
// fragment as it arrives.
func (a *SDKAdapter) StreamTask(ctx context.Context, input TaskInput, onChunk func(string)) (*TaskResult, error) {
	return a.consume(ctx, input, onChunk)
}

func (a *SDKAdapter) consume(ctx context.Context, input TaskInput, onChunk func(string)) (*TaskResult, error) {
	ctx, span := tracer.Start(ctx, "harness_setup")
	if a.sdk == nil {
		span.End()
		return &TaskResult{Error: "no SDK configured", ErrorKind: ErrKindUnknown, At: time.Now()}, nil
	}

	start := time.Now()
	messages, err := a.sdk.Query(ctx, a.toOptions(input))
	span.End()
	if err != nil {
		return &TaskResult{Error: err.Error(), ErrorKind: ErrKindConnectionError, At: time.Now()}, nil
	}

	_, loopSpan := tracer.Start(ctx, "agentic_loop")
	defer loopSpan.End()

	result := &TaskResult{At: time.Now()}
	var pendingUses []ToolUseRecord
	step := 0

	for msg := range messages {
		step++
		loopSpan.SetAttributes(attribute.Int("step", step))

		switch msg.Type {
		case "assistant", "message":
			for _, block := range msg.Content {
				switch block.Kind {
				case "text":
					result.Output += block.Text
					if onChunk != nil {
						onChunk(block.Text)
					}
				case "tool_use":
					pendingUses = append(pendingUses, ToolUseRecord{
						ToolUseID: block.ToolUseID,
						Name:      block.ToolName,
						Input:     block.ToolInput,
					})
				case "tool_result":
					for i := range pendingUses {
						if pendingUses[i].ToolUseID == block.ToolUseID && pendingUses[i].Output == nil {
							pendingUses[i].Output = block.ToolOutput
							break
						}
					}
				}
			}
			if msg.Usage.TotalTokens() > 0 {
				result.Usage = msg.Usage
			}
		case "result":
			result.SessionID = msg.SessionID
			if msg.Usage.TotalTokens() > 0 {
				result.Usage = msg.Usage
			}
			if msg.TotalCostUSD != nil {
				result.Usage.CostUSD = msg.TotalCostUSD
			}
			if msg.IsError {
				result.ExitCode = 1
				if result.Error == "" {
					result.Error = "harness reported an error result"
					result.ErrorKind = ErrKindProcessError
				}
			}
		}
	}

	result.ToolUses = pendingUses
	result.Duration = time.Since(start)
	return result, nil
}

// Analyze composes an analysis-specific system prompt over files (path to
// content, truncated to 50,000 bytes per file) and dispatches it through
// RunTask with file modification explicitly forbidden.
func (a *SDKAdapter) Analyze(ctx context.Context, analysisType AnalysisType, files map[string]string, model string) (*TaskResult, error) {
	input := TaskInput{
		SystemPrompt: analysisSystemPrompt(analysisType),
		TaskPrompt:   composeAnalysisPrompt(files),
		Model:        model,
		AutoApprove:  true,
	}
	return a.RunTask(ctx, input)
}

const analysisTruncateBytes = 50_000

func composeAnalysisPrompt(files map[string]string) string {
	prompt := "Analyze the following files. Do not modify any file; report findings only.\n\n"
	for path, content := range files {
		body := content
		if len(body) > analysisTruncateBytes {
			body = body[:analysisTruncateBytes] + "\n... (truncated)"
		}
		prompt += fmt.Sprintf("--- %s ---\n%s\n\n", path, body)
	}
	return prompt
}

func analysisSystemPrompt(analysisType AnalysisType) string {
	base := "You are performing a read-only analysis. Do not edit, create, or delete any file."
	switch analysisType {
	case AnalysisImplementationReview:
		return base + " Compare the implementation against its intended behavior and report mismatches."
	case AnalysisCodeQuality:
		return base + " Evaluate code quality: clarity, error handling, test coverage, and maintainability."
	case AnalysisSpecGap:
		return base + " Identify requirements that are specified but not implemented, and implementation that has no corresponding requirement."
	default:
		return base
	}
}
