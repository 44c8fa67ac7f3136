package harness

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"cub/internal/plumbing"
)

// EnvRunActive is set in the subprocess environment of every CLI
// shell-out invocation so a hook registered against the invoked tool's
// own instrumentation (if any) can tell it is running nested inside an
// orchestrated task and skip double-tracking it.
const EnvRunActive = "CUB_RUN_ACTIVE"

// CLIAdapter shells out to a coding-agent CLI binary. It satisfies both
// SyncAdapter directly and AsyncAdapter by running the blocking calls
// synchronously on the calling goroutine — callers that need true
// concurrency should run RunTask/StreamTask in their own goroutine; no
// internal thread pool is spun up to imitate one.
type CLIAdapter struct {
	binary       string
	adapterName  string
	defaultModel string
}

// NewCLIAdapter builds an adapter shelling out to binary (e.g. "claude",
// "codex"), registered under name.
func NewCLIAdapter(name, binary, defaultModel string) *CLIAdapter {
	return &CLIAdapter{adapterName: name, binary: binary, defaultModel: defaultModel}
}

func (a *CLIAdapter) Name() string { return a.adapterName }

func (a *CLIAdapter) Capabilities() Capabilities {
	return Capabilities{
		Streaming:      true,
		TokenReporting: true,
		SystemPrompt:   true,
		AutoMode:       true,
		JSONOutput:     true,
		ModelSelection: true,
	}
}

func (a *CLIAdapter) SupportsFeature(feature Feature) bool { return a.Capabilities().Has(feature) }

func (a *CLIAdapter) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(a.binary)
	return err == nil
}

func (a *CLIAdapter) GetVersion(ctx context.Context) (string, error) {
	res, err := plumbing.Run(ctx, "", 10*time.Second, nil, "", a.binary, "--version")
	if err != nil {
		return "unknown", nil
	}
	version := strings.TrimSpace(res.Stdout)
	if version == "" {
		return "unknown", nil
	}
	return version, nil
}

func (a *CLIAdapter) buildFlags(input TaskInput, streaming bool) []string {
	flags := []string{"-p", "--append-system-prompt", input.SystemPrompt}
	if input.AutoApprove {
		flags = append(flags, "--dangerously-skip-permissions")
	}
	if streaming {
		flags = append(flags, "--verbose", "--output-format", "stream-json")
	} else {
		flags = append(flags, "--output-format", "json")
	}

	model := input.Model
	if model == "" {
		model = a.defaultModel
	}
	if model != "" {
		flags = append(flags, "--model", model)
	}
	if input.Debug {
		flags = append(flags, "--debug")
	}
	if extra := strings.TrimSpace(os.Getenv(EnvExtraArgs)); extra != "" {
		flags = append(flags, strings.Fields(extra)...)
	}
	return flags
}

// Invoke runs one blocking request and parses the tool's single-object
// JSON response.
func (a *CLIAdapter) Invoke(ctx context.Context, input TaskInput) (*HarnessResult, error) {
	start := time.Now()
	if !a.IsAvailable(ctx) {
		return failedResult(start, fmt.Sprintf("%s binary not found on PATH", a.binary)), nil
	}
	flags := a.buildFlags(input, false)
	env := []string{EnvRunActive + "=1"}

	res, runErr := plumbing.Run(ctx, input.WorkingDir, 0, env, input.TaskPrompt, a.binary, flags...)
	duration := time.Since(start)

	output, usage, parseErr := parseBlockingJSON(res.Stdout)
	result := &HarnessResult{Output: output, Usage: usage, Duration: duration, At: time.Now()}

	if parseErr != nil {
		// Malformed JSON is likely an error message on stdout/stderr rather
		// than a harness bug; surface it as-is instead of failing the call.
		result.Output = firstNonEmpty(res.Stdout, res.Stderr)
	}

	if extFail, ok := runErr.(*plumbing.ExternalFailureError); ok {
		result.ExitCode = extFail.ExitCode
		result.Error = fmt.Sprintf("%s command failed: %s", a.binary, extFail.Stderr)
	} else if runErr != nil {
		result.ExitCode = 1
		result.Error = runErr.Error()
	}
	return result, nil
}

func parseBlockingJSON(stdout string) (output string, usage TokenUsage, err error) {
	var parsed map[string]any
	if jsonErr := json.Unmarshal([]byte(stdout), &parsed); jsonErr != nil {
		return "", TokenUsage{}, jsonErr
	}
	if result, ok := parsed["result"].(string); ok {
		output = result
	} else if content, ok := parsed["content"].(string); ok {
		output = content
	}
	if rawUsage, ok := parsed["usage"].(map[string]any); ok {
		usage = TokenUsage{
			InputTokens:         intField(rawUsage, "input_tokens"),
			OutputTokens:        intField(rawUsage, "output_tokens"),
			CacheReadTokens:     intField(rawUsage, "cache_read_input_tokens"),
			CacheCreationTokens: intField(rawUsage, "cache_creation_input_tokens"),
		}
	}
	if cost, ok := parsed["total_cost_usd"].(float64); ok {
		usage.CostUSD = &cost
	}
	return output, usage, nil
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := strconv.Atoi(v.String())
		return n
	default:
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// InvokeStreaming runs the tool with newline-delimited JSON event output,
// parsing each line independently and skipping malformed ones, invoking
// onChunk for every incremental text fragment.
func (a *CLIAdapter) InvokeStreaming(ctx context.Context, input TaskInput, onChunk func(string)) (*HarnessResult, error) {
	start := time.Now()
	flags := a.buildFlags(input, true)

	cmd := exec.CommandContext(ctx, a.binary, flags...)
	cmd.Dir = input.WorkingDir
	cmd.Env = append(os.Environ(), EnvRunActive+"=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return failedResult(start, fmt.Sprintf("failed to open stdin: %v", err)), nil
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failedResult(start, fmt.Sprintf("failed to open stdout: %v", err)), nil
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return failedResult(start, fmt.Sprintf("failed to start %s: %v", a.binary, err)), nil
	}

	go func() {
		_, _ = stdin.Write([]byte(input.TaskPrompt))
		_ = stdin.Close()
	}()

	var output strings.Builder
	usage := TokenUsage{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		eventType, _ := event["type"].(string)
		switch eventType {
		case "assistant", "message":
			if rawUsage, ok := event["usage"].(map[string]any); ok {
				usage.InputTokens += intField(rawUsage, "input_tokens")
				usage.OutputTokens += intField(rawUsage, "output_tokens")
				usage.CacheReadTokens += intField(rawUsage, "cache_read_input_tokens")
				usage.CacheCreationTokens += intField(rawUsage, "cache_creation_input_tokens")
			}
			if message, ok := event["message"].(map[string]any); ok {
				if blocks, ok := message["content"].([]any); ok {
					for _, raw := range blocks {
						block, ok := raw.(map[string]any)
						if !ok {
							continue
						}
						if blockType, _ := block["type"].(string); blockType == "text" {
							text, _ := block["text"].(string)
							emitChunk(&output, onChunk, text)
						}
					}
				}
			}
		case "content_block_delta":
			if delta, ok := event["delta"].(map[string]any); ok {
				if deltaType, _ := delta["type"].(string); deltaType == "text_delta" {
					text, _ := delta["text"].(string)
					emitChunk(&output, onChunk, text)
				}
			}
		case "result":
			if cost, ok := event["total_cost_usd"].(float64); ok {
				usage.CostUSD = &cost
			}
		}
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)

	result := &HarnessResult{Output: output.String(), Usage: usage, Duration: duration, At: time.Now()}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		result.Error = fmt.Sprintf("%s command failed: %s", a.binary, stderr.String())
	} else if waitErr != nil {
		result.ExitCode = 1
		result.Error = waitErr.Error()
	}
	return result, nil
}

func emitChunk(output *strings.Builder, onChunk func(string), text string) {
	if text == "" {
		return
	}
	output.WriteString(text)
	if onChunk != nil {
		onChunk(text)
	}
}

func failedResult(start time.Time, message string) *HarnessResult {
	return &HarnessResult{ExitCode: 1, Error: message, Duration: time.Since(start), At: time.Now()}
}

// --- AsyncAdapter, satisfied by running the sync calls directly ---

func (a *CLIAdapter) RunTask(ctx context.Context, input TaskInput) (*TaskResult, error) {
	result, err := a.Invoke(ctx, input)
	if err != nil {
		return nil, err
	}
	return toTaskResult(result), nil
}

// StreamTask degrades gracefully: chunks are still delivered to onChunk
// as they are parsed from the subprocess's stdout, but the call itself
// still blocks the caller until the process exits, since this adapter
// has no native async process model to hand control back on.
func (a *CLIAdapter) StreamTask(ctx context.Context, input TaskInput, onChunk func(string)) (*TaskResult, error) {
	result, err := a.InvokeStreaming(ctx, input, onChunk)
	if err != nil {
		return nil, err
	}
	return toTaskResult(result), nil
}

func toTaskResult(r *HarnessResult) *TaskResult {
	errKind := ""
	if r.Error != "" {
		errKind = ErrKindProcessError
	}
	return &TaskResult{
		Output:    r.Output,
		Usage:     r.Usage,
		Duration:  r.Duration,
		ExitCode:  r.ExitCode,
		Error:     r.Error,
		ErrorKind: errKind,
		At:        r.At,
	}
}

// Analyze composes an analysis-specific system prompt and dispatches it
// through RunTask with auto-approve set and file modification forbidden
// by the prompt itself — this adapter has no sandboxing to enforce it.
func (a *CLIAdapter) Analyze(ctx context.Context, analysisType AnalysisType, files map[string]string, model string) (*TaskResult, error) {
	input := TaskInput{
		SystemPrompt: analysisSystemPrompt(analysisType),
		TaskPrompt:   composeAnalysisPrompt(files),
		Model:        model,
		AutoApprove:  true,
	}
	return a.RunTask(ctx, input)
}
