package tools

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"cub/internal/plumbing"
)

// CLIAdapter executes tools described by a CLIConfig by spawning the
// configured command. It reuses the generic subprocess runner from
// internal/plumbing rather than shelling out directly.
type CLIAdapter struct{}

func NewCLIAdapter() *CLIAdapter { return &CLIAdapter{} }

func (a *CLIAdapter) AdapterType() AdapterType { return AdapterCLI }

func (a *CLIAdapter) IsAvailable(ctx context.Context, cfg ToolConfig) bool {
	if cfg.CLI == nil || cfg.CLI.Command == "" {
		return false
	}
	_, err := exec.LookPath(cfg.CLI.Command)
	return err == nil
}

func (a *CLIAdapter) HealthCheck(ctx context.Context) bool { return true }

func (a *CLIAdapter) Execute(ctx context.Context, cfg ToolConfig, action string, params map[string]any, timeout float64) ToolResult {
	result := startResult(cfg.ID, action, AdapterCLI)
	result.StartedAt = time.Now()

	if cfg.CLI == nil {
		return failCLI(result, ErrorOther, "tool has no CLI config")
	}

	args := make([]string, 0, len(cfg.CLI.ArgsTemplate))
	for _, arg := range cfg.CLI.ArgsTemplate {
		args = append(args, renderTemplate(arg, action, params))
	}

	env := make([]string, 0, len(cfg.CLI.EnvVars))
	for k, v := range cfg.CLI.EnvVars {
		env = append(env, k+"="+v)
	}

	res, err := plumbing.Run(ctx, "", time.Duration(timeout*float64(time.Second)), env, "", cfg.CLI.Command, args...)
	result.DurationMS = time.Since(result.StartedAt).Milliseconds()

	if timeoutErr, ok := err.(*plumbing.TimeoutError); ok {
		return failCLI(result, ErrorTimeout, timeoutErr.Error())
	}
	if failErr, ok := err.(*plumbing.ExternalFailureError); ok {
		return failCLI(result, ErrorOther, failErr.Error())
	}
	if err != nil {
		return failCLI(result, ErrorOther, err.Error())
	}

	output, parseErr := parseCLIOutput(res.Stdout, cfg.CLI.OutputFormat)
	if parseErr != nil {
		return failCLI(result, ErrorOther, parseErr.Error())
	}
	result.Output = output
	result.Success = true
	return result
}

func renderTemplate(template, action string, params map[string]any) string {
	out := strings.ReplaceAll(template, "{action}", action)
	for k, v := range params {
		out = strings.ReplaceAll(out, "{"+k+"}", toStringParam(v))
	}
	return out
}

func toStringParam(v any) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func parseCLIOutput(stdout string, format OutputFormat) (any, error) {
	switch format {
	case OutputJSON:
		var parsed any
		if err := json.Unmarshal([]byte(stdout), &parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	case OutputLines:
		var lines []string
		for _, line := range strings.Split(stdout, "\n") {
			if strings.TrimSpace(line) != "" {
				lines = append(lines, line)
			}
		}
		return lines, nil
	default: // OutputText and unset
		return stdout, nil
	}
}

func failCLI(result ToolResult, errorType, message string) ToolResult {
	result.Success = false
	result.ErrorType = errorType
	result.Error = message
	return result
}
