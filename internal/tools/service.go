package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ReadinessReport is the result of check_readiness: a tool is ready only
// when Missing is empty.
type ReadinessReport struct {
	ToolID  string
	Ready   bool
	Missing []string
}

// ExecutionService orchestrates adapter dispatch behind an adopt-gate,
// readiness checks, and artifact persistence.
type ExecutionService struct {
	adapters     map[AdapterType]Adapter
	approval     ApprovalSource
	artifactRoot string
}

// New constructs a service with an adapter registered for every
// AdapterType. approval may be nil, in which case the adopt-gate is
// bypassed for every tool.
func New(artifactRoot string, approval ApprovalSource) *ExecutionService {
	return &ExecutionService{
		adapters: map[AdapterType]Adapter{
			AdapterHTTP:     NewHTTPAdapter(),
			AdapterCLI:      NewCLIAdapter(),
			AdapterMCPStdio: NewMCPAdapter(),
		},
		approval:     approval,
		artifactRoot: artifactRoot,
	}
}

func (s *ExecutionService) adopted(toolID string) error {
	if s.approval == nil {
		return nil
	}
	if !s.approval.IsApproved(toolID) {
		return &ToolNotAdoptedError{ToolID: toolID}
	}
	return nil
}

// CheckReadiness composes the adopt-gate, the adapter's health_check and
// is_available, and (when configured) an auth-env-var presence check.
func (s *ExecutionService) CheckReadiness(ctx context.Context, cfg ToolConfig) ReadinessReport {
	report := ReadinessReport{ToolID: cfg.ID, Ready: true}

	if err := s.adopted(cfg.ID); err != nil {
		report.Ready = false
		report.Missing = append(report.Missing, err.Error())
	}

	adapter, ok := s.adapters[cfg.AdapterType]
	if !ok {
		report.Ready = false
		report.Missing = append(report.Missing, fmt.Sprintf("no adapter registered for type %q", cfg.AdapterType))
		return report
	}

	if !adapter.HealthCheck(ctx) {
		report.Ready = false
		report.Missing = append(report.Missing, "adapter health check failed")
	}
	if !adapter.IsAvailable(ctx, cfg) {
		report.Ready = false
		report.Missing = append(report.Missing, fmt.Sprintf("tool %q is not available", cfg.ID))
	}

	if envVar := authEnvVar(cfg); envVar != "" {
		if os.Getenv(envVar) == "" {
			report.Ready = false
			report.Missing = append(report.Missing, fmt.Sprintf("environment variable %q is not set", envVar))
		}
	}

	return report
}

func authEnvVar(cfg ToolConfig) string {
	if cfg.HTTP != nil {
		return cfg.HTTP.AuthEnvVar
	}
	return ""
}

// Execute runs the adopt-gate, delegates to the configured adapter, and
// when the call succeeds and saveArtifact is true, persists the result
// atomically and fills in ArtifactPath.
func (s *ExecutionService) Execute(ctx context.Context, cfg ToolConfig, action string, params map[string]any, timeout float64, saveArtifact bool) (ToolResult, error) {
	if err := s.adopted(cfg.ID); err != nil {
		return ToolResult{}, err
	}

	adapter, ok := s.adapters[cfg.AdapterType]
	if !ok {
		return ToolResult{}, fmt.Errorf("no adapter registered for type %q", cfg.AdapterType)
	}

	result := adapter.Execute(ctx, cfg, action, params, timeout)

	if result.Success && saveArtifact && s.artifactRoot != "" {
		path, err := s.writeArtifact(result)
		if err != nil {
			return result, err
		}
		result.ArtifactPath = path
	}
	return result, nil
}

func (s *ExecutionService) writeArtifact(result ToolResult) (string, error) {
	if err := os.MkdirAll(s.artifactRoot, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%s.json", result.StartedAt.UTC().Format("20060102T150405Z"), result.ToolID, result.Action)
	path := filepath.Join(s.artifactRoot, name)

	tmp, err := os.CreateTemp(s.artifactRoot, ".artifact_*.json.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encoding artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("renaming artifact into place: %w", err)
	}
	return path, nil
}

// Artifact is one entry returned by ListArtifacts.
type Artifact struct {
	Path    string
	ToolID  string
	Action  string
	ModTime time.Time
}

// ListArtifacts enumerates persisted artifact files, optionally filtered
// by toolID and/or action, sorted by modification time descending.
// Filenames are "{timestamp}-{tool_id}-{action}.json"; since tool ids may
// themselves contain dashes, the action is recovered by splitting on the
// *last* dash before the extension, not the first.
func (s *ExecutionService) ListArtifacts(toolID, action string) ([]Artifact, error) {
	entries, err := os.ReadDir(s.artifactRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		parsedTool, parsedAction, ok := parseArtifactName(entry.Name())
		if !ok {
			continue
		}
		if toolID != "" && parsedTool != toolID {
			continue
		}
		if action != "" && parsedAction != action {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, Artifact{
			Path:    filepath.Join(s.artifactRoot, entry.Name()),
			ToolID:  parsedTool,
			Action:  parsedAction,
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ModTime.After(artifacts[j].ModTime) })
	return artifacts, nil
}

func parseArtifactName(name string) (toolID, action string, ok bool) {
	base := strings.TrimSuffix(name, ".json")
	firstDash := strings.Index(base, "-")
	if firstDash < 0 {
		return "", "", false
	}
	rest := base[firstDash+1:]
	lastDash := strings.LastIndex(rest, "-")
	if lastDash < 0 {
		return "", "", false
	}
	return rest[:lastDash], rest[lastDash+1:], true
}
