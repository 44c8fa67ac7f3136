package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Runner produces one stage's artifact content. A real implementation
// delegates to a harness adapter; the pipeline itself only owns stage
// sequencing, persistence, and resumability, not content generation.
type Runner interface {
	Run(ctx *Context) (artifactFilename string, content []byte, err error)
}

// Config is a pipeline's validated construction parameters.
type Config struct {
	SpecPath       string
	ContinueFrom   string
	Slug           string
	Depth          string
	Mindset        string
	Scale          string
	Verbose        bool
	MoveSpec       bool
	NonInteractive bool
}

var validDepths = map[string]bool{DepthLight: true, DepthStandard: true, DepthDeep: true}
var validMindsets = map[string]bool{"prototype": true, "mvp": true, "production": true, "enterprise": true}
var validScales = map[string]bool{"personal": true, "team": true, "product": true, "internet-scale": true}

// ConfigError reports an invalid Config.
type ConfigError struct{ Reason string }

func (e *ConfigError) Error() string { return e.Reason }

func (c Config) validate() error {
	if (c.SpecPath == "") == (c.ContinueFrom == "") {
		return &ConfigError{Reason: "exactly one of spec_path or continue_from is required"}
	}
	if c.ContinueFrom != "" {
		if _, err := os.Stat(filepath.Join(c.ContinueFrom, "plan.json")); err != nil {
			return &ConfigError{Reason: fmt.Sprintf("cannot continue: plan.json not found in %s", c.ContinueFrom)}
		}
	}
	depth := strings.ToLower(c.Depth)
	if depth == "" {
		depth = DepthStandard
	}
	if !validDepths[depth] {
		return &ConfigError{Reason: fmt.Sprintf("invalid depth: %s", c.Depth)}
	}
	if !validMindsets[strings.ToLower(c.Mindset)] {
		return &ConfigError{Reason: fmt.Sprintf("invalid mindset: %s", c.Mindset)}
	}
	if !validScales[strings.ToLower(c.Scale)] {
		return &ConfigError{Reason: fmt.Sprintf("invalid scale: %s", c.Scale)}
	}
	return nil
}

func deriveSlug(specPath string) string {
	base := filepath.Base(specPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToLower(strings.ReplaceAll(base, "_", "-"))
}

// ProgressStatus is reported to a pipeline's progress callback.
type ProgressStatus string

const (
	ProgressStarting ProgressStatus = "starting"
	ProgressComplete ProgressStatus = "complete"
	ProgressError    ProgressStatus = "error"
)

// ProgressFunc receives pipeline progress notifications.
type ProgressFunc func(stage Stage, status ProgressStatus, message string)

// StageResult records one stage's execution outcome.
type StageResult struct {
	Stage    Stage
	Success  bool
	Error    string
	Duration time.Duration
}

// Result is the outcome of running a pipeline, partial on failure.
type Result struct {
	Success      bool
	Plan         *Plan
	PlanDir      string
	StageResults []StageResult
	SpecMoved    bool
	SpecNewPath  string
	Error        string
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Pipeline orchestrates orient -> architect -> itemize over one plan
// directory.
type Pipeline struct {
	ProjectRoot string
	Config      Config
	Runners     map[Stage]Runner
	OnProgress  ProgressFunc
}

// New validates config and constructs a Pipeline. runners supplies the
// content-producing implementation for each stage.
func New(projectRoot string, cfg Config, runners map[Stage]Runner, onProgress ProgressFunc) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if onProgress == nil {
		onProgress = func(Stage, ProgressStatus, string) {}
	}
	return &Pipeline{ProjectRoot: projectRoot, Config: cfg, Runners: runners, OnProgress: onProgress}, nil
}

func projectIdentifier(projectRoot string) string {
	return strings.ToLower(strings.ReplaceAll(filepath.Base(projectRoot), "_", "-"))
}

func (p *Pipeline) loadOrCreateContext() (*Context, error) {
	if p.Config.ContinueFrom != "" {
		return LoadContext(p.ProjectRoot, p.Config.ContinueFrom)
	}
	slug := p.Config.Slug
	if slug == "" {
		slug = deriveSlug(p.Config.SpecPath)
	}
	return CreateContext(p.ProjectRoot, projectIdentifier(p.ProjectRoot), slug, p.Config.SpecPath, strings.ToLower(p.Config.Depth))
}

func (p *Pipeline) shouldRun(ctx *Context, stage Stage) bool {
	return ctx.Plan.Stages[stage] != StatusComplete
}

func (p *Pipeline) runStage(ctx *Context, stage Stage) StageResult {
	started := time.Now()
	p.OnProgress(stage, ProgressStarting, fmt.Sprintf("starting %s", strings.ToLower(string(stage))))

	runner, ok := p.Runners[stage]
	if !ok {
		err := fmt.Sprintf("no runner registered for stage %s", stage)
		_ = ctx.SetStatus(stage, StatusFailed)
		p.OnProgress(stage, ProgressError, err)
		return StageResult{Stage: stage, Success: false, Error: err, Duration: time.Since(started)}
	}

	_ = ctx.SetStatus(stage, StatusInProgress)
	filename, content, err := runner.Run(ctx)
	if err != nil {
		_ = ctx.SetStatus(stage, StatusFailed)
		p.OnProgress(stage, ProgressError, err.Error())
		return StageResult{Stage: stage, Success: false, Error: err.Error(), Duration: time.Since(started)}
	}

	if err := ctx.WriteArtifact(stage, filename, content); err != nil {
		_ = ctx.SetStatus(stage, StatusFailed)
		p.OnProgress(stage, ProgressError, err.Error())
		return StageResult{Stage: stage, Success: false, Error: err.Error(), Duration: time.Since(started)}
	}

	p.OnProgress(stage, ProgressComplete, fmt.Sprintf("%s complete: %s", strings.ToLower(string(stage)), filename))
	return StageResult{Stage: stage, Success: true, Duration: time.Since(started)}
}

// Run executes orient -> architect -> itemize in order, skipping stages
// already COMPLETE, and stops at the first failure.
func (p *Pipeline) Run() *Result {
	started := time.Now()
	ctx, err := p.loadOrCreateContext()
	if err != nil {
		return &Result{Success: false, Error: err.Error(), StartedAt: started, CompletedAt: time.Now()}
	}

	var results []StageResult
	for _, stage := range Stages {
		if !p.shouldRun(ctx, stage) {
			continue
		}
		res := p.runStage(ctx, stage)
		results = append(results, res)
		if !res.Success {
			return &Result{
				Success: false, Plan: ctx.Plan, PlanDir: ctx.Dir,
				StageResults: results, Error: res.Error,
				StartedAt: started, CompletedAt: time.Now(),
			}
		}
	}

	result := &Result{
		Success: true, Plan: ctx.Plan, PlanDir: ctx.Dir,
		StageResults: results, StartedAt: started, CompletedAt: time.Now(),
	}

	if p.Config.MoveSpec && ctx.Plan.IsComplete() {
		newPath, err := moveSpecToPlanned(p.ProjectRoot, ctx.Plan.SpecPath)
		if err != nil {
			result.Error = fmt.Sprintf("warning: failed to move spec: %s", err)
		} else if newPath != "" {
			result.SpecMoved = true
			result.SpecNewPath = newPath
		}
	}
	return result
}

// RunSingleStage loads the plan context and runs exactly one stage,
// regardless of its current status.
func (p *Pipeline) RunSingleStage(stage Stage) *Result {
	started := time.Now()
	ctx, err := p.loadOrCreateContext()
	if err != nil {
		return &Result{Success: false, Error: err.Error(), StartedAt: started, CompletedAt: time.Now()}
	}

	res := p.runStage(ctx, stage)
	return &Result{
		Success: res.Success, Plan: ctx.Plan, PlanDir: ctx.Dir,
		StageResults: []StageResult{res}, Error: res.Error,
		StartedAt: started, CompletedAt: time.Now(),
	}
}

// moveSpecToPlanned relocates specPath from specs/researching/ to
// specs/planned/, preserving its relative path. It is a no-op (not an
// error) if specPath is not under specs/researching/.
func moveSpecToPlanned(projectRoot, specPath string) (string, error) {
	if specPath == "" {
		return "", nil
	}
	specsRoot := filepath.Join(projectRoot, "specs")
	researchingDir := filepath.Join(specsRoot, "researching")

	rel, err := filepath.Rel(researchingDir, specPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", nil
	}

	plannedDir := filepath.Join(specsRoot, "planned")
	newPath := filepath.Join(plannedDir, rel)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(specPath, newPath); err != nil {
		return "", err
	}
	return newPath, nil
}
