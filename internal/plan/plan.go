// Package plan implements the three-stage planning pipeline state machine:
// orient, architect, itemize, run in sequence against a resumable plan
// directory.
package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Stage names the three pipeline stages, always run in this order.
type Stage string

const (
	StageOrient    Stage = "ORIENT"
	StageArchitect Stage = "ARCHITECT"
	StageItemize   Stage = "ITEMIZE"
)

// Stages is the fixed run order.
var Stages = []Stage{StageOrient, StageArchitect, StageItemize}

// StageStatus is a stage's progress within a plan.
type StageStatus string

const (
	StatusPending    StageStatus = "PENDING"
	StatusInProgress StageStatus = "IN_PROGRESS"
	StatusComplete   StageStatus = "COMPLETE"
	StatusFailed     StageStatus = "FAILED"
)

// Plan is the persisted state of one planning run.
type Plan struct {
	Slug      string                 `json:"slug"`
	Project   string                 `json:"project"`
	SpecPath  string                 `json:"spec_path,omitempty"`
	Depth     string                 `json:"depth"`
	Stages    map[Stage]StageStatus  `json:"stages"`
	Artifacts map[Stage]string       `json:"artifacts,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// NewPlan constructs a Plan with every stage PENDING.
func NewPlan(slug, project, specPath, depth string) *Plan {
	now := time.Now().UTC()
	stages := make(map[Stage]StageStatus, len(Stages))
	for _, s := range Stages {
		stages[s] = StatusPending
	}
	return &Plan{
		Slug:      slug,
		Project:   project,
		SpecPath:  specPath,
		Depth:     depth,
		Stages:    stages,
		Artifacts: make(map[Stage]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsComplete reports whether every stage is COMPLETE.
func (p *Plan) IsComplete() bool {
	for _, s := range Stages {
		if p.Stages[s] != StatusComplete {
			return false
		}
	}
	return true
}

// Depth levels accepted by the ORIENT stage.
const (
	DepthLight    = "light"
	DepthStandard = "standard"
	DepthDeep     = "deep"
)

// Context wraps one plan's on-disk directory: plan.json plus per-stage
// artifact files, all written atomically.
type Context struct {
	ProjectRoot string
	Dir         string
	Plan        *Plan
}

func planJSONPath(dir string) string { return filepath.Join(dir, "plan.json") }

// CreateContext makes a new plan directory under projectRoot/plans/<slug>
// and persists its initial state. It errors if the directory already
// holds a plan.
func CreateContext(projectRoot, project, slug, specPath, depth string) (*Context, error) {
	dir := filepath.Join(projectRoot, "plans", slug)
	if _, err := os.Stat(planJSONPath(dir)); err == nil {
		return nil, fmt.Errorf("plan already exists at %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ctx := &Context{
		ProjectRoot: projectRoot,
		Dir:         dir,
		Plan:        NewPlan(slug, project, specPath, depth),
	}
	if err := ctx.Save(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// LoadContext reads an existing plan directory's plan.json.
func LoadContext(projectRoot, dir string) (*Context, error) {
	data, err := os.ReadFile(planJSONPath(dir))
	if err != nil {
		return nil, fmt.Errorf("loading plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("corrupt plan.json in %s: %w", dir, err)
	}
	return &Context{ProjectRoot: projectRoot, Dir: dir, Plan: &p}, nil
}

// Save atomically writes plan.json.
func (c *Context) Save() error {
	c.Plan.UpdatedAt = time.Now().UTC()
	tmp, err := os.CreateTemp(c.Dir, ".plan_*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.Plan); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, planJSONPath(c.Dir))
}

// WriteArtifact persists a stage's output under the plan directory,
// records its path on the plan, and flips the stage to COMPLETE.
func (c *Context) WriteArtifact(stage Stage, filename string, content []byte) error {
	path := filepath.Join(c.Dir, filename)
	tmp, err := os.CreateTemp(c.Dir, ".artifact_*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	c.Plan.Stages[stage] = StatusComplete
	c.Plan.Artifacts[stage] = filename
	return c.Save()
}

// SetStatus flips a stage's status without writing an artifact, used to
// mark IN_PROGRESS before a stage runs and FAILED if it errors.
func (c *Context) SetStatus(stage Stage, status StageStatus) error {
	c.Plan.Stages[stage] = status
	return c.Save()
}
