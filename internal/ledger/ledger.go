// Package ledger defines the durable, structured record of work on a task
// and the filesystem-backed store that persists it.
package ledger

import "time"

// WorkflowStage is the monotonic review state of a ledger entry.
type WorkflowStage string

const (
	StageDevComplete WorkflowStage = "dev_complete"
	StageNeedsReview WorkflowStage = "needs_review"
	StageValidated   WorkflowStage = "validated"
	StageReleased    WorkflowStage = "released"
)

// stageOrder gives the monotonic ordering used to validate transitions.
var stageOrder = map[WorkflowStage]int{
	StageDevComplete: 0,
	StageNeedsReview: 1,
	StageValidated:   2,
	StageReleased:    3,
}

// VerificationStatus is the status of a ledger entry's verification record.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
)

// RunStatus is the lifecycle state of an orchestrated run entry.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// TokenUsage mirrors the harness TokenUsage shape, duplicated
// here so the ledger package has no dependency on the harness package.
type TokenUsage struct {
	Input          int      `json:"input"`
	Output         int      `json:"output"`
	CacheRead      int      `json:"cache_read"`
	CacheCreation  int      `json:"cache_creation"`
	CostUSD        *float64 `json:"cost_usd,omitempty"`
	Estimated      bool     `json:"estimated,omitempty"`
}

// Total returns the sum of all token categories.
func (u TokenUsage) Total() int {
	return u.Input + u.Output + u.CacheRead + u.CacheCreation
}

// Lineage traces a ledger entry back to the spec/plan/epic it came from.
type Lineage struct {
	SpecFile string `json:"spec_file,omitempty"`
	PlanFile string `json:"plan_file,omitempty"`
	EpicID   string `json:"epic_id,omitempty"`
}

// TaskSnapshot is a pre-execution copy of the task fields relevant to the
// ledger, kept independent of internal/task to avoid an import cycle
// between the task service facade (which depends on both) and the ledger.
type TaskSnapshot struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Type               string   `json:"type"`
	Priority           string   `json:"priority"`
	Labels             []string `json:"labels,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	Parent             string   `json:"parent,omitempty"`
}

// Attempt records one harness invocation against a task.
type Attempt struct {
	AttemptNumber int        `json:"attempt_number"`
	RunID         string     `json:"run_id"`
	Harness       string     `json:"harness"`
	Model         string     `json:"model,omitempty"`
	Success       bool       `json:"success"`
	ErrorCategory string     `json:"error_category,omitempty"`
	ErrorSummary  string     `json:"error_summary,omitempty"`
	TokenUsage    TokenUsage `json:"token_usage"`
	CostUSD       float64    `json:"cost_usd"`
	DurationSecs  float64    `json:"duration_seconds"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at"`
}

// Outcome aggregates the attempts into a final result for the task.
type Outcome struct {
	Success         bool     `json:"success"`
	TotalAttempts   int      `json:"total_attempts"`
	TotalCostUSD    float64  `json:"total_cost_usd"`
	TotalTokens     int      `json:"total_tokens"`
	EscalationPath  []string `json:"escalation_path,omitempty"`
	Escalated       bool     `json:"escalated"`
	FilesChanged    []string `json:"files_changed,omitempty"`
	Commits         []string `json:"commits,omitempty"`
	Approach        string   `json:"approach,omitempty"`
	Decisions       []string `json:"decisions,omitempty"`
	Lessons         []string `json:"lessons,omitempty"`
}

// Drift records divergence between the task's stated scope and what the
// attempts actually did.
type Drift struct {
	Additions []string `json:"additions,omitempty"`
	Omissions []string `json:"omissions,omitempty"`
	Severity  string   `json:"severity,omitempty"`
}

// SubCheck is one named verification check (e.g. "tests", "lint").
type SubCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Verification is the ledger entry's review status.
type Verification struct {
	Status     VerificationStatus `json:"status"`
	SubChecks  []SubCheck         `json:"sub_checks,omitempty"`
}

// Workflow is the review-lifecycle state of the entry.
type Workflow struct {
	Stage WorkflowStage `json:"stage"`
}

// StateTransition records one workflow-stage move.
type StateTransition struct {
	At    time.Time     `json:"at"`
	By    string        `json:"by"`
	Stage WorkflowStage `json:"stage"`
}

// CIMonitorSummary is an optional CI-status summary attached to an entry.
type CIMonitorSummary struct {
	Status      string    `json:"status"`
	CheckedAt   time.Time `json:"checked_at"`
	DetailsURL  string    `json:"details_url,omitempty"`
}

// Entry is the full per-task ledger record.
type Entry struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Lineage       Lineage            `json:"lineage"`
	Task          TaskSnapshot       `json:"task"`
	Attempts      []Attempt          `json:"attempts"`
	Outcome       Outcome            `json:"outcome"`
	Drift         *Drift             `json:"drift,omitempty"`
	Verification  Verification       `json:"verification"`
	Workflow      Workflow           `json:"workflow"`
	StateHistory  []StateTransition  `json:"state_history"`
	CIMonitor     *CIMonitorSummary  `json:"ci_monitor,omitempty"`

	// Legacy top-level fields, synthesized from the nested ones for
	// backward-compatible readers. The nested form is authoritative; these
	// are derived, never hand-set by callers.
	CostUSD float64 `json:"cost_usd"`
	Tokens  int     `json:"tokens"`
}

// SyncLegacyFields recomputes the legacy top-level cost_usd/tokens fields
// from the authoritative nested outcome.
func (e *Entry) SyncLegacyFields() {
	e.CostUSD = e.Outcome.TotalCostUSD
	e.Tokens = e.Outcome.TotalTokens
}

// Transition appends a StateTransition and updates Workflow.Stage,
// enforcing the monotonic dev_complete -> needs_review -> validated ->
// released ordering.
func (e *Entry) Transition(stage WorkflowStage, by string, at time.Time) error {
	if cur, next := stageOrder[e.Workflow.Stage], stageOrder[stage]; next <= cur {
		return &InvalidTransitionError{From: e.Workflow.Stage, To: stage}
	}
	e.Workflow.Stage = stage
	e.StateHistory = append(e.StateHistory, StateTransition{At: at, By: by, Stage: stage})
	return nil
}

// Recompute derives Outcome.TotalCostUSD/TotalAttempts/Escalated from the
// Attempts slice, per the invariants.
func (e *Entry) Recompute() {
	var totalCost float64
	var totalTokens int
	for _, a := range e.Attempts {
		totalCost += a.CostUSD
		totalTokens += a.TokenUsage.Total()
	}
	e.Outcome.TotalCostUSD = totalCost
	e.Outcome.TotalTokens = totalTokens
	e.Outcome.TotalAttempts = len(e.Attempts)
	e.Outcome.Escalated = len(e.Outcome.EscalationPath) >= 2
	e.SyncLegacyFields()
}

// IndexLine is the compact append-only index record.
type IndexLine struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Completed      string   `json:"completed,omitempty"` // YYYY-MM-DD
	CostUSD        float64  `json:"cost_usd"`
	Files          []string `json:"files,omitempty"`
	Commit         string   `json:"commit,omitempty"` // 7-hex prefix
	Spec           string   `json:"spec,omitempty"`
	Epic           string   `json:"epic,omitempty"`
	Verification   string   `json:"verification"`
	Tokens         int      `json:"tokens"`
	WorkflowStage  string   `json:"workflow_stage,omitempty"`
}

// ToIndexLine projects a full Entry down to its compact index record.
func (e *Entry) ToIndexLine() IndexLine {
	commit := ""
	if len(e.Outcome.Commits) > 0 {
		commit = shortSHA(e.Outcome.Commits[0])
	}
	completed := ""
	for i := len(e.Attempts) - 1; i >= 0; i-- {
		if e.Attempts[i].Success {
			completed = e.Attempts[i].CompletedAt.Format("2006-01-02")
			break
		}
	}
	return IndexLine{
		ID:            e.ID,
		Title:         e.Title,
		Completed:     completed,
		CostUSD:       e.Outcome.TotalCostUSD,
		Files:         e.Outcome.FilesChanged,
		Commit:        commit,
		Spec:          e.Lineage.SpecFile,
		Epic:          e.Lineage.EpicID,
		Verification:  string(e.Verification.Status),
		Tokens:        e.Outcome.TotalTokens,
		WorkflowStage: string(e.Workflow.Stage),
	}
}

func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}

// PlanEntry aggregates cost/token/task metrics for one plan.
type PlanEntry struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	SpecID      string    `json:"spec_id,omitempty"`
	TotalCost   float64   `json:"total_cost_usd"`
	TotalTokens int       `json:"total_tokens"`
	TaskCounts  Counts    `json:"task_counts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Counts is a reusable open/in-progress/closed/total breakdown.
type Counts struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Closed     int `json:"closed"`
}

// RunEntry records one orchestrated run session.
type RunEntry struct {
	ID               string    `json:"id"`
	ConfigSnapshot   string    `json:"config_snapshot,omitempty"`
	TasksAttempted   []string  `json:"tasks_attempted"`
	TasksCompleted   []string  `json:"tasks_completed"`
	TotalCostUSD     float64   `json:"total_cost_usd"`
	TotalTokens      int       `json:"total_tokens"`
	Status           RunStatus `json:"status"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
}

// EpicEntry aggregates metrics computed from the epic's child task entries.
type EpicEntry struct {
	ID           string  `json:"id"`
	TaskCounts   Counts  `json:"task_counts"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int     `json:"total_tokens"`
	Closed       bool    `json:"closed"`
}

// InvalidTransitionError reports a non-monotonic workflow stage change.
type InvalidTransitionError struct {
	From, To WorkflowStage
}

func (e *InvalidTransitionError) Error() string {
	return "ledger: cannot transition from " + string(e.From) + " to " + string(e.To) + " (must be monotonic)"
}
