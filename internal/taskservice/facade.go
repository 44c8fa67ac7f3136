// Package taskservice is the high-level facade composing a task backend,
// the dependency graph, and the ledger into claim/close operations with
// side effects, plus task-creation convenience constructors.
package taskservice

import (
	"fmt"
	"strings"
	"sync"

	"cub/internal/graph"
	"cub/internal/ledger"
	"cub/internal/task"
)

// Service is the task service facade.
type Service struct {
	Backend task.Backend
	Ledger  *ledger.Store
}

// New composes a Service from an already-constructed backend and an
// optional ledger store (nil disables ledger-aware operations).
func New(backend task.Backend, ledgerStore *ledger.Store) *Service {
	return &Service{Backend: backend, Ledger: ledgerStore}
}

// Ready forwards to the backend's ready-task query.
func (s *Service) Ready() ([]task.Task, error) {
	return s.Backend.GetReadyTasks(nil, nil)
}

// Graph builds a fresh dependency-graph snapshot from the backend's full
// task list, for callers that need unblock/cycle/chain analysis.
func (s *Service) Graph() (*graph.Graph, error) {
	tasks, err := s.Backend.ListTasks(nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return graph.New(tasks), nil
}

// StaleEpics lists open epics whose every parent-linked child is closed,
// and which have at least one closed child. Epic membership
// is defined solely by the `parent` link.
func (s *Service) StaleEpics() ([]task.Task, error) {
	all, err := s.Backend.ListTasks(nil, nil, nil)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]task.Task)
	for _, t := range all {
		if t.Parent != "" {
			children[t.Parent] = append(children[t.Parent], t)
		}
	}

	var stale []task.Task
	for _, t := range all {
		if t.Type != task.TypeEpic || t.Status != task.StatusOpen {
			continue
		}
		kids := children[t.ID]
		if len(kids) == 0 {
			continue
		}
		allClosed := true
		for _, k := range kids {
			if k.Status != task.StatusClosed {
				allClosed = false
				break
			}
		}
		if allClosed {
			stale = append(stale, t)
		}
	}
	return stale, nil
}

// Claim fetches the task, validates its state, and assigns it to
// sessionID. A task already in_progress errors unconditionally, even
// under the same session id: claim is deliberately not idempotent.
func (s *Service) Claim(id, sessionID string) (*task.Task, error) {
	t, err := s.Backend.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &task.NotFoundError{TaskID: id}
	}
	if t.Status == task.StatusInProgress {
		return nil, &task.InvalidStateError{TaskID: id, Reason: "already in progress"}
	}
	if t.Status == task.StatusClosed {
		return nil, &task.InvalidStateError{TaskID: id, Reason: "already closed"}
	}

	status := task.StatusInProgress
	return s.Backend.UpdateTask(id, &status, &sessionID, nil, nil)
}

// Close forwards to the backend.
func (s *Service) Close(id string, reason *string) (*task.Task, error) {
	return s.Backend.CloseTask(id, reason)
}

// Complexity is the CreationRequest's size estimate, which drives both a
// label and a default model selection.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Domain categorizes a CreationRequest for labeling purposes.
type Domain string

const (
	DomainSetup    Domain = "setup"
	DomainModel    Domain = "model"
	DomainAPI      Domain = "api"
	DomainUI       Domain = "ui"
	DomainLogic    Domain = "logic"
	DomainTest     Domain = "test"
	DomainDocs     Domain = "docs"
	DomainRefactor Domain = "refactor"
	DomainFix      Domain = "fix"
)

// CreationRequest bundles everything needed to compose a new task's
// description and labels.
type CreationRequest struct {
	Title             string
	Context           string
	Steps             []string
	Criteria          []string
	Complexity        Complexity
	Domain            Domain
	Priority          task.Priority
	Labels            []string
	DependsOn         []string
	Parent            string
	Files             []string
	EstimatedDuration string
	Notes             string
	SourceCaptureID   string
}

func modelForComplexity(c Complexity) string {
	switch c {
	case ComplexityLow:
		return "haiku"
	case ComplexityHigh:
		return "opus"
	default:
		return "sonnet"
	}
}

// composeDescription builds the markdown body from context, steps,
// criteria, files, and notes.
func composeDescription(req CreationRequest) string {
	var b strings.Builder
	if req.Context != "" {
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	}
	if len(req.Steps) > 0 {
		b.WriteString("## Steps\n\n")
		for _, step := range req.Steps {
			fmt.Fprintf(&b, "1. %s\n", step)
		}
		b.WriteString("\n")
	}
	if len(req.Criteria) > 0 {
		b.WriteString("## Acceptance criteria\n\n")
		for _, c := range req.Criteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	if len(req.Files) > 0 {
		b.WriteString("## Files\n\n")
		for _, f := range req.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		b.WriteString("\n")
	}
	if req.Notes != "" {
		b.WriteString("## Notes\n\n")
		b.WriteString(req.Notes)
		b.WriteString("\n\n")
	}
	if req.EstimatedDuration != "" {
		fmt.Fprintf(&b, "_Estimated duration: %s_\n\n", req.EstimatedDuration)
	}
	if req.SourceCaptureID != "" {
		fmt.Fprintf(&b, "_Captured from: %s_\n", req.SourceCaptureID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// composeLabels builds complexity:/model:/domain labels plus user labels.
func composeLabels(req CreationRequest) []string {
	complexity := req.Complexity
	if complexity == "" {
		complexity = ComplexityMedium
	}
	labels := []string{
		"complexity:" + string(complexity),
		"model:" + modelForComplexity(complexity),
	}
	if req.Domain != "" {
		labels = append(labels, string(req.Domain))
	}
	labels = append(labels, req.Labels...)
	return labels
}

// CreateTask composes the description and labels, then delegates to the
// backend.
func (s *Service) CreateTask(req CreationRequest) (*task.Task, error) {
	priority := req.Priority
	if priority == "" {
		priority = task.PriorityP2
	}
	return s.Backend.CreateTask(task.CreateParams{
		Title:       req.Title,
		Description: composeDescription(req),
		Type:        task.TypeTask,
		Priority:    priority,
		Labels:      composeLabels(req),
		DependsOn:   req.DependsOn,
		Parent:      req.Parent,
	})
}

// CreateQuickFix creates a low-complexity task labeled "quick-fix" with a
// 15-minute estimate.
func (s *Service) CreateQuickFix(title, context string, extraLabels ...string) (*task.Task, error) {
	return s.CreateTask(CreationRequest{
		Title:             title,
		Context:           context,
		Complexity:        ComplexityLow,
		Labels:            append([]string{"quick-fix"}, extraLabels...),
		EstimatedDuration: "15m",
	})
}

// CreateSpike creates a medium-complexity exploratory task, title-prefixed
// "[Spike] ", labeled "spike", with a 2-4h estimate.
func (s *Service) CreateSpike(title string, goals, successCriteria []string) (*task.Task, error) {
	var ctx strings.Builder
	if len(goals) > 0 {
		ctx.WriteString("## Exploration goals\n\n")
		for _, g := range goals {
			fmt.Fprintf(&ctx, "- %s\n", g)
		}
	}
	return s.CreateTask(CreationRequest{
		Title:             "[Spike] " + title,
		Context:           strings.TrimRight(ctx.String(), "\n"),
		Criteria:          successCriteria,
		Complexity:        ComplexityMedium,
		Labels:            []string{"spike"},
		EstimatedDuration: "2-4h",
	})
}

// CreateBatchedTask creates a low-complexity task labeled "batch" whose
// description enumerates every item as an acceptance criterion.
func (s *Service) CreateBatchedTask(title string, items []string) (*task.Task, error) {
	return s.CreateTask(CreationRequest{
		Title:      title,
		Criteria:   items,
		Complexity: ComplexityLow,
		Labels:     []string{"batch"},
	})
}

var (
	singletonOnce sync.Once
	singleton     *Service
)

// GetTaskService returns a process-wide Service instance, created lazily on
// first call. projectDir is only consulted the first time; subsequent calls
// return the cached instance regardless of the argument.
func GetTaskService(projectDir string) (*Service, error) {
	var buildErr error
	singletonOnce.Do(func() {
		backend, err := task.Detect(task.DefaultRegistry, projectDir)
		if err != nil {
			buildErr = err
			return
		}
		ledgerStore := ledger.New(projectDir + "/.cub/ledger")
		singleton = New(backend, ledgerStore)
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return singleton, nil
}
