package task

import (
	"fmt"
	"os"
	"sort"
)

// Backend is the contract every task store implementation satisfies.
//
type Backend interface {
	ListTasks(status *Status, parent *string, label *string) ([]Task, error)
	GetTask(id string) (*Task, error)
	GetReadyTasks(parent *string, label *string) ([]Task, error)
	UpdateTask(id string, status *Status, assignee, description *string, labels []string) (*Task, error)
	CloseTask(id string, reason *string) (*Task, error)
	CreateTask(p CreateParams) (*Task, error)
	GetTaskCounts() (Counts, error)
	AddTaskNote(id, note string) (*Task, error)
	ImportTasks(tasks []Task) ([]Task, error)
	// BindBranch associates an epic with a git branch/base. Returns false if
	// the backend has no notion of branches.
	BindBranch(epicID, branchName, base string) (bool, error)
	TryCloseEpic(epicID string) (closed bool, message string, err error)
	BackendName() string
	GetAgentInstructions(taskID string) (string, error)
}

// Constructor builds a Backend given a project directory.
type Constructor func(projectDir string) (Backend, error)

// Registry is a process-wide, name-keyed map of backend constructors,
// populated at package-init time by each backend's own file — the Go
// analogue of the source's `@register_backend` decorator.
type Registry struct {
	constructors map[string]Constructor
}

// DefaultRegistry is the process-wide registry instance. Individual backend
// files call Register(DefaultRegistry, ...) from their init().
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a named constructor. Re-registering a name overwrites the
// previous entry, matching the last-registration-wins behavior of Python
// decorator re-application.
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Build(name, projectDir string) (Backend, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("task backend %q is not registered", name)
	}
	return ctor(projectDir)
}

// Env variable names recognized for backend auto-detection.
const (
	EnvBackendOverride = "CUB_TASK_BACKEND"
)

// Detect chooses a backend by: (i) explicit override, (ii) presence of the
// beads CLI's state directory, (iii) presence of prd.json, (iv) default to
// JSONL.
func Detect(r *Registry, projectDir string) (Backend, error) {
	if override := os.Getenv(EnvBackendOverride); override != "" {
		switch override {
		case "beads", "bd":
			return r.Build("beads", projectDir)
		case "json", "prd":
			return r.Build("json", projectDir)
		default:
			return r.Build(override, projectDir)
		}
	}

	if hasBeadsState(projectDir) {
		return r.Build("beads", projectDir)
	}
	if hasPrdFile(projectDir) {
		return r.Build("json", projectDir)
	}
	return r.Build("jsonl", projectDir)
}

func hasBeadsState(projectDir string) bool {
	info, err := os.Stat(projectDir + "/.beads")
	return err == nil && info.IsDir()
}

func hasPrdFile(projectDir string) bool {
	info, err := os.Stat(projectDir + "/prd.json")
	return err == nil && !info.IsDir()
}

// sortByPriority sorts tasks by priority ascending (P0 first), stable so
// ties break by original (insertion) order.
func sortByPriority(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority.Numeric() < tasks[j].Priority.Numeric()
	})
}

// isReady reports whether a task is ready: open, and every depends_on id
// that exists in closedIDs or allIDs is satisfied (closed). Dangling
// references (ids not present in allIDs) are ignored.
func isReady(t *Task, closedIDs map[string]struct{}, allIDs map[string]struct{}) bool {
	if t.Status != StatusOpen {
		return false
	}
	for _, dep := range t.DependsOn {
		if _, exists := allIDs[dep]; !exists {
			continue // dangling ref, tolerated
		}
		if _, closed := closedIDs[dep]; !closed {
			return false
		}
	}
	return true
}

func matchesFilters(t *Task, parent, label *string) bool {
	if parent != nil && t.Parent != *parent {
		return false
	}
	if label != nil && !t.HasLabel(*label) {
		return false
	}
	return true
}
