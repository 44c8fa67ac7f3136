// Package task defines the pluggable task-store contract and its concrete
// implementations: a shared data model, a registry of named backends, and
// the backend implementations themselves (CLI wrapper, flat-JSON, JSONL,
// dual-write "both" wrapper).
package task

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Priority is one of P0 (highest) through P4 (lowest).
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// Numeric returns the 0..4 numeric equivalent (0 highest), matching the
// source's `priority_numeric` property.
func (p Priority) Numeric() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	case PriorityP4:
		return 4
	default:
		return 2
	}
}

// PriorityFromNumeric maps 0..4 to the corresponding Priority, clamping out
// of range values to P2 (the default in the original source).
func PriorityFromNumeric(n int) Priority {
	switch n {
	case 0:
		return PriorityP0
	case 1:
		return PriorityP1
	case 2:
		return PriorityP2
	case 3:
		return PriorityP3
	case 4:
		return PriorityP4
	default:
		return PriorityP2
	}
}

// Type is the kind of work item.
type Type string

const (
	TypeTask    Type = "task"
	TypeFeature Type = "feature"
	TypeBug     Type = "bug"
	TypeEpic    Type = "epic"
	TypeGate    Type = "gate"
)

// Task is a single work item.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Status             Status     `json:"status"`
	Priority           Priority   `json:"priority"`
	Type               Type       `json:"type"`
	Labels             []string   `json:"labels,omitempty"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	Parent             string     `json:"parent,omitempty"`
	Assignee           string     `json:"assignee,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Close transitions the task to closed, stamping ClosedAt and UpdatedAt.
// Invariant: status = closed ⇒ closed_at ≠ null.
func (t *Task) Close() {
	now := time.Now().UTC()
	t.Status = StatusClosed
	t.ClosedAt = &now
	t.UpdatedAt = now
}

// Counts is the aggregate returned by GetTaskCounts.
type Counts struct {
	Total      int `json:"total"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Closed     int `json:"closed"`
}

// CreateParams bundles the arguments to CreateTask, which every backend's
// constructor-based API otherwise repeats positionally.
type CreateParams struct {
	Title       string
	Description string
	Type        Type
	Priority    Priority
	Labels      []string
	DependsOn   []string
	Parent      string
}
