package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

func init() {
	DefaultRegistry.Register("beads", func(projectDir string) (Backend, error) {
		return NewCLIBackend(projectDir)
	})
}

// cliTask is the wire shape returned by the external task-manager CLI.
// Field names diverge from Task's: issue_type instead of type, an integer
// priority instead of "P0".."P4", and blocks instead of depends_on.
type cliTask struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	IssueType          string   `json:"issue_type"`
	Type               string   `json:"type"`
	Description        string   `json:"description"`
	Labels             []string `json:"labels"`
	Assignee           string   `json:"assignee"`
	Parent             string   `json:"parent"`
	Blocks             []string `json:"blocks"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Notes              string   `json:"notes"`
	Priority           any      `json:"priority"`
	CreatedAt          string   `json:"created_at"`
	UpdatedAt          string   `json:"updated_at"`
	ClosedAt           string   `json:"closed_at"`
}

// CLIBackend wraps an external task-manager CLI binary (the "bd" tool in
// the reference deployment). Every mutating command is shelled out via
// os/exec and, since most of them return human-readable text rather than
// JSON, the backend re-fetches the task afterward to report its new state.
type CLIBackend struct {
	projectDir string
	binary     string
}

// NewCLIBackend constructs a backend rooted at projectDir, using "bd" as
// the CLI binary name. Returns an error if the binary is not on PATH.
func NewCLIBackend(projectDir string) (*CLIBackend, error) {
	return NewCLIBackendWithBinary(projectDir, "bd")
}

func NewCLIBackendWithBinary(projectDir, binary string) (*CLIBackend, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("task backend CLI %q not found on PATH: %w", binary, err)
	}
	return &CLIBackend{projectDir: projectDir, binary: binary}, nil
}

func (b *CLIBackend) BackendName() string { return "beads" }

// run executes the CLI with args, returning stdout. If expectJSON is false
// the command is assumed to produce human-readable output and run returns
// nil instead of stdout.
func (b *CLIBackend) run(args []string, expectJSON bool) ([]byte, error) {
	cmd := exec.Command(b.binary, args...)
	cmd.Dir = b.projectDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		full := append([]string{b.binary}, args...)
		return nil, &ExternalFailureError{Command: full, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	if !expectJSON {
		return nil, nil
	}
	return stdout.Bytes(), nil
}

// runJSON executes the CLI expecting JSON output, which may be a single
// object or an array of objects; both shapes normalize to []cliTask.
func (b *CLIBackend) runJSON(args []string) ([]cliTask, error) {
	out, err := b.run(args, true)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []cliTask
		if err := json.Unmarshal(trimmed, &list); err != nil {
			full := append([]string{b.binary}, args...)
			return nil, &ExternalFailureError{Command: full, Stderr: "failed to parse CLI output as JSON", Err: err}
		}
		return list, nil
	}

	var single cliTask
	if err := json.Unmarshal(trimmed, &single); err != nil {
		full := append([]string{b.binary}, args...)
		return nil, &ExternalFailureError{Command: full, Stderr: "failed to parse CLI output as JSON", Err: err}
	}
	if single.ID == "" {
		return nil, nil
	}
	return []cliTask{single}, nil
}

func translateCLITask(raw cliTask) Task {
	t := Task{
		ID:                 raw.ID,
		Title:              raw.Title,
		Status:             Status(raw.Status),
		Description:        raw.Description,
		Labels:             raw.Labels,
		Assignee:           raw.Assignee,
		Parent:             raw.Parent,
		DependsOn:          raw.Blocks,
		AcceptanceCriteria: raw.AcceptanceCriteria,
		Notes:              raw.Notes,
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}

	taskType := raw.IssueType
	if taskType == "" {
		taskType = raw.Type
	}
	if taskType == "" {
		taskType = string(TypeTask)
	}
	t.Type = Type(taskType)

	switch v := raw.Priority.(type) {
	case float64:
		t.Priority = PriorityFromNumeric(int(v))
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			t.Priority = PriorityFromNumeric(n)
		} else {
			t.Priority = Priority(v)
		}
	default:
		t.Priority = PriorityP2
	}

	t.CreatedAt = parseCLITime(raw.CreatedAt)
	t.UpdatedAt = parseCLITime(raw.UpdatedAt)
	if raw.ClosedAt != "" {
		ts := parseCLITime(raw.ClosedAt)
		t.ClosedAt = &ts
	}
	return t
}

// parseCLITime parses an RFC3339 timestamp from the CLI's JSON output,
// falling back to the zero time for unparseable or empty input.
func parseCLITime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (b *CLIBackend) ListTasks(status *Status, parent, label *string) ([]Task, error) {
	args := []string{"list", "--json"}
	if status != nil {
		args = append(args, "--status", string(*status))
	}
	if parent != nil {
		args = append(args, "--parent", *parent)
	}
	if label != nil {
		args = append(args, "--label", *label)
	}

	raw, err := b.runJSON(args)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(raw))
	for _, r := range raw {
		out = append(out, translateCLITask(r))
	}
	return out, nil
}

func (b *CLIBackend) GetTask(id string) (*Task, error) {
	raw, err := b.runJSON([]string{"show", id, "--json"})
	if err != nil {
		var extErr *ExternalFailureError
		if isExternalFailure(err, &extErr) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	t := translateCLITask(raw[0])
	return &t, nil
}

func isExternalFailure(err error, target **ExternalFailureError) bool {
	if e, ok := err.(*ExternalFailureError); ok {
		*target = e
		return true
	}
	return false
}

func (b *CLIBackend) GetReadyTasks(parent, label *string) ([]Task, error) {
	args := []string{"ready", "--json"}
	if parent != nil {
		args = append(args, "--label", *parent)
	}
	if label != nil {
		args = append(args, "--label", *label)
	}

	raw, err := b.runJSON(args)
	if err != nil {
		return nil, nil // bd ready failing means no ready tasks, not an error
	}
	tasks := make([]Task, 0, len(raw))
	for _, r := range raw {
		tasks = append(tasks, translateCLITask(r))
	}
	sortByPriority(tasks)
	return tasks, nil
}

func (b *CLIBackend) UpdateTask(id string, status *Status, assignee, description *string, labels []string) (*Task, error) {
	args := []string{"update", id}
	if status != nil {
		args = append(args, "--status", string(*status))
	}
	if assignee != nil && *assignee != "" {
		args = append(args, "--assignee", *assignee)
	}
	if description != nil && *description != "" {
		args = append(args, "--description", *description)
	}
	if len(labels) > 0 {
		args = append(args, "--labels", strings.Join(labels, ","))
	}

	if _, err := b.run(args, false); err != nil {
		return nil, err
	}
	updated, err := b.GetTask(id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, &NotFoundError{TaskID: id}
	}
	return updated, nil
}

func (b *CLIBackend) CloseTask(id string, reason *string) (*Task, error) {
	args := []string{"close", id}
	if reason != nil && *reason != "" {
		args = append(args, "-r", *reason)
	}

	if _, err := b.run(args, false); err != nil {
		return nil, err
	}
	closed, err := b.GetTask(id)
	if err != nil {
		return nil, err
	}
	if closed == nil {
		return nil, &NotFoundError{TaskID: id}
	}
	return closed, nil
}

func (b *CLIBackend) CreateTask(p CreateParams) (*Task, error) {
	taskType := p.Type
	if taskType == "" {
		taskType = TypeTask
	}
	priority := p.Priority
	if priority == "" {
		priority = PriorityP2
	}

	args := []string{"create", p.Title, "--json", "--type", string(taskType), "-p", strconv.Itoa(priority.Numeric())}
	if p.Parent != "" {
		args = append(args, "--parent", p.Parent)
	}
	if len(p.Labels) > 0 {
		args = append(args, "--labels", strings.Join(p.Labels, ","))
	}

	raw, err := b.runJSON(args)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0].ID == "" {
		return nil, fmt.Errorf("task backend CLI did not return a task id from create")
	}
	newID := raw[0].ID

	if p.Description != "" {
		if _, err := b.UpdateTask(newID, nil, nil, &p.Description, nil); err != nil {
			return nil, err
		}
	}
	for _, dep := range p.DependsOn {
		if _, err := b.run([]string{"dep", "add", newID, dep, "--type", "blocks"}, false); err != nil {
			return nil, err
		}
	}

	created, err := b.GetTask(newID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("failed to fetch created task %q", newID)
	}
	return created, nil
}

func (b *CLIBackend) GetTaskCounts() (Counts, error) {
	raw, err := b.runJSON([]string{"list", "--json"})
	if err != nil {
		return Counts{}, nil
	}
	var c Counts
	for _, r := range raw {
		c.Total++
		switch Status(r.Status) {
		case StatusOpen, "":
			c.Open++
		case StatusInProgress:
			c.InProgress++
		case StatusClosed:
			c.Closed++
		}
	}
	return c, nil
}

func (b *CLIBackend) AddTaskNote(id, note string) (*Task, error) {
	if _, err := b.run([]string{"comment", id, note}, false); err != nil {
		return nil, err
	}
	updated, err := b.GetTask(id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, &NotFoundError{TaskID: id}
	}
	return updated, nil
}

func (b *CLIBackend) ImportTasks(tasks []Task) ([]Task, error) {
	imported := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		created, err := b.CreateTask(CreateParams{
			Title:       t.Title,
			Description: t.Description,
			Type:        t.Type,
			Priority:    t.Priority,
			Labels:      t.Labels,
			DependsOn:   t.DependsOn,
			Parent:      t.Parent,
		})
		if err != nil {
			return nil, fmt.Errorf("importing task %q: %w", t.Title, err)
		}
		imported = append(imported, *created)
	}
	return imported, nil
}

func (b *CLIBackend) BindBranch(epicID, branchName, base string) (bool, error) {
	if _, err := b.run([]string{"update", epicID, "--branch", branchName, "--base", base}, false); err != nil {
		return false, err
	}
	return true, nil
}

func (b *CLIBackend) TryCloseEpic(epicID string) (bool, string, error) {
	epic, err := b.GetTask(epicID)
	if err != nil {
		return false, "", err
	}
	if epic == nil {
		return false, fmt.Sprintf("epic %q not found", epicID), nil
	}
	if epic.Status == StatusClosed {
		return false, fmt.Sprintf("epic %q is already closed", epicID), nil
	}

	children, err := b.ListTasks(nil, &epicID, nil)
	if err != nil {
		return false, "", err
	}
	if len(children) == 0 {
		return false, fmt.Sprintf("epic %q has no child tasks", epicID), nil
	}
	for _, c := range children {
		if c.Status != StatusClosed {
			return false, fmt.Sprintf("epic %q still has open task %q", epicID, c.ID), nil
		}
	}

	if _, err := b.CloseTask(epicID, nil); err != nil {
		return false, "", err
	}
	return true, fmt.Sprintf("epic %q closed: all %d child tasks complete", epicID, len(children)), nil
}

func (b *CLIBackend) GetAgentInstructions(taskID string) (string, error) {
	return fmt.Sprintf("This project uses the %s task backend CLI (`%s`).\n\n"+
		"Task lifecycle:\n"+
		"- `%s update %s --status in_progress` - claim the task (do this first)\n"+
		"- `%s close %s` - mark the task complete (after all checks pass)\n"+
		"- `%s close %s -r \"reason\"` - close with an explanation\n\n"+
		"Useful commands:\n"+
		"- `%s show %s` - view task details and dependencies\n"+
		"- `%s list --status open` - see remaining open tasks\n"+
		"- `%s ready` - see tasks ready to work on (no blockers)\n\n"+
		"Always run feedback loops (tests, typecheck, lint) before closing the task.",
		b.binary, b.binary, b.binary, taskID, b.binary, taskID, b.binary, taskID,
		b.binary, taskID, b.binary, b.binary), nil
}
