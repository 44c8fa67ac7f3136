package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// BothBackend wraps a primary and secondary backend, delegating every
// operation to both and returning the primary's result. Divergences
// between the two are appended to a JSONL log for later review rather
// than surfaced to the caller. Useful while migrating between backends
// or validating a new one against a trusted reference.
type BothBackend struct {
	primary       Backend
	secondary     Backend
	divergenceLog string
}

// NewBothBackend constructs a dual-write wrapper. divergenceLog defaults
// to "<projectDir>/.cub/backend-divergence.log" when empty.
func NewBothBackend(primary, secondary Backend, projectDir, divergenceLog string) (*BothBackend, error) {
	if divergenceLog == "" {
		divergenceLog = filepath.Join(projectDir, ".cub", "backend-divergence.log")
	}
	if err := os.MkdirAll(filepath.Dir(divergenceLog), 0o755); err != nil {
		return nil, fmt.Errorf("creating divergence log dir: %w", err)
	}
	return &BothBackend{primary: primary, secondary: secondary, divergenceLog: divergenceLog}, nil
}

func (b *BothBackend) BackendName() string {
	return fmt.Sprintf("both(%s+%s)", b.primary.BackendName(), b.secondary.BackendName())
}

type taskDivergence struct {
	Timestamp         time.Time `json:"timestamp"`
	Operation         string    `json:"operation"`
	TaskID            string    `json:"task_id,omitempty"`
	DifferenceSummary string    `json:"difference_summary"`
}

func (b *BothBackend) logDivergence(operation, taskID, summary string) {
	d := taskDivergence{
		Timestamp:         time.Now().UTC(),
		Operation:         operation,
		TaskID:            taskID,
		DifferenceSummary: summary,
	}
	f, err := os.OpenFile(b.divergenceLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warn("failed to open backend divergence log", "path", b.divergenceLog, "error", err)
		return
	}
	defer f.Close()
	line, err := json.Marshal(d)
	if err != nil {
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Warn("failed to write backend divergence log", "path", b.divergenceLog, "error", err)
	}
	log.Warn("backend divergence detected", "operation", operation, "task_id", taskID, "diff", summary)
}

// compareTasks returns a human-readable summary of field differences, or
// "" if the two tasks (or absences thereof) are equivalent.
func compareTasks(primary, secondary *Task) string {
	if primary == nil && secondary == nil {
		return ""
	}
	if primary == nil {
		return "primary task is nil, secondary is not"
	}
	if secondary == nil {
		return "secondary task is nil, primary is not"
	}

	var diffs []string
	if primary.ID != secondary.ID {
		diffs = append(diffs, fmt.Sprintf("id: %s != %s", primary.ID, secondary.ID))
	}
	if primary.Title != secondary.Title {
		diffs = append(diffs, fmt.Sprintf("title: %q != %q", primary.Title, secondary.Title))
	}
	if primary.Status != secondary.Status {
		diffs = append(diffs, fmt.Sprintf("status: %s != %s", primary.Status, secondary.Status))
	}
	if primary.Priority != secondary.Priority {
		diffs = append(diffs, fmt.Sprintf("priority: %s != %s", primary.Priority, secondary.Priority))
	}
	if primary.Type != secondary.Type {
		diffs = append(diffs, fmt.Sprintf("type: %s != %s", primary.Type, secondary.Type))
	}
	if primary.Assignee != secondary.Assignee {
		diffs = append(diffs, fmt.Sprintf("assignee: %q != %q", primary.Assignee, secondary.Assignee))
	}
	if !stringSetEqual(primary.Labels, secondary.Labels) {
		diffs = append(diffs, "labels differ")
	}
	if !stringSetEqual(primary.DependsOn, secondary.DependsOn) {
		diffs = append(diffs, "depends_on differ")
	}
	if primary.Parent != secondary.Parent {
		diffs = append(diffs, fmt.Sprintf("parent: %q != %q", primary.Parent, secondary.Parent))
	}

	if len(diffs) == 0 {
		return ""
	}
	summary := diffs[0]
	for _, d := range diffs[1:] {
		summary += "; " + d
	}
	return summary
}

func compareTaskLists(primary, secondary []Task) string {
	if len(primary) != len(secondary) {
		return fmt.Sprintf("list length mismatch: %d != %d", len(primary), len(secondary))
	}
	p := append([]Task(nil), primary...)
	s := append([]Task(nil), secondary...)
	sort.Slice(p, func(i, j int) bool { return p[i].ID < p[j].ID })
	sort.Slice(s, func(i, j int) bool { return s[i].ID < s[j].ID })

	var diffs []string
	for i := range p {
		pt, st := p[i], s[i]
		if d := compareTasks(&pt, &st); d != "" {
			diffs = append(diffs, fmt.Sprintf("task %d (%s): %s", i, pt.ID, d))
		}
	}
	if len(diffs) == 0 {
		return ""
	}
	summary := diffs[0]
	for _, d := range diffs[1:] {
		summary += "; " + d
	}
	return summary
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, s := range a {
		set[s]++
	}
	for _, s := range b {
		set[s]--
	}
	for _, v := range set {
		if v != 0 {
			return false
		}
	}
	return true
}

func (b *BothBackend) ListTasks(status *Status, parent, label *string) ([]Task, error) {
	primary, err := b.primary.ListTasks(status, parent, label)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.ListTasks(status, parent, label)
	if secErr != nil {
		log.Warn("secondary backend list_tasks failed", "error", secErr)
		return primary, nil
	}
	if diff := compareTaskLists(primary, secondary); diff != "" {
		b.logDivergence("list_tasks", "", diff)
	}
	return primary, nil
}

func (b *BothBackend) GetTask(id string) (*Task, error) {
	primary, err := b.primary.GetTask(id)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.GetTask(id)
	if secErr != nil {
		log.Warn("secondary backend get_task failed", "task_id", id, "error", secErr)
		return primary, nil
	}
	if diff := compareTasks(primary, secondary); diff != "" {
		b.logDivergence("get_task", id, diff)
	}
	return primary, nil
}

func (b *BothBackend) GetReadyTasks(parent, label *string) ([]Task, error) {
	primary, err := b.primary.GetReadyTasks(parent, label)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.GetReadyTasks(parent, label)
	if secErr != nil {
		log.Warn("secondary backend get_ready_tasks failed", "error", secErr)
		return primary, nil
	}
	if diff := compareTaskLists(primary, secondary); diff != "" {
		b.logDivergence("get_ready_tasks", "", diff)
	}
	return primary, nil
}

func (b *BothBackend) UpdateTask(id string, status *Status, assignee, description *string, labels []string) (*Task, error) {
	primary, err := b.primary.UpdateTask(id, status, assignee, description, labels)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.UpdateTask(id, status, assignee, description, labels)
	if secErr != nil {
		log.Warn("secondary backend update_task failed", "task_id", id, "error", secErr)
		return primary, nil
	}
	if diff := compareTasks(primary, secondary); diff != "" {
		b.logDivergence("update_task", id, diff)
	}
	return primary, nil
}

func (b *BothBackend) CloseTask(id string, reason *string) (*Task, error) {
	primary, err := b.primary.CloseTask(id, reason)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.CloseTask(id, reason)
	if secErr != nil {
		log.Warn("secondary backend close_task failed", "task_id", id, "error", secErr)
		return primary, nil
	}
	if diff := compareTasks(primary, secondary); diff != "" {
		b.logDivergence("close_task", id, diff)
	}
	return primary, nil
}

func (b *BothBackend) CreateTask(p CreateParams) (*Task, error) {
	primary, err := b.primary.CreateTask(p)
	if err != nil {
		return nil, err
	}
	// The secondary backend assigns its own id scheme, so its id can differ
	// from the primary's; such a difference is logged as a divergence.
	secondaryParams := p
	secondary, secErr := b.secondary.CreateTask(secondaryParams)
	if secErr != nil {
		log.Warn("secondary backend create_task failed", "error", secErr)
		return primary, nil
	}
	if diff := compareTasks(primary, secondary); diff != "" {
		b.logDivergence("create_task", primary.ID, diff)
	}
	return primary, nil
}

func (b *BothBackend) GetTaskCounts() (Counts, error) {
	primary, err := b.primary.GetTaskCounts()
	if err != nil {
		return Counts{}, err
	}
	secondary, secErr := b.secondary.GetTaskCounts()
	if secErr != nil {
		log.Warn("secondary backend get_task_counts failed", "error", secErr)
		return primary, nil
	}
	if primary != secondary {
		b.logDivergence("get_task_counts", "", fmt.Sprintf("primary=%+v secondary=%+v", primary, secondary))
	}
	return primary, nil
}

func (b *BothBackend) AddTaskNote(id, note string) (*Task, error) {
	primary, err := b.primary.AddTaskNote(id, note)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.AddTaskNote(id, note)
	if secErr != nil {
		log.Warn("secondary backend add_task_note failed", "task_id", id, "error", secErr)
		return primary, nil
	}
	if diff := compareTasks(primary, secondary); diff != "" {
		b.logDivergence("add_task_note", id, diff)
	}
	return primary, nil
}

func (b *BothBackend) ImportTasks(tasks []Task) ([]Task, error) {
	primary, err := b.primary.ImportTasks(tasks)
	if err != nil {
		return nil, err
	}
	secondary, secErr := b.secondary.ImportTasks(tasks)
	if secErr != nil {
		log.Warn("secondary backend import_tasks failed", "error", secErr)
		return primary, nil
	}
	if diff := compareTaskLists(primary, secondary); diff != "" {
		b.logDivergence("import_tasks", "", diff)
	}
	return primary, nil
}

func (b *BothBackend) BindBranch(epicID, branchName, base string) (bool, error) {
	ok, err := b.primary.BindBranch(epicID, branchName, base)
	if err != nil {
		return false, err
	}
	if _, secErr := b.secondary.BindBranch(epicID, branchName, base); secErr != nil {
		log.Warn("secondary backend bind_branch failed", "epic_id", epicID, "error", secErr)
	}
	return ok, nil
}

func (b *BothBackend) TryCloseEpic(epicID string) (bool, string, error) {
	closed, msg, err := b.primary.TryCloseEpic(epicID)
	if err != nil {
		return false, "", err
	}
	if _, _, secErr := b.secondary.TryCloseEpic(epicID); secErr != nil {
		log.Warn("secondary backend try_close_epic failed", "epic_id", epicID, "error", secErr)
	}
	return closed, msg, nil
}

func (b *BothBackend) GetAgentInstructions(taskID string) (string, error) {
	return b.primary.GetAgentInstructions(taskID)
}
