package task

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

func init() {
	DefaultRegistry.Register("jsonl", func(projectDir string) (Backend, error) {
		return NewJSONLBackend(projectDir)
	})
}

// JSONLBackend stores one task per line under .cub/tasks.jsonl. Reads
// tolerate empty lines and skip malformed ones; writes
// serialize the full task list and atomically replace the file.
type JSONLBackend struct {
	projectDir string
	cubDir     string
	tasksFile  string

	cache      []Task
	cacheMtime time.Time
}

func NewJSONLBackend(projectDir string) (*JSONLBackend, error) {
	cubDir := filepath.Join(projectDir, ".cub")
	return &JSONLBackend{
		projectDir: projectDir,
		cubDir:     cubDir,
		tasksFile:  filepath.Join(cubDir, "tasks.jsonl"),
	}, nil
}

func (b *JSONLBackend) BackendName() string { return "jsonl" }

func (b *JSONLBackend) load() ([]Task, error) {
	info, err := os.Stat(b.tasksFile)
	if os.IsNotExist(err) {
		if err := b.createEmpty(); err != nil {
			return nil, err
		}
		return []Task{}, nil
	} else if err != nil {
		return nil, err
	}

	if b.cache != nil && info.ModTime().Equal(b.cacheMtime) {
		return b.cache, nil
	}

	f, err := os.Open(b.tasksFile)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", b.tasksFile, err)
	}
	defer f.Close()

	var tasks []Task
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			log.Warn("skipping malformed tasks.jsonl line", "file", b.tasksFile, "line", lineNum, "error", err)
			continue
		}
		tasks = append(tasks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.tasksFile, err)
	}

	b.cache = tasks
	b.cacheMtime = info.ModTime()
	return tasks, nil
}

func (b *JSONLBackend) createEmpty() error {
	if err := os.MkdirAll(b.cubDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", b.cubDir, err)
	}
	f, err := os.OpenFile(b.tasksFile, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", b.tasksFile, err)
	}
	defer f.Close()
	b.cache = []Task{}
	if info, err := os.Stat(b.tasksFile); err == nil {
		b.cacheMtime = info.ModTime()
	}
	return nil
}

func (b *JSONLBackend) save(tasks []Task) error {
	if err := os.MkdirAll(b.cubDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", b.cubDir, err)
	}

	tmp, err := os.CreateTemp(b.cubDir, ".tasks_*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, t := range tasks {
		if err := enc.Encode(t); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding task %q: %w", t.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.tasksFile); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}

	b.cache = tasks
	if info, err := os.Stat(b.tasksFile); err == nil {
		b.cacheMtime = info.ModTime()
	}
	return nil
}

func (b *JSONLBackend) prefix() string {
	base := strings.ToLower(filepath.Base(b.projectDir))
	if len(base) > 3 {
		base = base[:3]
	}
	if base == "" || base == "." {
		return "cub"
	}
	return base
}

func (b *JSONLBackend) ListTasks(status *Status, parent, label *string) ([]Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, t := range tasks {
		if status != nil && t.Status != *status {
			continue
		}
		if !matchesFilters(&t, parent, label) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (b *JSONLBackend) GetTask(id string) (*Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			t := tasks[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (b *JSONLBackend) GetReadyTasks(parent, label *string) ([]Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}

	closedIDs := make(map[string]struct{})
	allIDs := make(map[string]struct{})
	for _, t := range tasks {
		allIDs[t.ID] = struct{}{}
		if t.Status == StatusClosed {
			closedIDs[t.ID] = struct{}{}
		}
	}

	var ready []Task
	for _, t := range tasks {
		tt := t
		if !isReady(&tt, closedIDs, allIDs) {
			continue
		}
		if !matchesFilters(&tt, parent, label) {
			continue
		}
		ready = append(ready, tt)
	}
	sortByPriority(ready)
	return ready, nil
}

func (b *JSONLBackend) UpdateTask(id string, status *Status, assignee, description *string, labels []string) (*Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	idx := indexOfTask(tasks, id)
	if idx == -1 {
		return nil, &NotFoundError{TaskID: id}
	}
	t := tasks[idx]
	if status != nil {
		t.Status = *status
	}
	if assignee != nil {
		t.Assignee = *assignee
	}
	if description != nil {
		t.Description = *description
	}
	if labels != nil {
		t.Labels = labels
	}
	t.UpdatedAt = time.Now().UTC()
	tasks[idx] = t
	if err := b.save(tasks); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONLBackend) CloseTask(id string, reason *string) (*Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	idx := indexOfTask(tasks, id)
	if idx == -1 {
		return nil, &NotFoundError{TaskID: id}
	}
	t := tasks[idx]
	t.Close()
	if reason != nil && *reason != "" {
		stamp := fmt.Sprintf("[Closed: %s] %s", time.Now().UTC().Format(time.RFC3339), *reason)
		if t.Notes != "" {
			t.Notes += "\n\n" + stamp
		} else {
			t.Notes = stamp
		}
	}
	tasks[idx] = t
	if err := b.save(tasks); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONLBackend) CreateTask(p CreateParams) (*Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	id := nextTaskID(b.prefix(), tasks)
	now := time.Now().UTC()
	t := Task{
		ID:          id,
		Title:       p.Title,
		Description: p.Description,
		Type:        p.Type,
		Status:      StatusOpen,
		Priority:    p.Priority,
		Labels:      p.Labels,
		DependsOn:   p.DependsOn,
		Parent:      p.Parent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Type == "" {
		t.Type = TypeTask
	}
	if t.Priority == "" {
		t.Priority = PriorityP2
	}
	tasks = append(tasks, t)
	if err := b.save(tasks); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONLBackend) GetTaskCounts() (Counts, error) {
	tasks, err := b.load()
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for _, t := range tasks {
		c.Total++
		switch t.Status {
		case StatusOpen:
			c.Open++
		case StatusInProgress:
			c.InProgress++
		case StatusClosed:
			c.Closed++
		}
	}
	return c, nil
}

func (b *JSONLBackend) AddTaskNote(id, note string) (*Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}
	idx := indexOfTask(tasks, id)
	if idx == -1 {
		return nil, &NotFoundError{TaskID: id}
	}
	t := tasks[idx]
	if t.Notes != "" {
		t.Notes += "\n\n" + note
	} else {
		t.Notes = note
	}
	t.UpdatedAt = time.Now().UTC()
	tasks[idx] = t
	if err := b.save(tasks); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONLBackend) ImportTasks(newTasks []Task) ([]Task, error) {
	tasks, err := b.load()
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		existing[t.ID] = struct{}{}
	}

	prefix := b.prefix()
	nextNum := 1
	imported := make([]Task, 0, len(newTasks))
	now := time.Now().UTC()

	for _, src := range newTasks {
		id := src.ID
		if id != "" {
			if _, dup := existing[id]; dup {
				return nil, &DuplicateIDError{TaskID: id}
			}
		} else {
			for {
				candidate := fmt.Sprintf("%s-%03d", prefix, nextNum)
				nextNum++
				if _, taken := existing[candidate]; !taken {
					id = candidate
					break
				}
			}
		}
		existing[id] = struct{}{}

		nt := src
		nt.ID = id
		if nt.CreatedAt.IsZero() {
			nt.CreatedAt = now
		}
		nt.UpdatedAt = now
		tasks = append(tasks, nt)
		imported = append(imported, nt)
	}

	if err := b.save(tasks); err != nil {
		return nil, err
	}
	return imported, nil
}

func (b *JSONLBackend) BindBranch(epicID, branchName, base string) (bool, error) {
	return false, nil
}

func (b *JSONLBackend) TryCloseEpic(epicID string) (bool, string, error) {
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

func (b *JSONLBackend) GetAgentInstructions(taskID string) (string, error) {
	return fmt.Sprintf(`This project uses the JSONL task backend (.cub/tasks.jsonl).

Task lifecycle:
1. Read .cub/tasks.jsonl to view task details (one JSON object per line)
2. Set "status": "in_progress" for task %s when starting
3. Set "status": "closed" for task %s when complete

Always run feedback loops (tests, typecheck, lint) before marking the task closed.`, taskID, taskID), nil
}

func indexOfTask(tasks []Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
