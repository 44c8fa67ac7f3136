package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func init() {
	DefaultRegistry.Register("json", func(projectDir string) (Backend, error) {
		return NewJSONBackend(projectDir, "")
	})
}

// prdFile is the on-disk shape of prd.json.
type prdFile struct {
	Prefix string `json:"prefix"`
	Tasks  []Task `json:"tasks"`
}

// JSONBackend stores tasks in a single prd.json file, using temp-file +
// atomic rename for every write and an mtime-gated cache to avoid
// re-parsing unchanged files.
type JSONBackend struct {
	projectDir string
	prdPath    string

	cache      *prdFile
	cacheMtime time.Time
}

// NewJSONBackend constructs a backend rooted at projectDir. If prdPath is
// empty, it defaults to "<projectDir>/prd.json".
func NewJSONBackend(projectDir, prdPath string) (*JSONBackend, error) {
	if prdPath == "" {
		prdPath = filepath.Join(projectDir, "prd.json")
	}
	return &JSONBackend{projectDir: projectDir, prdPath: prdPath}, nil
}

func (b *JSONBackend) BackendName() string { return "json" }

func (b *JSONBackend) load() (*prdFile, error) {
	info, err := os.Stat(b.prdPath)
	if os.IsNotExist(err) {
		if err := b.createEmpty(); err != nil {
			return nil, err
		}
		info, err = os.Stat(b.prdPath)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if b.cache != nil && info.ModTime().Equal(b.cacheMtime) {
		return b.cache, nil
	}

	raw, err := os.ReadFile(b.prdPath)
	if err != nil {
		return nil, &CorruptionError{Path: b.prdPath, Reason: err.Error()}
	}

	var data prdFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &CorruptionError{Path: b.prdPath, Reason: err.Error()}
	}
	if data.Tasks == nil {
		data.Tasks = []Task{}
	}

	b.cache = &data
	b.cacheMtime = info.ModTime()
	return &data, nil
}

func (b *JSONBackend) createEmpty() error {
	prefix := strings.ToLower(filepath.Base(b.projectDir))
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	if prefix == "" {
		prefix = "prd"
	}
	return b.save(&prdFile{Prefix: prefix, Tasks: []Task{}})
}

// save writes data atomically: temp file in the same directory, then
// os.Rename. 2-space indent and a trailing newline
func (b *JSONBackend) save(data *prdFile) error {
	dir := filepath.Dir(b.prdPath)
	tmp, err := os.CreateTemp(dir, ".prd_*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding prd.json: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, b.prdPath); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}

	b.cache = data
	if info, err := os.Stat(b.prdPath); err == nil {
		b.cacheMtime = info.ModTime()
	}
	return nil
}

func (b *JSONBackend) ListTasks(status *Status, parent, label *string) ([]Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, t := range data.Tasks {
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

func (b *JSONBackend) GetTask(id string) (*Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}
	for i := range data.Tasks {
		if data.Tasks[i].ID == id {
			t := data.Tasks[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (b *JSONBackend) GetReadyTasks(parent, label *string) ([]Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}

	closedIDs := make(map[string]struct{})
	allIDs := make(map[string]struct{})
	for _, t := range data.Tasks {
		allIDs[t.ID] = struct{}{}
		if t.Status == StatusClosed {
			closedIDs[t.ID] = struct{}{}
		}
	}

	var ready []Task
	for _, t := range data.Tasks {
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

func (b *JSONBackend) UpdateTask(id string, status *Status, assignee, description *string, labels []string) (*Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, t := range data.Tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, &NotFoundError{TaskID: id}
	}

	t := data.Tasks[idx]
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
	data.Tasks[idx] = t

	if err := b.save(data); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONBackend) CloseTask(id string, reason *string) (*Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, t := range data.Tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, &NotFoundError{TaskID: id}
	}

	t := data.Tasks[idx]
	t.Close()
	if reason != nil && *reason != "" {
		stamp := fmt.Sprintf("[Closed: %s] %s", time.Now().UTC().Format(time.RFC3339), *reason)
		if t.Notes != "" {
			t.Notes += "\n\n" + stamp
		} else {
			t.Notes = stamp
		}
	}
	data.Tasks[idx] = t

	if err := b.save(data); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONBackend) CreateTask(p CreateParams) (*Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}

	id := nextTaskID(data.Prefix, data.Tasks)
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

	data.Tasks = append(data.Tasks, t)
	if err := b.save(data); err != nil {
		return nil, err
	}
	return &t, nil
}

// nextTaskID finds the smallest unused 3-digit suffix for prefix, matching
// json.py's create_task numbering scheme.
func nextTaskID(prefix string, existing []Task) string {
	if prefix == "" {
		prefix = "prd"
	}
	used := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		used[t.ID] = struct{}{}
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%03d", prefix, n)
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}

func (b *JSONBackend) GetTaskCounts() (Counts, error) {
	data, err := b.load()
	if err != nil {
		return Counts{}, err
	}
	var c Counts
	for _, t := range data.Tasks {
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

func (b *JSONBackend) AddTaskNote(id, note string) (*Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, t := range data.Tasks {
		if t.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, &NotFoundError{TaskID: id}
	}
	t := data.Tasks[idx]
	if t.Notes != "" {
		t.Notes += "\n\n" + note
	} else {
		t.Notes = note
	}
	t.UpdatedAt = time.Now().UTC()
	data.Tasks[idx] = t

	if err := b.save(data); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *JSONBackend) ImportTasks(tasks []Task) ([]Task, error) {
	data, err := b.load()
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(data.Tasks))
	for _, t := range data.Tasks {
		existing[t.ID] = struct{}{}
	}

	all := append([]Task(nil), data.Tasks...)
	nextNum := 1
	imported := make([]Task, 0, len(tasks))
	now := time.Now().UTC()

	for _, src := range tasks {
		id := src.ID
		if id != "" {
			if _, dup := existing[id]; dup {
				return nil, &DuplicateIDError{TaskID: id}
			}
		} else {
			for {
				candidate := fmt.Sprintf("%s-%03d", data.Prefix, nextNum)
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
		all = append(all, nt)
		imported = append(imported, nt)
	}

	if err := b.save(&prdFile{Prefix: data.Prefix, Tasks: all}); err != nil {
		return nil, err
	}
	return imported, nil
}

func (b *JSONBackend) BindBranch(epicID, branchName, base string) (bool, error) {
	// The JSON backend has no native branch-binding concept.
	return false, nil
}

func (b *JSONBackend) TryCloseEpic(epicID string) (bool, string, error) {
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

func (b *JSONBackend) GetAgentInstructions(taskID string) (string, error) {
	return fmt.Sprintf(`This project uses the JSON task backend (prd.json).

Task lifecycle:
1. Read prd.json to view task details
2. Set "status": "in_progress" for task %s when starting
3. Set "status": "closed" for task %s when complete

Always run feedback loops (tests, typecheck, lint) before marking the task closed.`, taskID, taskID), nil
}
