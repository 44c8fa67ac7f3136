package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Filesystem layout under the ledger root:
//
//	by-task/{id}.json
//	by-task/{id}/attempts/{NNN}-prompt.md
//	by-task/{id}/attempts/{NNN}-harness.log
//	by-epic/{id}/entry.json
//	by-plan/{id}/entry.json
//	by-run/{id}.json
//	index.jsonl

const (
	dirByTask = "by-task"
	dirByEpic = "by-epic"
	dirByPlan = "by-plan"
	dirByRun  = "by-run"
	indexFile = "index.jsonl"
)

// Store implements both the ledger Writer and Reader contracts
// against a plain directory tree.
type Store struct {
	root string
}

// NotFoundError reports that a ledger record (task, plan, run, epic) is
// absent. Returned only from update-style calls; lookups return (nil, nil)
// ("A not-found is null/None, not an error").
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ledger: %s %q not found", e.Kind, e.ID)
}

// New opens a Store rooted at dir (typically "<project>/.cub/ledger").
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) taskPath(id string) string      { return filepath.Join(s.root, dirByTask, id+".json") }
func (s *Store) taskDir(id string) string       { return filepath.Join(s.root, dirByTask, id) }
func (s *Store) attemptsDir(id string) string   { return filepath.Join(s.taskDir(id), "attempts") }
func (s *Store) epicPath(id string) string      { return filepath.Join(s.root, dirByEpic, id, "entry.json") }
func (s *Store) planPath(id string) string      { return filepath.Join(s.root, dirByPlan, id, "entry.json") }
func (s *Store) runPath(id string) string       { return filepath.Join(s.root, dirByRun, id+".json") }
func (s *Store) indexPath() string              { return filepath.Join(s.root, indexFile) }

// Exists reports whether the ledger root directory is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.root)
	return err == nil && info.IsDir()
}

// writeJSONAtomic writes v to path as indented JSON via temp-file + rename.
func writeJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger_*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", path, err)
	}
	return true, nil
}

// appendIndexLine appends one compact index record with O_APPEND + fsync,
// ("index: O_APPEND + fsync").
func (s *Store) appendIndexLine(line IndexLine) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encoding index line: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending index line: %w", err)
	}
	return f.Sync()
}

// CreateEntry writes the per-task file and appends the compact index line.
// Both operations are atomic, independently.
func (s *Store) CreateEntry(e *Entry) error {
	e.Recompute()
	if err := writeJSONAtomic(s.taskPath(e.ID), e); err != nil {
		return err
	}
	if err := s.appendIndexLine(e.ToIndexLine()); err != nil {
		log.Warn("ledger: index append failed, entry still persisted", "task", e.ID, "err", err)
		return err
	}
	return nil
}

// EntryExists is presence of the per-task file.
func (s *Store) EntryExists(id string) bool {
	info, err := os.Stat(s.taskPath(id))
	return err == nil && !info.IsDir()
}

// UpdateEntry requires the per-task file to exist; it writes atomically
// then rebuilds the whole index by scanning by-task/*.json, avoiding
// in-place edits of the append-only index stream.
func (s *Store) UpdateEntry(e *Entry) error {
	if !s.EntryExists(e.ID) {
		return &NotFoundError{Kind: "task", ID: e.ID}
	}
	e.Recompute()
	if err := writeJSONAtomic(s.taskPath(e.ID), e); err != nil {
		return err
	}
	return s.RebuildIndex()
}

// GetTask reads one full per-task file, returning (nil, nil) if absent.
func (s *Store) GetTask(id string) (*Entry, error) {
	var e Entry
	ok, err := readJSON(s.taskPath(id), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

// RebuildIndex regenerates index.jsonl from by-task/*.json. Idempotent and
// must never lose records.
func (s *Store) RebuildIndex() error {
	dir := filepath.Join(s.root, dirByTask)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	var lines []IndexLine
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		var e Entry
		ok, err := readJSON(filepath.Join(dir, de.Name()), &e)
		if err != nil {
			log.Warn("ledger: skipping corrupt task file during index rebuild", "file", de.Name(), "err", err)
			continue
		}
		if !ok {
			continue
		}
		lines = append(lines, e.ToIndexLine())
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	dirPath := s.root
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dirPath, ".index_*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, l := range lines {
		data, err := json.Marshal(l)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.indexPath())
}

// promptFrontmatter is the YAML header written at the top of a prompt file.
type promptFrontmatter struct {
	Attempt   int       `yaml:"attempt"`
	Harness   string    `yaml:"harness"`
	Model     string    `yaml:"model,omitempty"`
	RunID     string    `yaml:"run_id"`
	StartedAt time.Time `yaml:"started_at"`
}

// WritePromptFile creates the attempts directory on demand and writes
// {NNN}-prompt.md with YAML frontmatter.
func (s *Store) WritePromptFile(taskID string, attemptNum int, content, harness, model, runID string, startedAt *time.Time) error {
	when := time.Now().UTC()
	if startedAt != nil {
		when = *startedAt
	}
	fm := promptFrontmatter{Attempt: attemptNum, Harness: harness, Model: model, RunID: runID, StartedAt: when}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("encoding prompt frontmatter: %w", err)
	}

	dir := s.attemptsDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%03d-prompt.md", attemptNum))
	body := "---\n" + string(fmBytes) + "---\n" + content
	return os.WriteFile(path, []byte(body), 0o644)
}

// WriteHarnessLog writes {NNN}-harness.log for the given attempt.
func (s *Store) WriteHarnessLog(taskID string, attemptNum int, content string) error {
	dir := s.attemptsDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%03d-harness.log", attemptNum))
	return os.WriteFile(path, []byte(content), 0o644)
}

// --- Plan entries ---

func (s *Store) CreatePlanEntry(p *PlanEntry) error { return writeJSONAtomic(s.planPath(p.ID), p) }

func (s *Store) GetPlanEntry(id string) (*PlanEntry, error) {
	var p PlanEntry
	ok, err := readJSON(s.planPath(id), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdatePlanEntry(p *PlanEntry) error {
	if _, err := os.Stat(s.planPath(p.ID)); os.IsNotExist(err) {
		return &NotFoundError{Kind: "plan", ID: p.ID}
	}
	return writeJSONAtomic(s.planPath(p.ID), p)
}

// PlanFilters narrows ListPlans.
type PlanFilters struct {
	Status *string
	SpecID *string
	Since  *time.Time
	Until  *time.Time
}

func (s *Store) ListPlans(f PlanFilters) ([]PlanEntry, error) {
	dir := filepath.Join(s.root, dirByPlan)
	ids, err := listSubdirs(dir)
	if err != nil {
		return nil, err
	}
	var out []PlanEntry
	for _, id := range ids {
		p, err := s.GetPlanEntry(id)
		if err != nil || p == nil {
			continue
		}
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.SpecID != nil && p.SpecID != *f.SpecID {
			continue
		}
		if f.Since != nil && p.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && p.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

// --- Run entries ---

func (s *Store) CreateRunEntry(r *RunEntry) error { return writeJSONAtomic(s.runPath(r.ID), r) }

func (s *Store) GetRunEntry(id string) (*RunEntry, error) {
	var r RunEntry
	ok, err := readJSON(s.runPath(id), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

func (s *Store) UpdateRunEntry(r *RunEntry) error {
	if _, err := os.Stat(s.runPath(r.ID)); os.IsNotExist(err) {
		return &NotFoundError{Kind: "run", ID: r.ID}
	}
	return writeJSONAtomic(s.runPath(r.ID), r)
}

// RunFilters narrows ListRuns.
type RunFilters struct {
	Status  *RunStatus
	Since   *time.Time
	Until   *time.Time
	MinCost *float64
	MaxCost *float64
}

func (s *Store) ListRuns(f RunFilters) ([]RunEntry, error) {
	dir := filepath.Join(s.root, dirByRun)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []RunEntry
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(de.Name(), ".json")
		r, err := s.GetRunEntry(id)
		if err != nil || r == nil {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Since != nil && r.StartedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && r.StartedAt.After(*f.Until) {
			continue
		}
		if f.MinCost != nil && r.TotalCostUSD < *f.MinCost {
			continue
		}
		if f.MaxCost != nil && r.TotalCostUSD > *f.MaxCost {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// --- Epic entries ---

func (s *Store) CreateEpicEntry(e *EpicEntry) error { return writeJSONAtomic(s.epicPath(e.ID), e) }

func (s *Store) GetEpicEntry(id string) (*EpicEntry, error) {
	var e EpicEntry
	ok, err := readJSON(s.epicPath(id), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateEpicEntry(e *EpicEntry) error {
	if _, err := os.Stat(s.epicPath(e.ID)); os.IsNotExist(err) {
		return &NotFoundError{Kind: "epic", ID: e.ID}
	}
	return writeJSONAtomic(s.epicPath(e.ID), e)
}

func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, de := range entries {
		if de.IsDir() {
			names = append(names, de.Name())
		}
	}
	return names, nil
}

// --- Reader: index queries ---

// ListFilters narrows ListTasks.
type ListFilters struct {
	Since        *time.Time
	Epic         *string
	Verification *string
}

func (s *Store) readIndexLines() ([]IndexLine, error) {
	f, err := os.Open(s.indexPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []IndexLine
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec IndexLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn("ledger: skipping malformed index line", "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// ListTasks streams the index, decodes each line, applies filters, and
// returns results in original order.
func (s *Store) ListTasks(f ListFilters) ([]IndexLine, error) {
	lines, err := s.readIndexLines()
	if err != nil {
		return nil, err
	}
	var out []IndexLine
	for _, l := range lines {
		if f.Since != nil {
			completed, err := time.Parse("2006-01-02", l.Completed)
			if err == nil && completed.Before(*f.Since) {
				continue
			}
		}
		if f.Epic != nil && l.Epic != *f.Epic {
			continue
		}
		if f.Verification != nil && l.Verification != *f.Verification {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// SearchTasks does a case-insensitive substring match over title, id, spec
// field, and the file list.
func (s *Store) SearchTasks(query string) ([]IndexLine, error) {
	lines, err := s.readIndexLines()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []IndexLine
	for _, l := range lines {
		if strings.Contains(strings.ToLower(l.Title), q) ||
			strings.Contains(strings.ToLower(l.ID), q) ||
			strings.Contains(strings.ToLower(l.Spec), q) {
			out = append(out, l)
			continue
		}
		for _, file := range l.Files {
			if strings.Contains(strings.ToLower(file), q) {
				out = append(out, l)
				break
			}
		}
	}
	return out, nil
}

// Stats is a reduction over index lines.
type Stats struct {
	TotalTasks          int
	TotalCostUSD        float64
	MinCostUSD          float64
	MaxCostUSD          float64
	AvgCostUSD          float64
	TotalTokens         int
	VerificationCounts  map[string]int
	EarliestCompleted   string
	LatestCompleted     string
}

// GetStats reduces the index (after filters) into totals, cost
// min/max/avg, token totals, verification counts, and date bookends.
func (s *Store) GetStats(f ListFilters) (Stats, error) {
	lines, err := s.ListTasks(f)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{VerificationCounts: map[string]int{}}
	if len(lines) == 0 {
		return st, nil
	}
	st.TotalTasks = len(lines)
	st.MinCostUSD = lines[0].CostUSD
	for _, l := range lines {
		st.TotalCostUSD += l.CostUSD
		st.TotalTokens += l.Tokens
		if l.CostUSD < st.MinCostUSD {
			st.MinCostUSD = l.CostUSD
		}
		if l.CostUSD > st.MaxCostUSD {
			st.MaxCostUSD = l.CostUSD
		}
		st.VerificationCounts[l.Verification]++
		if l.Completed != "" {
			if st.EarliestCompleted == "" || l.Completed < st.EarliestCompleted {
				st.EarliestCompleted = l.Completed
			}
			if st.LatestCompleted == "" || l.Completed > st.LatestCompleted {
				st.LatestCompleted = l.Completed
			}
		}
	}
	st.AvgCostUSD = st.TotalCostUSD / float64(st.TotalTasks)
	return st, nil
}
