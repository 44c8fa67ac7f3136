// Package forensics implements the append-only per-session event log: the
// writer side records what an agent session did, and the reader/synthesizer
// folds that stream into a ledger entry.
package forensics

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

// EventType is one of the fixed forensics event kinds.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventTaskClaim     EventType = "task_claim"
	EventTaskClose     EventType = "task_close"
	EventFileWrite     EventType = "file_write"
	EventGitCommit     EventType = "git_commit"
	EventToolUse       EventType = "tool_use"
	EventSessionEnd    EventType = "session_end"
)

// FileCategory classifies a written file for ledger lineage purposes.
type FileCategory string

const (
	CategorySpec   FileCategory = "spec"
	CategoryPlan   FileCategory = "plan"
	CategorySource FileCategory = "source"
	CategoryTest   FileCategory = "test"
	CategoryOther  FileCategory = "other"
)

// Event is the envelope written to forensics/{session_id}.jsonl.
// Only the fields relevant to EventType are populated; unused fields are
// omitted from the JSON.
type Event struct {
	EventType      EventType `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"session_id"`
	CWD            string    `json:"cwd,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	Command        string    `json:"command,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	FileCategory   string    `json:"file_category,omitempty"`
	MessagePreview string    `json:"message_preview,omitempty"`
	ToolInput      string    `json:"tool_input,omitempty"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
}

// CategorizeFile applies the heuristic from: specs/**.md -> spec,
// plans/**.md -> plan, **.test.* or tests/** -> test, src/** -> source,
// anything else -> other (CategoryOther; callers may skip the event).
func CategorizeFile(path string) FileCategory {
	clean := filepath.ToSlash(path)
	base := filepath.Base(clean)
	switch {
	case strings.HasPrefix(clean, "specs/") && strings.HasSuffix(clean, ".md"):
		return CategorySpec
	case strings.HasPrefix(clean, "plans/") && strings.HasSuffix(clean, ".md"):
		return CategoryPlan
	case strings.Contains(clean, "tests/") || strings.Contains(base, ".test."):
		return CategoryTest
	case strings.HasPrefix(clean, "src/"):
		return CategorySource
	default:
		return CategoryOther
	}
}

// Writer appends events to one session's forensics log.
type Writer struct {
	path      string
	sessionID string
}

// NewWriter opens (lazily; the file is created on first write) the
// forensics log at <root>/forensics/{sessionID}.jsonl.
func NewWriter(root, sessionID string) *Writer {
	return &Writer{path: filepath.Join(root, "forensics", sessionID+".jsonl"), sessionID: sessionID}
}

func (w *Writer) append(e Event) error {
	e.SessionID = w.sessionID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating forensics dir: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening forensics log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding forensics event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending forensics event: %w", err)
	}
	return nil
}

func (w *Writer) SessionStart(cwd string) error {
	return w.append(Event{EventType: EventSessionStart, CWD: cwd})
}

func (w *Writer) TaskClaim(taskID, command string) error {
	return w.append(Event{EventType: EventTaskClaim, TaskID: taskID, Command: command})
}

func (w *Writer) TaskClose(taskID, command, reason string) error {
	return w.append(Event{EventType: EventTaskClose, TaskID: taskID, Command: command, Reason: reason})
}

// FileWrite records a file_write event; uncategorized writes may be
// omitted entirely, so callers that only care about lineage-relevant
// writes can skip calling this for CategoryOther paths.
func (w *Writer) FileWrite(path, toolName string) error {
	cat := CategorizeFile(path)
	return w.append(Event{EventType: EventFileWrite, FilePath: path, ToolName: toolName, FileCategory: string(cat)})
}

func (w *Writer) GitCommit(command, messagePreview string) error {
	return w.append(Event{EventType: EventGitCommit, Command: command, MessagePreview: messagePreview})
}

// ToolUse records a tool invocation with an abbreviated input (the caller
// is responsible for truncating toolInput to a safe preview length).
func (w *Writer) ToolUse(toolName, toolInput string) error {
	return w.append(Event{EventType: EventToolUse, ToolName: toolName, ToolInput: toolInput})
}

func (w *Writer) SessionEnd(transcriptPath string) error {
	return w.append(Event{EventType: EventSessionEnd, TranscriptPath: transcriptPath})
}

// GitCommitRecord is one commit observed during a session.
type GitCommitRecord struct {
	Command        string `json:"command"`
	MessagePreview string `json:"message_preview"`
}

// SessionState is the folded result of reading a forensics log.
type SessionState struct {
	SessionID       string
	StartedAt       time.Time
	EndedAt         time.Time
	TaskID          string
	TaskClaimedAt   time.Time
	TaskClosedAt    *time.Time
	TaskCloseReason string
	FilesWritten    []string
	PlanFiles       []string
	SpecFiles       []string
	GitCommits      []GitCommitRecord
	TranscriptPath  string
}

// ReadForensics folds the event stream at path into a SessionState.
// Malformed lines are skipped, not fatal.
func ReadForensics(path string) (*SessionState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening forensics log: %w", err)
	}
	defer f.Close()

	st := &SessionState{}
	seenFiles := map[string]struct{}{}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			log.Warn("forensics: skipping malformed line", "path", path, "err", err)
			continue
		}
		if st.SessionID == "" {
			st.SessionID = e.SessionID
		}
		switch e.EventType {
		case EventSessionStart:
			st.StartedAt = e.Timestamp
		case EventTaskClaim:
			// Later claims supersede earlier ones.
			st.TaskID = e.TaskID
			st.TaskClaimedAt = e.Timestamp
			st.TaskClosedAt = nil
		case EventTaskClose:
			if e.TaskID == st.TaskID {
				closedAt := e.Timestamp
				st.TaskClosedAt = &closedAt
				st.TaskCloseReason = e.Reason
			}
		case EventFileWrite:
			if _, ok := seenFiles[e.FilePath]; !ok {
				seenFiles[e.FilePath] = struct{}{}
				st.FilesWritten = append(st.FilesWritten, e.FilePath)
			}
			switch FileCategory(e.FileCategory) {
			case CategoryPlan:
				st.PlanFiles = append(st.PlanFiles, e.FilePath)
			case CategorySpec:
				st.SpecFiles = append(st.SpecFiles, e.FilePath)
			}
		case EventGitCommit:
			st.GitCommits = append(st.GitCommits, GitCommitRecord{Command: e.Command, MessagePreview: e.MessagePreview})
		case EventSessionEnd:
			st.EndedAt = e.Timestamp
			if e.TranscriptPath != "" {
				st.TranscriptPath = e.TranscriptPath
			}
		default:
			log.Warn("forensics: unknown event type, skipping", "type", e.EventType)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading forensics log: %w", err)
	}
	return st, nil
}
