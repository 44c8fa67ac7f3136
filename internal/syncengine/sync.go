// Package syncengine replicates the task store file to a dedicated git
// branch, optionally pushed to a remote, using only plumbing commands so
// the user's working tree and current branch are never touched.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cub/internal/plumbing"

	"github.com/charmbracelet/log"
)

// Status is the comparison between the local and remote sync branch tips.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusNoRemote      Status = "NO_REMOTE"
	StatusUpToDate      Status = "UP_TO_DATE"
	StatusAhead         Status = "AHEAD"
	StatusBehind        Status = "BEHIND"
	StatusDiverged      Status = "DIVERGED"
)

// State is the JSON persisted at .cub/.sync-state.json.
type State struct {
	BranchName    string     `json:"branch_name"`
	TasksFile     string     `json:"tasks_file"`
	LastCommitSHA string     `json:"last_commit_sha,omitempty"`
	LastPushSHA   string     `json:"last_push_sha,omitempty"`
	LastPushAt    *time.Time `json:"last_push_at,omitempty"`
	LastTasksHash string     `json:"last_tasks_hash,omitempty"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	Initialized   bool       `json:"initialized"`
}

// Unpushed reports whether the current commit has not yet been pushed.
func (s State) Unpushed() bool {
	return s.LastCommitSHA != s.LastPushSHA
}

// SyncConflict records one task whose local and remote copies diverged
// during a pull merge.
type SyncConflict struct {
	TaskID           string `json:"task_id"`
	LocalUpdatedAt   string `json:"local_updated_at,omitempty"`
	RemoteUpdatedAt  string `json:"remote_updated_at,omitempty"`
	Winner           string `json:"winner"`
	Resolution       string `json:"resolution"`
}

// Result is the outcome of a pull or commit operation.
type Result struct {
	Operation    string         `json:"operation"`
	Success      bool           `json:"success"`
	CommitSHA    string         `json:"commit_sha,omitempty"`
	TasksUpdated int            `json:"tasks_updated"`
	Conflicts    []SyncConflict `json:"conflicts,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Message      string         `json:"message,omitempty"`
}

// Engine is the sync engine over one project directory.
type Engine struct {
	ProjectDir string
	BranchName string
	TasksFile  string
	Remote     string
	stateFile  string
}

// New constructs an Engine with the default branch name "cub-sync" and
// remote "origin". tasksFile is relative to projectDir.
func New(projectDir, tasksFile string) *Engine {
	return &Engine{
		ProjectDir: projectDir,
		BranchName: "cub-sync",
		TasksFile:  tasksFile,
		Remote:     "origin",
		stateFile:  filepath.Join(projectDir, ".cub", ".sync-state.json"),
	}
}

func (e *Engine) branchRef() string       { return "refs/heads/" + e.BranchName }
func (e *Engine) remoteBranchRef() string { return "refs/remotes/" + e.Remote + "/" + e.BranchName }

func (e *Engine) loadState() (State, error) {
	data, err := os.ReadFile(e.stateFile)
	if os.IsNotExist(err) {
		return State{BranchName: e.BranchName, TasksFile: e.TasksFile}, nil
	}
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("corrupt sync state %s: %w", e.stateFile, err)
	}
	return s, nil
}

func (e *Engine) saveState(s State) error {
	dir := filepath.Dir(e.stateFile)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".sync-state_*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, e.stateFile)
}

// IsInitialized reports whether the local sync branch ref exists.
func (e *Engine) IsInitialized(ctx context.Context) bool {
	return plumbing.ShowRef(ctx, e.ProjectDir, e.branchRef())
}

// Initialize is idempotent: it creates the sync branch at HEAD if a HEAD
// commit exists, or as an empty orphan commit otherwise. It never
// modifies the working tree or the current branch.
func (e *Engine) Initialize(ctx context.Context) error {
	if !plumbing.IsRepo(ctx, e.ProjectDir) {
		return fmt.Errorf("%s is not a git repository", e.ProjectDir)
	}
	if e.IsInitialized(ctx) {
		return nil
	}

	var commitSHA string
	if head, err := plumbing.RevParse(ctx, e.ProjectDir, "HEAD"); err == nil {
		commitSHA = head
	} else {
		commit, err := plumbing.CommitTree(ctx, e.ProjectDir, plumbing.EmptyTreeSHA, "Initialize cub sync branch", "")
		if err != nil {
			return fmt.Errorf("creating empty sync branch commit: %w", err)
		}
		commitSHA = commit
	}

	if err := plumbing.UpdateRef(ctx, e.ProjectDir, e.branchRef(), commitSHA); err != nil {
		return fmt.Errorf("creating sync branch ref: %w", err)
	}

	state, err := e.loadState()
	if err != nil {
		return err
	}
	state.Initialized = true
	state.BranchName = e.BranchName
	state.TasksFile = e.TasksFile
	return e.saveState(state)
}

// commitBlob writes content as the sole entry at e.TasksFile in a new
// commit on the sync branch, parented on the current tip. Returns the
// resulting tip SHA and whether a new commit was actually created.
func (e *Engine) commitBlob(ctx context.Context, content []byte, message string) (sha string, changed bool, err error) {
	tip, err := plumbing.RevParse(ctx, e.ProjectDir, e.branchRef())
	if err != nil {
		return "", false, fmt.Errorf("resolving sync branch tip: %w", err)
	}

	newBlob, err := plumbing.HashObjectBytes(ctx, e.ProjectDir, content)
	if err != nil {
		return "", false, err
	}

	existingBlob, found, err := plumbing.LsTreeBlob(ctx, e.ProjectDir, tip, e.TasksFile)
	if err != nil {
		return "", false, err
	}
	if found && existingBlob == newBlob {
		return tip, false, nil
	}

	tree, err := plumbing.Mktree(ctx, e.ProjectDir, []plumbing.MktreeEntry{{SHA: newBlob, Path: e.TasksFile}})
	if err != nil {
		return "", false, err
	}
	commit, err := plumbing.CommitTree(ctx, e.ProjectDir, tree, message, tip)
	if err != nil {
		return "", false, err
	}
	if err := plumbing.UpdateRef(ctx, e.ProjectDir, e.branchRef(), commit); err != nil {
		return "", false, err
	}
	return commit, true, nil
}

// Commit snapshots the on-disk tasks file onto the sync branch. Unchanged
// content produces no new commit and returns the existing tip SHA.
func (e *Engine) Commit(ctx context.Context, message string) (string, error) {
	if message == "" {
		message = "Update tasks"
	}
	if !e.IsInitialized(ctx) {
		return "", fmt.Errorf("sync engine not initialized")
	}

	content, err := os.ReadFile(filepath.Join(e.ProjectDir, e.TasksFile))
	if err != nil {
		return "", fmt.Errorf("reading tasks file: %w", err)
	}

	sha, changed, err := e.commitBlob(ctx, content, message)
	if err != nil {
		return "", err
	}

	state, err := e.loadState()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	state.LastCommitSHA = sha
	state.LastSyncAt = &now
	if changed {
		blob, _ := plumbing.HashObjectBytes(ctx, e.ProjectDir, content)
		state.LastTasksHash = blob
	}
	if err := e.saveState(state); err != nil {
		return "", err
	}
	return sha, nil
}

// Push pushes the sync branch to the remote, returning false on any
// failure rather than propagating an error — a configured remote is not
// guaranteed to exist.
func (e *Engine) Push(ctx context.Context) bool {
	refspec := e.branchRef() + ":" + e.branchRef()
	if err := plumbing.Push(ctx, e.ProjectDir, e.Remote, refspec); err != nil {
		log.Warn("sync push failed", "error", err)
		return false
	}

	tip, err := plumbing.RevParse(ctx, e.ProjectDir, e.branchRef())
	if err != nil {
		return false
	}
	state, err := e.loadState()
	if err != nil {
		return false
	}
	now := time.Now().UTC()
	state.LastPushSHA = tip
	state.LastPushAt = &now
	if err := e.saveState(state); err != nil {
		log.Warn("failed to persist sync state after push", "error", err)
	}
	return true
}

type taskRecord = map[string]any

func parseJSONL(content string) map[string]taskRecord {
	out := make(map[string]taskRecord)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec taskRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		id, ok := rec["id"].(string)
		if !ok || id == "" {
			continue
		}
		out[id] = rec
	}
	return out
}

func recordsEqual(a, b taskRecord) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func updatedAt(r taskRecord) string {
	if v, ok := r["updated_at"].(string); ok {
		return v
	}
	return ""
}

// mergeJSONL implements the last-writer-wins merge: for ids present on
// both sides with differing content, the record with the later
// updated_at wins; a side with updated_at beats a side without one, and
// ties or a timestamp missing on both sides favor remote.
func mergeJSONL(local, remote map[string]taskRecord) (merged map[string]taskRecord, updated int, conflicts []SyncConflict) {
	merged = make(map[string]taskRecord)
	ids := make(map[string]struct{}, len(local)+len(remote))
	for id := range local {
		ids[id] = struct{}{}
	}
	for id := range remote {
		ids[id] = struct{}{}
	}

	for id := range ids {
		l, hasLocal := local[id]
		r, hasRemote := remote[id]

		switch {
		case hasLocal && !hasRemote:
			merged[id] = l
		case hasRemote && !hasLocal:
			merged[id] = r
			updated++
		case recordsEqual(l, r):
			merged[id] = l
		default:
			lt, rt := updatedAt(l), updatedAt(r)
			winner := "remote"
			switch {
			case lt != "" && rt != "":
				if parseRFC3339(lt).After(parseRFC3339(rt)) {
					winner = "local"
				}
			case lt != "" && rt == "":
				winner = "local"
			case lt == "" && rt != "":
				winner = "remote"
			default:
				winner = "remote"
			}
			conflicts = append(conflicts, SyncConflict{
				TaskID:          id,
				LocalUpdatedAt:  lt,
				RemoteUpdatedAt: rt,
				Winner:          winner,
				Resolution:      "last_write_wins",
			})
			if winner == "remote" {
				merged[id] = r
				updated++
			} else {
				merged[id] = l
			}
		}
	}
	return merged, updated, conflicts
}

func parseRFC3339(s string) time.Time {
	s = strings.TrimSuffix(s, "Z") + "Z"
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func serializeJSONL(records map[string]taskRecord) []byte {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		line, _ := json.Marshal(records[id])
		b.Write(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Pull fetches the remote sync branch, merges it with the local tip using
// last-writer-wins, and commits the result on the local sync branch. It
// never touches the working tree.
func (e *Engine) Pull(ctx context.Context) (*Result, error) {
	started := time.Now().UTC()
	res := &Result{Operation: "pull", StartedAt: started}

	if !e.IsInitialized(ctx) {
		res.CompletedAt = time.Now().UTC()
		res.Message = "sync engine not initialized"
		return res, nil
	}

	if err := plumbing.Fetch(ctx, e.ProjectDir, e.Remote, e.BranchName+":"+e.remoteTrackingShort()); err != nil {
		res.Success = true
		res.Message = "no remote"
		res.CompletedAt = time.Now().UTC()
		return res, nil
	}
	if !plumbing.ShowRef(ctx, e.ProjectDir, e.remoteBranchRef()) {
		res.Success = true
		res.Message = "no remote"
		res.CompletedAt = time.Now().UTC()
		return res, nil
	}

	localTip, err := plumbing.RevParse(ctx, e.ProjectDir, e.branchRef())
	if err != nil {
		return nil, err
	}
	remoteTip, err := plumbing.RevParse(ctx, e.ProjectDir, e.remoteBranchRef())
	if err != nil {
		return nil, err
	}

	localContent, err := plumbing.ShowBlob(ctx, e.ProjectDir, localTip, e.TasksFile)
	if err != nil {
		localContent = ""
	}
	remoteContent, err := plumbing.ShowBlob(ctx, e.ProjectDir, remoteTip, e.TasksFile)
	if err != nil {
		remoteContent = ""
	}

	local := parseJSONL(localContent)
	remote := parseJSONL(remoteContent)
	merged, updated, conflicts := mergeJSONL(local, remote)

	sha, _, err := e.commitBlob(ctx, serializeJSONL(merged), "Merge sync branch")
	if err != nil {
		return nil, err
	}

	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	state.LastCommitSHA = sha
	state.LastSyncAt = &now
	if err := e.saveState(state); err != nil {
		return nil, err
	}

	res.Success = true
	res.CommitSHA = sha
	res.TasksUpdated = updated
	res.Conflicts = conflicts
	res.CompletedAt = time.Now().UTC()
	return res, nil
}

// remoteTrackingShort is the local ref git fetch writes the remote branch
// into, e.g. "refs/remotes/origin/cub-sync".
func (e *Engine) remoteTrackingShort() string {
	return e.remoteBranchRef()
}

// GetStatus compares the local sync branch tip against the remote's.
func (e *Engine) GetStatus(ctx context.Context) Status {
	if !e.IsInitialized(ctx) {
		return StatusUninitialized
	}
	_ = plumbing.Fetch(ctx, e.ProjectDir, e.Remote, e.BranchName+":"+e.remoteTrackingShort())
	if !plumbing.ShowRef(ctx, e.ProjectDir, e.remoteBranchRef()) {
		return StatusNoRemote
	}

	ahead, behind, err := plumbing.RevListCount(ctx, e.ProjectDir, e.branchRef(), e.remoteBranchRef())
	if err != nil {
		return StatusNoRemote
	}
	switch {
	case ahead == 0 && behind == 0:
		return StatusUpToDate
	case ahead > 0 && behind == 0:
		return StatusAhead
	case behind > 0 && ahead == 0:
		return StatusBehind
	default:
		return StatusDiverged
	}
}
