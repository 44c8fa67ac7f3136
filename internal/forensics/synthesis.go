package forensics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cub/internal/ledger"

	"github.com/charmbracelet/log"
)

// TaskRef is the minimal task context synthesis needs, kept independent of
// internal/task to avoid a dependency from forensics onto the task store.
type TaskRef struct {
	ID     string
	Title  string
	Parent string
}

// OnSessionEnd reads the forensics log, and if a task was claimed during
// the session, synthesizes (or returns the pre-existing) ledger entry for
// it. Returns (nil, nil) if no task was ever claimed.
//
// Synthesis is idempotent: because both a harness "Stop" hook and a
// "SessionEnd" hook may fire for the same session, a second call must
// return the already-persisted entry unchanged rather than re-deriving it.
func OnSessionEnd(store *ledger.Store, sessionID, forensicsPath string, task *TaskRef) (*ledger.Entry, error) {
	state, err := ReadForensics(forensicsPath)
	if err != nil {
		return nil, err
	}
	if state.TaskID == "" {
		return nil, nil
	}

	if existing, err := store.GetTask(state.TaskID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	entry := synthesize(sessionID, state, task)
	if err := store.CreateEntry(entry); err != nil {
		return nil, fmt.Errorf("persisting synthesized ledger entry: %w", err)
	}
	return entry, nil
}

func synthesize(sessionID string, state *SessionState, task *TaskRef) *ledger.Entry {
	completedAt := state.EndedAt
	if state.TaskClosedAt != nil {
		completedAt = *state.TaskClosedAt
	}
	success := state.TaskClosedAt != nil

	title := ""
	epicID := ""
	if task != nil {
		title = task.Title
		epicID = task.Parent
	}

	specFile := ""
	if len(state.SpecFiles) > 0 {
		specFile = state.SpecFiles[0]
	}
	planFile := ""
	if len(state.PlanFiles) > 0 {
		planFile = state.PlanFiles[0]
	}

	now := time.Now().UTC()
	e := &ledger.Entry{
		ID:    state.TaskID,
		Title: title,
		Lineage: ledger.Lineage{
			SpecFile: specFile,
			PlanFile: planFile,
			EpicID:   epicID,
		},
		Task: ledger.TaskSnapshot{ID: state.TaskID, Title: title, Parent: epicID},
		Attempts: []ledger.Attempt{
			{
				AttemptNumber: 1,
				RunID:         sessionID,
				Harness:       "claude",
				Success:       success,
				StartedAt:     state.TaskClaimedAt,
				CompletedAt:   completedAt,
			},
		},
		Outcome: ledger.Outcome{
			Success:      success,
			FilesChanged: dedupe(state.FilesWritten),
		},
		Verification: ledger.Verification{Status: ledger.VerificationPending},
		Workflow:     ledger.Workflow{Stage: ledger.StageDevComplete},
		StateHistory: []ledger.StateTransition{{At: now, By: "session", Stage: ledger.StageDevComplete}},
	}
	e.Recompute()
	return e
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// transcriptLine is one record of a JSONL session transcript.
type transcriptLine struct {
	Type  string `json:"type"` // "input" | "output"
	Model string `json:"model,omitempty"`
	Usage *struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage,omitempty"`
}

// ModelPricing is USD cost per million tokens for one model.
type ModelPricing struct {
	InputPerMTok         float64
	OutputPerMTok        float64
	CacheReadPerMTok     float64
	CacheCreationPerMTok float64
}

// pricingTable is an approximate per-model pricing table used to convert
// summed transcript token usage into a cost estimate.
var pricingTable = map[string]ModelPricing{
	"opus":   {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheReadPerMTok: 1.50, CacheCreationPerMTok: 18.75},
	"sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheReadPerMTok: 0.30, CacheCreationPerMTok: 3.75},
	"haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00, CacheReadPerMTok: 0.08, CacheCreationPerMTok: 1.00},
}

func pricingFor(model string) ModelPricing {
	lower := strings.ToLower(model)
	for key, p := range pricingTable {
		if strings.Contains(lower, key) {
			return p
		}
	}
	return pricingTable["sonnet"]
}

func estimateCost(u ledger.TokenUsage, model string) float64 {
	p := pricingFor(model)
	const perM = 1_000_000.0
	return float64(u.Input)*p.InputPerMTok/perM +
		float64(u.Output)*p.OutputPerMTok/perM +
		float64(u.CacheRead)*p.CacheReadPerMTok/perM +
		float64(u.CacheCreation)*p.CacheCreationPerMTok/perM
}

// EnrichFromTranscript reads a JSONL transcript where each line has
// {type: input|output, model?, usage?}, sums usage across all "output"
// lines, captures the last model encountered, and applies pricingTable to
// compute cost. It updates the ledger entry in place: both the legacy
// top-level fields and the newest attempt's nested fields are rewritten
// for backward compatibility.
func EnrichFromTranscript(store *ledger.Store, taskID, transcriptPath string) (*ledger.Entry, error) {
	entry, err := store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	f, err := os.Open(transcriptPath)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var total ledger.TokenUsage
	var lastModel string

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec transcriptLine
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Warn("forensics: skipping malformed transcript line", "err", err)
			continue
		}
		if rec.Model != "" {
			lastModel = rec.Model
		}
		if rec.Type != "output" || rec.Usage == nil {
			continue
		}
		total.Input += rec.Usage.InputTokens
		total.Output += rec.Usage.OutputTokens
		total.CacheRead += rec.Usage.CacheReadInputTokens
		total.CacheCreation += rec.Usage.CacheCreationInputTokens
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	cost := estimateCost(total, lastModel)

	if len(entry.Attempts) == 0 {
		entry.Attempts = append(entry.Attempts, ledger.Attempt{AttemptNumber: 1, RunID: taskID})
	}
	newest := &entry.Attempts[len(entry.Attempts)-1]
	newest.Model = lastModel
	newest.TokenUsage = total
	newest.CostUSD = cost

	entry.Recompute()

	if err := store.UpdateEntry(entry); err != nil {
		return nil, fmt.Errorf("persisting enriched ledger entry: %w", err)
	}
	return entry, nil
}
