package plumbing

import (
	"context"
	"encoding/json"
)

// GitHub is the contract for the handful of GitHub operations the ledger's
// CI-monitor summary and the sync engine need. Only the contract is part
// of the core; a real implementation is a thin wrapper around the `gh`
// CLI, invoked exactly like the git helpers above.
type GitHub interface {
	// CheckRuns returns the most recent CI check runs for ref in owner/repo.
	CheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error)
	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
}

// CheckRun is one CI check run, enough to populate a CIMonitorSummary.
type CheckRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	URL        string `json:"html_url"`
}

// CLIGitHub implements GitHub by shelling out to the `gh` CLI, matching
// the subprocess-plumbing idiom used for git above.
type CLIGitHub struct {
	Dir string
}

func (g *CLIGitHub) CheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error) {
	res, err := Run(ctx, g.Dir, 0, nil, "", "gh", "api",
		"repos/"+owner+"/"+repo+"/commits/"+ref+"/check-runs")
	if err != nil {
		return nil, err
	}
	var parsed struct {
		CheckRuns []CheckRun `json:"check_runs"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &parsed); err != nil {
		return nil, &ExternalFailureError{Command: "gh api check-runs", Stderr: err.Error(), ExitCode: -1}
	}
	return parsed.CheckRuns, nil
}

func (g *CLIGitHub) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	res, err := Run(ctx, g.Dir, 0, nil, "", "gh", "api", "repos/"+owner+"/"+repo, "--jq", ".default_branch")
	if err != nil {
		return "", err
	}
	branch := res.Stdout
	for len(branch) > 0 && (branch[len(branch)-1] == '\n' || branch[len(branch)-1] == '\r') {
		branch = branch[:len(branch)-1]
	}
	return branch, nil
}
