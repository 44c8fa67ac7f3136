package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"cub/internal/plumbing"

	"github.com/google/uuid"
)

// HostProvider runs a task directly in the project directory with no
// isolation. It is always available and has no container or volume to
// reclaim, but still tracks lifecycle state so callers see a uniform
// contract.
type HostProvider struct {
	mu         sync.Mutex
	workspaces map[string]*hostWorkspace
}

type hostWorkspace struct {
	projectDir string
	cfg        Config
	status     Status
}

// NewHostProvider constructs an empty HostProvider.
func NewHostProvider() *HostProvider {
	return &HostProvider{workspaces: make(map[string]*hostWorkspace)}
}

func (p *HostProvider) Name() string { return "host" }

func (p *HostProvider) Capabilities() Capabilities {
	return Capabilities{}
}

func (p *HostProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *HostProvider) Start(ctx context.Context, projectDir string, cfg Config) (string, error) {
	if _, err := os.Stat(projectDir); err != nil {
		return "", fmt.Errorf("project directory does not exist: %w", err)
	}
	id := uuid.New().String()

	p.mu.Lock()
	p.workspaces[id] = &hostWorkspace{
		projectDir: projectDir,
		cfg:        cfg,
		status:     Status{ID: id, State: StateRunning, StartedAt: time.Now().UTC()},
	}
	p.mu.Unlock()
	return id, nil
}

func (p *HostProvider) get(id string) (*hostWorkspace, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws, ok := p.workspaces[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return ws, nil
}

func (p *HostProvider) Stop(ctx context.Context, id string) error {
	ws, err := p.get(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	ws.status.State = StateStopped
	p.mu.Unlock()
	return nil
}

func (p *HostProvider) Status(ctx context.Context, id string) (Status, error) {
	ws, err := p.get(id)
	if err != nil {
		return Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return ws.status, nil
}

func (p *HostProvider) Logs(ctx context.Context, id string, follow bool, cb LogCallback) (string, error) {
	if _, err := p.get(id); err != nil {
		return "", err
	}
	return "", nil
}

func (p *HostProvider) Diff(ctx context.Context, id string) (string, error) {
	ws, err := p.get(id)
	if err != nil {
		return "", err
	}
	if !plumbing.IsRepo(ctx, ws.projectDir) {
		return "", nil
	}
	res, err := plumbing.Git(ctx, ws.projectDir, "diff", "--no-color")
	if err != nil {
		if extErr, ok := err.(*plumbing.ExternalFailureError); ok {
			return "", fmt.Errorf("git diff failed: %s", extErr.Stderr)
		}
		return "", err
	}
	return res.Stdout, nil
}

func (p *HostProvider) Export(ctx context.Context, id, dest string, changedOnly bool) error {
	ws, err := p.get(id)
	if err != nil {
		return err
	}
	if !changedOnly {
		return copyTree(ws.projectDir, dest)
	}
	if !plumbing.IsRepo(ctx, ws.projectDir) {
		return fmt.Errorf("changed_only export requires a git repository")
	}
	res, err := plumbing.Git(ctx, ws.projectDir, "diff", "--name-only")
	if err != nil {
		return err
	}
	for _, line := range splitNonEmptyLines(res.Stdout) {
		src := filepath.Join(ws.projectDir, line)
		dst := filepath.Join(dest, line)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		content, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (p *HostProvider) Cleanup(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws, ok := p.workspaces[id]
	if !ok {
		return nil
	}
	ws.status.State = StateCleaningUp
	delete(p.workspaces, id)
	return nil
}

func (p *HostProvider) GetVersion(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "go", "version")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "host", nil
	}
	return "host (" + trimTrailingNewline(out.String()) + ")", nil
}

func splitNonEmptyLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	return lines
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func readFileBestEffort(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFileAt(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, content, info.Mode())
	})
}
