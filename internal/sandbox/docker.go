package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"cub/internal/plumbing"

	"github.com/google/uuid"
)

// DockerProvider isolates each sandbox in its own container via the
// `docker` CLI, matching the rest of cub's subprocess-plumbing idiom
// rather than linking the Docker SDK client.
type DockerProvider struct {
	mu         sync.Mutex
	containers map[string]*dockerContainer
}

type dockerContainer struct {
	name       string
	projectDir string
	status     Status
}

// NewDockerProvider constructs an empty DockerProvider.
func NewDockerProvider() *DockerProvider {
	return &DockerProvider{containers: make(map[string]*dockerContainer)}
}

func (p *DockerProvider) Name() string { return "docker" }

func (p *DockerProvider) Capabilities() Capabilities {
	return Capabilities{NetworkIsolation: true, ResourceLimits: true, Snapshots: true}
}

func (p *DockerProvider) IsAvailable(ctx context.Context) bool {
	_, err := plumbing.Run(ctx, "", 5*time.Second, nil, "", "docker", "info")
	return err == nil
}

func containerName(id string) string { return "cub-sandbox-" + id }

func (p *DockerProvider) Start(ctx context.Context, projectDir string, cfg Config) (string, error) {
	id := uuid.New().String()
	name := containerName(id)

	image := cfg.Image
	if image == "" {
		image = "ubuntu:22.04"
	}

	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", err
	}

	args := []string{"run", "-d", "--name", name, "--rm"}
	if cfg.Resources.CPU > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(cfg.Resources.CPU, 'f', 2, 64))
	}
	if cfg.Resources.Memory != "" {
		args = append(args, "--memory", cfg.Resources.Memory)
	}
	if cfg.Resources.PIDs > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(cfg.Resources.PIDs, 10))
	}
	if !cfg.Network.Enabled {
		args = append(args, "--network", "none")
	}
	args = append(args, "-v", absDir+":/workspace", "-w", "/workspace")
	for k, v := range cfg.Environment {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, "--cap-drop", "ALL", "--security-opt", "no-new-privileges")
	args = append(args, image, "tail", "-f", "/dev/null")

	if _, err := plumbing.Run(ctx, "", 0, nil, "", "docker", args...); err != nil {
		return "", fmt.Errorf("starting sandbox container: %w", err)
	}

	p.mu.Lock()
	p.containers[id] = &dockerContainer{
		name:       name,
		projectDir: absDir,
		status:     Status{ID: id, State: StateRunning, StartedAt: time.Now().UTC()},
	}
	p.mu.Unlock()
	return id, nil
}

func (p *DockerProvider) get(id string) (*dockerContainer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.containers[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return c, nil
}

func (p *DockerProvider) Stop(ctx context.Context, id string) error {
	c, err := p.get(id)
	if err != nil {
		return err
	}
	if _, err := plumbing.Run(ctx, "", 30*time.Second, nil, "", "docker", "stop", c.name); err != nil {
		p.mu.Lock()
		c.status.State = StateFailed
		p.mu.Unlock()
		return fmt.Errorf("stopping sandbox container: %w", err)
	}
	p.mu.Lock()
	c.status.State = StateStopped
	p.mu.Unlock()
	return nil
}

func (p *DockerProvider) Status(ctx context.Context, id string) (Status, error) {
	c, err := p.get(id)
	if err != nil {
		return Status{}, err
	}
	res, inspectErr := plumbing.Run(ctx, "", 0, nil, "", "docker", "inspect", "-f", "{{.State.Status}}", c.name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if inspectErr == nil {
		switch strings.TrimSpace(res.Stdout) {
		case "running":
			c.status.State = StateRunning
		case "exited", "dead":
			c.status.State = StateStopped
		}
	}
	return c.status, nil
}

func (p *DockerProvider) Logs(ctx context.Context, id string, follow bool, cb LogCallback) (string, error) {
	c, err := p.get(id)
	if err != nil {
		return "", err
	}
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	args = append(args, c.name)
	res, err := plumbing.Run(ctx, "", 0, nil, "", "docker", args...)
	if err != nil {
		return "", err
	}
	if cb != nil {
		for _, line := range splitNonEmptyLines(res.Stdout) {
			cb(line)
		}
	}
	return res.Stdout, nil
}

func (p *DockerProvider) Diff(ctx context.Context, id string) (string, error) {
	c, err := p.get(id)
	if err != nil {
		return "", err
	}
	if !plumbing.IsRepo(ctx, c.projectDir) {
		return "", nil
	}
	res, err := plumbing.Git(ctx, c.projectDir, "diff", "--no-color")
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (p *DockerProvider) Export(ctx context.Context, id, dest string, changedOnly bool) error {
	c, err := p.get(id)
	if err != nil {
		return err
	}
	if !changedOnly {
		return copyTree(c.projectDir, dest)
	}
	if !plumbing.IsRepo(ctx, c.projectDir) {
		return fmt.Errorf("changed_only export requires a git repository")
	}
	res, err := plumbing.Git(ctx, c.projectDir, "diff", "--name-only")
	if err != nil {
		return err
	}
	for _, line := range splitNonEmptyLines(res.Stdout) {
		src := filepath.Join(c.projectDir, line)
		dst := filepath.Join(dest, line)
		content, err := readFileBestEffort(src)
		if err != nil {
			continue
		}
		if err := writeFileAt(dst, content); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup force-removes the container with `docker rm -f`. The project
// directory is bind-mounted rather than held in a named volume, so no
// volume is created or removed. It is idempotent: an unknown or
// already-removed id is not an error.
func (p *DockerProvider) Cleanup(ctx context.Context, id string) error {
	p.mu.Lock()
	c, ok := p.containers[id]
	if ok {
		c.status.State = StateCleaningUp
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	_, _ = plumbing.Run(ctx, "", 30*time.Second, nil, "", "docker", "rm", "-f", c.name)

	p.mu.Lock()
	delete(p.containers, id)
	p.mu.Unlock()
	return nil
}

func (p *DockerProvider) GetVersion(ctx context.Context) (string, error) {
	res, err := plumbing.Run(ctx, "", 0, nil, "", "docker", "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", err
	}
	return trimTrailingNewline(res.Stdout), nil
}
