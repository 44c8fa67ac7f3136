// Package section implements the managed-section writer: an
// idempotent, hash-guarded marker block that this system upserts into
// shared markdown files it co-owns with the user (e.g. AGENTS.md).
package section

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	beginPrefix = "<!-- BEGIN CUB MANAGED SECTION v"
	beginSuffix = " -->"
	endMarker   = "<!-- END CUB MANAGED SECTION -->"
	hashPrefix  = "<!-- sha256:"
	hashSuffix  = " -->"
)

var (
	beginRe = regexp.MustCompile(`^<!-- BEGIN CUB MANAGED SECTION v(\d+) -->$`)
	hashRe  = regexp.MustCompile(`^<!-- sha256:([0-9a-f]{64}) -->$`)
)

// Action is what UpsertManagedSection did to the file.
type Action string

const (
	ActionCreated  Action = "CREATED"
	ActionAppended Action = "APPENDED"
	ActionReplaced Action = "REPLACED"
)

// SectionInfo is the result of detecting a managed section in a file.
type SectionInfo struct {
	Found           bool
	Version         int
	StartLine       int
	EndLine         int
	RecordedHash    string
	ActualHash      string
	HasBegin        bool
	HasEnd          bool
	ContentModified bool
}

// UpsertResult is the result of an upsert operation.
type UpsertResult struct {
	Action  Action
	Warning string
}

// hashContent computes the lowercase hex sha256 of the trimmed content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

func buildBlock(content string, version int) string {
	trimmed := strings.TrimSpace(content)
	hash := hashContent(trimmed)
	var b strings.Builder
	fmt.Fprintf(&b, "%s%d%s\n", beginPrefix, version, beginSuffix)
	fmt.Fprintf(&b, "%s%s%s\n", hashPrefix, hash, hashSuffix)
	b.WriteString(trimmed)
	b.WriteString("\n")
	b.WriteString(endMarker)
	b.WriteString("\n")
	return b.String()
}

// DetectManagedSection scans path for a managed section block and reports
// its state.
func DetectManagedSection(path string) (SectionInfo, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return SectionInfo{}, nil
	}
	if err != nil {
		return SectionInfo{}, fmt.Errorf("reading %s: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	info := SectionInfo{StartLine: -1, EndLine: -1}

	for i, line := range lines {
		if m := beginRe.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			info.HasBegin = true
			info.StartLine = i
			fmt.Sscanf(m[1], "%d", &info.Version)
		}
		if strings.TrimRight(line, "\r") == endMarker {
			info.HasEnd = true
			info.EndLine = i
		}
	}

	if !info.HasBegin && !info.HasEnd {
		return info, nil
	}

	info.Found = info.HasBegin && info.HasEnd && info.StartLine < info.EndLine
	if !info.Found {
		return info, nil
	}

	if info.StartLine+1 < len(lines) {
		if m := hashRe.FindStringSubmatch(strings.TrimRight(lines[info.StartLine+1], "\r")); m != nil {
			info.RecordedHash = m[1]
		}
	}

	contentStart := info.StartLine + 1
	if info.RecordedHash != "" {
		contentStart++
	}
	content := strings.Join(lines[contentStart:info.EndLine], "\n")
	info.ActualHash = hashContent(content)
	info.ContentModified = info.RecordedHash != "" && info.ActualHash != info.RecordedHash

	return info, nil
}

// UpsertManagedSection creates, appends, or replaces the managed section in
// path. Degraded recovery: a lone BEGIN or lone END is treated
// as corruption and replaced with a correct block, preserving user content
// outside the damaged region and attaching a warning.
func UpsertManagedSection(path, content string, version int) (UpsertResult, error) {
	block := buildBlock(content, version)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := writeAtomic(path, block); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Action: ActionCreated}, nil
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("reading %s: %w", path, err)
	}

	text := string(data)
	lines := strings.Split(text, "\n")

	beginLine, endLine := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if beginRe.MatchString(trimmed) {
			beginLine = i
		}
		if trimmed == endMarker {
			endLine = i
		}
	}

	switch {
	case beginLine == -1 && endLine == -1:
		newText := strings.TrimRight(text, "\n") + "\n\n" + block
		if err := writeAtomic(path, newText); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Action: ActionAppended}, nil

	case beginLine != -1 && endLine != -1 && beginLine < endLine:
		before := strings.Join(lines[:beginLine], "\n")
		after := strings.Join(lines[endLine+1:], "\n")
		newText := joinNonEmpty(before, block, after)
		if err := writeAtomic(path, newText); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Action: ActionReplaced}, nil

	default:
		// Lone BEGIN or lone END (or END before BEGIN): corruption.
		// Strip the damaged marker lines, keep everything else, append
		// a fresh block.
		var kept []string
		for i, line := range lines {
			if i == beginLine || i == endLine {
				continue
			}
			kept = append(kept, line)
		}
		before := strings.Join(kept, "\n")
		newText := joinNonEmpty(before, block, "")
		if err := writeAtomic(path, newText); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{
			Action:  ActionReplaced,
			Warning: "managed section markers were corrupted (unmatched BEGIN/END); replaced with a fresh block",
		}, nil
	}
}

func joinNonEmpty(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, strings.TrimRight(p, "\n"))
		}
	}
	out := strings.Join(nonEmpty, "\n\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".section_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// CreateAgentsSymlink creates dir/AGENTS.md as a relative symlink to
// dir/CLAUDE.md. An existing correct symlink returns true; a
// non-symlink collision requires force.
func CreateAgentsSymlink(dir string, force bool) (bool, error) {
	target := "CLAUDE.md"
	linkPath := filepath.Join(dir, "AGENTS.md")

	existing, err := os.Lstat(linkPath)
	if err == nil {
		if existing.Mode()&os.ModeSymlink != 0 {
			current, err := os.Readlink(linkPath)
			if err != nil {
				return false, fmt.Errorf("reading existing symlink: %w", err)
			}
			if current == target {
				return true, nil
			}
			if !force {
				return false, fmt.Errorf("AGENTS.md is a symlink to %q, not %q; pass force to replace it", current, target)
			}
			if err := os.Remove(linkPath); err != nil {
				return false, err
			}
		} else if !force {
			return false, fmt.Errorf("AGENTS.md already exists and is not a symlink; pass force to replace it")
		} else {
			if err := os.Remove(linkPath); err != nil {
				return false, err
			}
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat AGENTS.md: %w", err)
	}

	if err := os.Symlink(target, linkPath); err != nil {
		return false, fmt.Errorf("creating symlink: %w", err)
	}
	return true, nil
}
