// Package instructions composes the short contextual markdown block that
// tells a coding harness how to work inside a cub-managed project. It is a
// stateless text composer; persistence is delegated to the managed-section
// writer (internal/section).
package instructions

import (
	"fmt"
	"strings"

	"cub/internal/section"
)

// Flavor selects harness-specific additions to the generated block.
type Flavor string

const (
	// FlavorGeneric produces the baseline block with no harness-specific
	// additions.
	FlavorGeneric Flavor = "generic"
	// FlavorAgent adds a plan-mode tip and a skills-directory pointer,
	// for harnesses that support those concepts.
	FlavorAgent Flavor = "agent"
)

// Config carries the small amount of project context the generator needs.
type Config struct {
	ProjectName string
	ProjectRoot string
}

// ManagedSectionVersion is the version stamped on every block this
// generator writes.
const ManagedSectionVersion = 1

// Generate composes the instruction block as markdown. The result is
// always between 10 and 30 non-empty lines.
func Generate(cfg Config, flavor Flavor) string {
	var b strings.Builder

	name := cfg.ProjectName
	if name == "" {
		name = "this project"
	}

	fmt.Fprintf(&b, "## Working in %s\n\n", name)
	b.WriteString("This project's task backlog, dependency graph, and execution ledger are ")
	b.WriteString("managed by cub. Before making changes, orient yourself with:\n\n")
	b.WriteString("- `@.cub/map.md` — where things live in this repo\n")
	b.WriteString("- `@.cub/constitution.md` — non-negotiable conventions for this codebase\n")
	b.WriteString("- `@.cub/agent.md` — how to drive the task workflow as an agent\n\n")

	b.WriteString("### Task workflow\n\n")
	b.WriteString("- `cub ready` — list tasks whose dependencies are all closed\n")
	b.WriteString("- `cub claim <id>` — claim a task before starting work on it\n")
	b.WriteString("- `cub close <id>` — close a task once its acceptance criteria are met\n")
	b.WriteString("- `cub note <id> <text>` — record progress notes on a task\n\n")

	b.WriteString("### Escape hatch\n\n")
	b.WriteString("If a task's scope turns out to be wrong, too large, or blocked by something ")
	b.WriteString("not captured in its dependencies, stop and leave a note rather than silently ")
	b.WriteString("improvising — open questions belong on the task, not buried in a commit.\n")

	if flavor == FlavorAgent {
		b.WriteString("\n### Planning mode\n\n")
		b.WriteString("Prefer a plan-then-execute pass for anything touching more than one file: ")
		b.WriteString("sketch the approach, then implement it in small verifiable steps.\n\n")
		b.WriteString("### Skills\n\n")
		b.WriteString("Check `.cub/skills/` for reusable task-specific playbooks before improvising ")
		b.WriteString("a workflow this project has already documented.\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// WriteInto generates the block and upserts it as a managed section in
// path via internal/section.
func WriteInto(path string, cfg Config, flavor Flavor) (section.UpsertResult, error) {
	content := Generate(cfg, flavor)
	return section.UpsertManagedSection(path, content, ManagedSectionVersion)
}
