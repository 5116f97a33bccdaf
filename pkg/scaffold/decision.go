// Package scaffold implements the Scaffolder: the decision logic for
// whether a brand-new-project template should be materialized before the
// first generation attempt, plus a TemplateExecutor that renders a handful
// of built-in project templates into an isolated temp directory (spec.md
// §4.8). Grounded on cmd/server/virtual-tools/workspace_tools.go's
// workspace-materialization helpers, generalized from live workspace
// writes to the isolated/temporary working directory §5 requires.
package scaffold

import "strings"

// ProjectType names one of the built-in scaffold templates.
type ProjectType string

const (
	ProjectBlazor  ProjectType = "blazor"
	ProjectWebAPI  ProjectType = "web-api"
	ProjectConsole ProjectType = "console"
	ProjectGeneric ProjectType = "generic"
)

// InferProjectType classifies task phrasing into a ProjectType
// (spec.md §4.8).
func InferProjectType(task string) ProjectType {
	lower := strings.ToLower(task)
	switch {
	case strings.Contains(lower, "blazor"):
		return ProjectBlazor
	case strings.Contains(lower, "web api"):
		return ProjectWebAPI
	case strings.Contains(lower, "console"):
		return ProjectConsole
	default:
		return ProjectGeneric
	}
}

// isModificationKeywords are substrings that mark a task as modifying an
// existing codebase rather than starting a new one.
var isModificationKeywords = []string{"add", "modify", "update", "fix", "change"}

// IsNewProject reports whether task phrasing describes starting a new
// project (spec.md §4.8).
func IsNewProject(task string) bool {
	lower := strings.ToLower(strings.TrimSpace(task))
	return strings.HasPrefix(lower, "create") ||
		strings.Contains(lower, "new") ||
		strings.Contains(lower, "complete") ||
		strings.Contains(lower, "project")
}

// IsModification reports whether task phrasing describes modifying an
// existing codebase (spec.md §4.8).
func IsModification(task string) bool {
	lower := strings.ToLower(task)
	for _, kw := range isModificationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ForceScaffold reports whether task phrasing explicitly demands a fresh
// scaffold regardless of workspace contents (spec.md §4.8).
func ForceScaffold(task string) bool {
	lower := strings.ToLower(strings.TrimSpace(task))
	return strings.HasPrefix(lower, "create") ||
		strings.Contains(lower, "create new") ||
		strings.Contains(lower, "create a")
}

// ShouldScaffold implements spec.md §4.8's gate: scaffold runs iff
// isNewProject AND NOT isModification AND (forceScaffold OR
// workspaceIsEmpty).
func ShouldScaffold(task string, workspaceIsEmpty bool) bool {
	if !IsNewProject(task) {
		return false
	}
	if IsModification(task) {
		return false
	}
	return ForceScaffold(task) || workspaceIsEmpty
}
