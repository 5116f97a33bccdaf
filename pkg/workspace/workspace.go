// Package workspace implements the WorkspaceInspector collaborator: a
// bounded filesystem walk that summarizes a workspace's size, shape, and
// language mix before the first generation attempt (spec.md §6). Grounded
// on the teacher's workspace tool handlers (cmd/server/virtual-tools/workspace_tools.go)
// for the context-aware, depth-bounded, timeout-guarded walk convention —
// generalized from a remote workspace-API call to a direct local
// filesystem walk, since WorkspaceInspector.summarize takes a local
// workspacePath rather than a remote document store.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgecore/engine/pkg/job"
)

const defaultMaxDepth = 6

// languageByExt maps a handful of common source extensions to a display
// language name. Unrecognized extensions are ignored for detection
// purposes but still counted toward FileCount.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".cs":    "csharp",
	".rb":    "ruby",
	".rs":    "rust",
	".cpp":   "cpp",
	".cc":    "cpp",
	".c":     "c",
	".h":     "c",
	".hpp":   "cpp",
	".php":   "php",
	".kt":    "kotlin",
	".swift": "swift",
	".razor": "csharp",
}

var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"bin":          true,
	"obj":          true,
	".vs":          true,
	".idea":        true,
}

// Inspector implements WorkspaceInspector by walking the local filesystem.
type Inspector struct {
	maxDepth int
}

// New returns an Inspector bounded to the default walk depth.
func New() *Inspector {
	return &Inspector{maxDepth: defaultMaxDepth}
}

// WithMaxDepth overrides the walk depth bound, mainly for tests.
func (i *Inspector) WithMaxDepth(depth int) *Inspector {
	i.maxDepth = depth
	return i
}

// Summarize walks workspacePath (bounded by maxDepth, skipping VCS/build
// noise directories) and returns a CodebaseSummary. A nonexistent
// workspacePath is treated as an empty workspace rather than an error,
// since "no workspace yet" is the common case for a brand-new project.
func (i *Inspector) Summarize(ctx context.Context, workspacePath string) (job.CodebaseSummary, error) {
	if _, err := os.Stat(workspacePath); os.IsNotExist(err) {
		return job.CodebaseSummary{}, nil
	}

	var fileCount int
	languageSet := make(map[string]bool)
	dirCounts := make(map[string]int)

	root := filepath.Clean(workspacePath)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1

		if d.IsDir() {
			if ignoredDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if depth > i.maxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		fileCount++
		if depth == 1 {
			dirCounts["."]++
		} else {
			top := strings.SplitN(rel, string(filepath.Separator), 2)[0]
			dirCounts[top]++
		}

		ext := strings.ToLower(filepath.Ext(path))
		if lang, ok := languageByExt[ext]; ok {
			languageSet[lang] = true
		}
		return nil
	})
	if err != nil {
		return job.CodebaseSummary{}, err
	}

	return job.CodebaseSummary{
		FileCount:         fileCount,
		TopDirectories:    topDirectories(dirCounts, 10),
		DetectedLanguages: sortedKeys(languageSet),
		HasSourceFiles:    len(languageSet) > 0,
	}, nil
}

func topDirectories(counts map[string]int, limit int) []string {
	type entry struct {
		name  string
		count int
	}
	var entries []entry
	for name, count := range counts {
		if name == "." {
			continue
		}
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].count != entries[b].count {
			return entries[a].count > entries[b].count
		}
		return entries[a].name < entries[b].name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.name
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
