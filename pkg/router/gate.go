package router

import "strings"

// defaultStepTimeoutSeconds is the per-step await bound for fast/medium
// steps run in-line; a step that exceeds it fails with the context's
// deadline error (spec.md §4.7, default 10s — internal/config.RouterStepTimeoutSeconds).
const defaultStepTimeoutSeconds = 10

// slowOperationKeywords are the tool-name substrings spec.md §4.7 calls out
// as inherently slow: indexing, workspace-wide analysis, listing across
// services, code generation, and semantic/memory search (spec.md §8
// Scenario E classifies "search for authentication code" as a slow
// operation dispatched async). A request containing "status" or "list …"
// by itself is deliberately NOT in this set.
var slowOperationKeywords = []string{"index", "analyze_workspace", "list_across", "generate_code", "generate", "search"}

// ShouldRunInBackground implements the sync/async gate: a step runs in the
// background iff its tool matches a slow-operation predicate or its
// expected duration class is explicitly "slow".
func ShouldRunInBackground(tool string, class DurationClass) bool {
	if class == DurationSlow {
		return true
	}
	lower := strings.ToLower(tool)
	for _, kw := range slowOperationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
