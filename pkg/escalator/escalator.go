// Package escalator implements the deterministic tier-selection function
// that picks which model an attempt should run against, grounded on the
// teacher's OrchestratorConfig-driven provider selection
// (pkg/orchestrator/config/config.go) generalized from "one configured
// model per agent role" to "a 5-tier escalation ladder keyed on attempt
// index and error-signature repetition" (spec.md §4.5).
package escalator

import (
	"sort"
	"strings"

	"github.com/forgecore/engine/internal/config"
)

// tierCount is the number of rungs in the escalation ladder (spec.md §4.5).
const tierCount = 5

// tierFor returns the base tier for attemptIndex, ignoring adjustments:
// attempts 1-2 -> tier 0, 3-4 -> tier 1, 5-6 -> tier 2, 7-8 -> tier 3,
// 9+ -> tier 4.
func tierFor(attemptIndex int) int {
	if attemptIndex < 1 {
		attemptIndex = 1
	}
	tier := (attemptIndex - 1) / 2
	if tier > tierCount-1 {
		tier = tierCount - 1
	}
	return tier
}

// signatureKeywords is the fixed substring vocabulary errorSignature keys
// on, tried in a stable order so the derived signature is deterministic.
var signatureKeywords = []string{"null", "async", "injection", "cancellation", "compile"}

// ErrorSignature derives a deterministic signature from an attempt's issue
// text: lowercase, keyed on fixed substrings, joined with "|". An attempt
// with no matching keyword produces "unclassified" (spec.md §4.5).
func ErrorSignature(issueText string) string {
	lower := strings.ToLower(issueText)
	var matched []string
	for _, kw := range signatureKeywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return "unclassified"
	}
	return strings.Join(matched, "|")
}

// History tracks, per tier, how many times each error signature has been
// seen there across the job's attempts so far — the state Select needs to
// apply spec.md §4.5's "jump early" / "skip failed tier" adjustments.
type History struct {
	// seenAt[tier][signature] = count of attempts at that tier with that signature.
	seenAt map[int]map[string]int
}

// NewHistory returns an empty escalation history for a fresh job.
func NewHistory() *History {
	return &History{seenAt: make(map[int]map[string]int)}
}

// Record registers that an attempt ran at tier with the given signature.
// Call this once per completed attempt, in attempt order.
func (h *History) Record(tier int, signature string) {
	if h.seenAt[tier] == nil {
		h.seenAt[tier] = make(map[string]int)
	}
	h.seenAt[tier][signature]++
}

func (h *History) countAt(tier int, signature string) int {
	if h.seenAt[tier] == nil {
		return 0
	}
	return h.seenAt[tier][signature]
}

// triedAndFailed reports whether tier has already seen this signature at
// all (any count >= 1 counts as "tried and failed" since every attempt
// recorded here is, by construction, a non-terminal attempt).
func (h *History) triedAndFailed(tier int, signature string) bool {
	return h.countAt(tier, signature) > 0
}

// Select runs the deterministic escalation function: given the attempt
// index about to run, the current error signature (from the prior
// attempt's issues, or "" for the first attempt), prior history, and
// config, it returns the concrete model to run next and the tier index
// it was drawn from (the caller records this tier back into hist once
// the attempt's outcome is known).
func Select(attemptIndex int, signature string, hist *History, cfg *config.EngineConfig) (config.LadderTier, int) {
	tier := tierFor(attemptIndex)

	if hist != nil && signature != "" {
		// Jump one tier early if this signature has repeated >= 2 times at
		// the current tier.
		if hist.countAt(tier, signature) >= 2 && tier < tierCount-1 {
			tier++
		}
		// Skip a tier that already failed with this exact signature.
		for hist.triedAndFailed(tier, signature) && tier < tierCount-1 {
			tier++
		}
	}

	return ladderTier(tier, cfg), tier
}

func ladderTier(tier int, cfg *config.EngineConfig) config.LadderTier {
	ladder := cfg.EscalationLadder
	if len(ladder) == 0 {
		return config.LadderTier{}
	}
	if tier >= len(ladder) {
		tier = len(ladder) - 1
	}
	if tier < 0 {
		tier = 0
	}
	return ladder[tier]
}

// DistinctSignatures returns the signatures recorded in hist across all
// tiers, sorted, mainly for observability/debugging.
func DistinctSignatures(hist *History) []string {
	seen := make(map[string]bool)
	for _, bySig := range hist.seenAt {
		for sig := range bySig {
			seen[sig] = true
		}
	}
	var out []string
	for sig := range seen {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}
