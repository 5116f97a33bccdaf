package escalator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forgecore/engine/internal/config"
)

func TestTierForBands(t *testing.T) {
	assert.Equal(t, 0, tierFor(1))
	assert.Equal(t, 0, tierFor(2))
	assert.Equal(t, 1, tierFor(3))
	assert.Equal(t, 1, tierFor(4))
	assert.Equal(t, 2, tierFor(5))
	assert.Equal(t, 2, tierFor(6))
	assert.Equal(t, 3, tierFor(7))
	assert.Equal(t, 3, tierFor(8))
	assert.Equal(t, 4, tierFor(9))
	assert.Equal(t, 4, tierFor(20))
}

func TestErrorSignatureKeysOnKeywords(t *testing.T) {
	assert.Equal(t, "null", ErrorSignature("Null pointer dereference at line 5"))
	assert.Equal(t, "compile", ErrorSignature("compile error: undefined symbol"))
	assert.Equal(t, "async|cancellation", ErrorSignature("Async operation lost its Cancellation token"))
	assert.Equal(t, "unclassified", ErrorSignature("totally unrelated failure"))
}

func TestSelectFollowsBaseTierWithNoHistory(t *testing.T) {
	cfg := config.Defaults()
	tier, idx := Select(1, "", NewHistory(), cfg)
	assert.Equal(t, cfg.EscalationLadder[0], tier)
	assert.Equal(t, 0, idx)

	tier, idx = Select(5, "", NewHistory(), cfg)
	assert.Equal(t, cfg.EscalationLadder[2], tier)
	assert.Equal(t, 2, idx)
}

func TestSelectJumpsEarlyOnRepeatedSignature(t *testing.T) {
	cfg := config.Defaults()
	hist := NewHistory()
	hist.Record(0, "null")
	hist.Record(0, "null")

	// attemptIndex=2 would normally stay at tier 0, but "null" has
	// repeated twice at tier 0, so it jumps to tier 1.
	tier, idx := Select(2, "null", hist, cfg)
	assert.Equal(t, cfg.EscalationLadder[1], tier)
	assert.Equal(t, 1, idx)
}

func TestSelectSkipsTierThatAlreadyFailedWithSameSignature(t *testing.T) {
	cfg := config.Defaults()
	hist := NewHistory()
	hist.Record(1, "compile")

	// Base tier for attemptIndex=3 is tier 1, but "compile" already failed
	// there, so it should skip ahead to tier 2.
	tier, idx := Select(3, "compile", hist, cfg)
	assert.Equal(t, cfg.EscalationLadder[2], tier)
	assert.Equal(t, 2, idx)
}

func TestSelectNeverExceedsTopTier(t *testing.T) {
	cfg := config.Defaults()
	hist := NewHistory()
	for i := 0; i < tierCount; i++ {
		hist.Record(i, "compile")
	}
	tier, idx := Select(9, "compile", hist, cfg)
	assert.Equal(t, cfg.EscalationLadder[tierCount-1], tier)
	assert.Equal(t, tierCount-1, idx)
}

func TestDistinctSignaturesSortedAndDeduped(t *testing.T) {
	hist := NewHistory()
	hist.Record(0, "null")
	hist.Record(1, "null")
	hist.Record(0, "compile")
	sigs := DistinctSignatures(hist)
	assert.Equal(t, []string{"compile", "null"}, sigs)
}
