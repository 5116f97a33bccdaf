package learner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserveIncrementsSuccessOnceWorking(t *testing.T) {
	s := NewSessionLearning()

	// First attempt: pattern is neither working nor mentioned in issues.
	s.Observe([]string{"builder-pattern"}, nil, true)
	assert.Equal(t, 0, s.stats["builder-pattern"].successCount)
	assert.True(t, s.working["builder-pattern"])

	// Second attempt: now classified working, so it should count as a success.
	s.Observe([]string{"builder-pattern"}, nil, true)
	assert.Equal(t, 1, s.stats["builder-pattern"].successCount)
}

func TestObserveFailureOnIssueMention(t *testing.T) {
	s := NewSessionLearning()
	s.Observe([]string{"goroutine-leak"}, []string{"possible goroutine-leak detected in worker"}, false)
	assert.Equal(t, 1, s.stats["goroutine-leak"].failureCount)
	assert.False(t, s.working["goroutine-leak"])
}

func TestBuildHintsEmphasizeAndAvoid(t *testing.T) {
	s := NewSessionLearning()

	// Make "good-pattern" working, then accumulate 2 successes.
	s.Observe([]string{"good-pattern"}, nil, true)
	s.Observe([]string{"good-pattern"}, nil, true)
	s.Observe([]string{"good-pattern"}, nil, true)

	// Accumulate 2 failures for "bad-pattern" via issue mentions.
	s.Observe([]string{"bad-pattern"}, []string{"bad-pattern caused a regression"}, false)
	s.Observe([]string{"bad-pattern"}, []string{"bad-pattern caused a regression"}, false)

	hints := s.BuildHints(1)
	assert.Contains(t, hints.Emphasize, "good-pattern")
	assert.Contains(t, hints.Avoid, "bad-pattern")
	assert.Empty(t, hints.Simplify)
}

func TestBuildHintsSimplifyAfterAttemptTwo(t *testing.T) {
	s := NewSessionLearning()
	hints := s.BuildHints(3)
	assert.Equal(t, "try the minimal implementation that compiles, then enhance", hints.Simplify)

	hints = s.BuildHints(2)
	assert.Empty(t, hints.Simplify)
}

func TestBuildHintsCapsAtThree(t *testing.T) {
	s := NewSessionLearning()
	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		s.Observe([]string{p}, nil, true)
		s.Observe([]string{p}, nil, true)
		s.Observe([]string{p}, nil, true)
	}
	hints := s.BuildHints(1)
	assert.Len(t, hints.Emphasize, 3)
}
