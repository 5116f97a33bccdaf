package job

import (
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned by transition helpers when a caller tries to
// start a job that is not Queued (spec.md §4.1 "AlreadyRunning").
var ErrAlreadyRunning = fmt.Errorf("job is already running or terminal")

// Start transitions Queued -> Running. It is the only legal entry into Running.
func (j *Job) Start(now time.Time) error {
	if j.State != StateQueued {
		return ErrAlreadyRunning
	}
	j.State = StateRunning
	j.StartedAt = &now
	return nil
}

// complete is the single place every terminal transition funnels through, so
// "progress = 100 once terminal" (spec.md §8 property 2) can never be missed.
func (j *Job) complete(state State, now time.Time) {
	j.State = state
	j.Progress = 100
	j.CompletedAt = &now
}

// Complete transitions Running -> Completed with the accepted result.
func (j *Job) Complete(result JobResult, now time.Time) {
	j.Result = &result
	j.complete(StateCompleted, now)
}

// Fail transitions Running -> Failed with the given error.
func (j *Job) Fail(jobErr JobError, now time.Time) {
	j.Error = &jobErr
	j.complete(StateFailed, now)
}

// TimeOut transitions Running -> TimedOut.
func (j *Job) TimeOut(jobErr JobError, now time.Time) {
	j.Error = &jobErr
	j.complete(StateTimedOut, now)
}

// Cancel transitions Running or Queued -> Cancelled. Idempotent: calling it
// on an already-terminal job is a no-op success (spec.md §8 property 1/6).
func (j *Job) Cancel(now time.Time) {
	if j.State.IsTerminal() {
		return
	}
	j.Error = &JobError{Kind: ErrCancelled, Message: "cancelled by caller"}
	j.complete(StateCancelled, now)
}

// SetProgress enforces monotonic non-decreasing progress in [0,100] (spec.md
// §8 property 2). Out-of-range or backward updates are clamped, not rejected,
// since progress is advisory telemetry, not a correctness gate.
func (j *Job) SetProgress(p int) {
	if p < j.Progress {
		return
	}
	if p > 100 {
		p = 100
	}
	j.Progress = p
}

// AppendAttempt appends to the append-only Attempts slice (spec.md §3).
func (j *Job) AppendAttempt(a Attempt) {
	j.Attempts = append(j.Attempts, a)
}

// BestAttempt returns the highest-scoring attempt, preferring the later one
// on a tie (spec.md §4.2 tie-break rule for partial results).
func BestAttempt(attempts []Attempt) (Attempt, bool) {
	var best Attempt
	found := false
	for _, a := range attempts {
		if !found || a.Validation.Score >= best.Validation.Score {
			best = a
			found = true
		}
	}
	return best, found
}
