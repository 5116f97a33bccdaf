// Package jobevents is the progress-event pub/sub for a running job,
// grounded on the teacher's internal/events.EventStore + ObserverManager
// (per-observer buffered channel, drop-oldest-on-overflow) generalized from
// "observer of an agent conversation" to "subscriber of a job's progress".
package jobevents

import "time"

// Type enumerates the event kinds from spec.md §4.1/§6.
type Type string

const (
	TypeProgress   Type = "progress"
	TypeThinking   Type = "thinking"
	TypeCoding     Type = "coding"
	TypeValidation Type = "validation"
	TypeError      Type = "error"
	TypeCompleted  Type = "completed"
)

// Event is one progress notification for a single job.
type Event struct {
	JobID         string    `json:"job_id"`
	Type          Type      `json:"type"`
	Message       string    `json:"message"`
	Progress      int       `json:"progress,omitempty"`
	Score         *int      `json:"score,omitempty"`
	AttemptIndex  *int      `json:"attempt_index,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// WithScore returns a copy of e with Score set, used by call sites that only
// know the score after validation runs.
func (e Event) WithScore(score int) Event {
	e.Score = &score
	return e
}

// WithAttempt returns a copy of e with AttemptIndex set.
func (e Event) WithAttempt(idx int) Event {
	e.AttemptIndex = &idx
	return e
}
