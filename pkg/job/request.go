package job

import (
	"fmt"
	"time"
)

// CreateRequest is the input to JobManager.Create (spec.md §4.1).
type CreateRequest struct {
	Task          string
	Language      string
	WorkspacePath string
	MaxIterations int
	MinScore      int
}

// ValidationError reports a field that failed CreateRequest validation; the
// JobManager's Create returns it to the caller as is and creates no job.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const maxTaskBytes = 32 * 1024

// Validate checks req against the invariants in spec.md §3/§6 and fills in
// default MaxIterations/MinScore/Language when the caller left them zero.
func (req *CreateRequest) Validate(defaultMaxIterations, defaultMinScore int) error {
	if req.WorkspacePath == "" {
		return &ValidationError{Field: "workspacePath", Message: "is required"}
	}
	if len(req.Task) > maxTaskBytes {
		return &ValidationError{Field: "task", Message: "exceeds 32 KiB"}
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = defaultMaxIterations
	}
	if req.MaxIterations <= 0 {
		return &ValidationError{Field: "maxIterations", Message: "must be positive"}
	}
	if req.MinScore == 0 {
		req.MinScore = defaultMinScore
	}
	if req.MinScore < 0 || req.MinScore > 10 {
		return &ValidationError{Field: "minScore", Message: "must be in [0,10]"}
	}
	if req.Language == "" {
		req.Language = "auto"
	}
	if DeriveContext(req.WorkspacePath) == "" {
		return &ValidationError{Field: "workspacePath", Message: "derives an empty context"}
	}
	return nil
}

// NewJob constructs a Queued job from a validated request.
func NewJob(id string, req CreateRequest, now time.Time) *Job {
	return &Job{
		ID:            id,
		Task:          req.Task,
		Language:      req.Language,
		WorkspacePath: req.WorkspacePath,
		Context:       DeriveContext(req.WorkspacePath),
		MaxIterations: req.MaxIterations,
		MinScore:      req.MinScore,
		State:         StateQueued,
		Progress:      0,
		CreatedAt:     now,
		Attempts:      []Attempt{},
	}
}
