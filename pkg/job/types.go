// Package job defines the core entities of the generation orchestration
// engine: Job, Attempt, FileChange and their lifecycle, grounded on the
// teacher's planner/services job-queue schema generalized from a flat file
// processing queue to a nested job/attempt record.
package job

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// State is the job's lifecycle state. See spec.md §3 for the transition
// diagram: Queued -> Running -> {Completed|Failed|Cancelled|TimedOut}.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timedout"
)

// IsTerminal reports whether s is one of the four terminal states.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	default:
		return false
	}
}

// ThinkingStrategy names one of the ThinkingEnsemble protocols (spec.md §4.3).
type ThinkingStrategy string

const (
	StrategySolo        ThinkingStrategy = "solo"
	StrategyDuoDebate    ThinkingStrategy = "duo_debate"
	StrategyTrioParallel ThinkingStrategy = "trio_parallel"
	StrategyDebateRounds ThinkingStrategy = "debate_rounds"
	StrategyVote         ThinkingStrategy = "vote"
)

// Decision is the outcome the RetryController records for an attempt.
type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
	DecisionGiveUp   Decision = "give_up"
)

// ErrorKind is the taxonomy from spec.md §7.
type ErrorKind string

const (
	ErrInvalidRequest     ErrorKind = "invalid_request"
	ErrMaxIterations      ErrorKind = "max_iterations"
	ErrCancelled          ErrorKind = "cancelled"
	ErrTimedOut           ErrorKind = "timed_out"
	ErrModelUnavailable   ErrorKind = "model_unavailable"
	ErrValidatorUnavailable ErrorKind = "validator_unavailable"
	ErrParserError        ErrorKind = "parser_error"
	ErrInterrupted        ErrorKind = "interrupted"
	ErrInternal           ErrorKind = "internal"
)

// ChangeType is the kind of edit a FileChange represents.
type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// FileChange is a single proposed add/modify/delete of a workspace-relative
// path. Round-trip serialization must be byte-identical (spec.md §8 property 10).
type FileChange struct {
	Path       string     `json:"path"`
	Content    string     `json:"content"`
	ChangeType ChangeType `json:"change_type"`
	Reason     string     `json:"reason,omitempty"`
}

// NormalizePath converts backslashes to forward slashes and rejects any
// ".." traversal segment, per spec.md §3 FileChange invariants.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q escapes the workspace", p)
		}
	}
	return p, nil
}

// Candidate is the file set produced by one generation call, before validation.
type Candidate struct {
	Files      []FileChange `json:"files"`
	RawOutput  string       `json:"raw_output"`
	TokensUsed int          `json:"tokens_used"`
}

// Issue is a validator-reported defect (spec.md §6 Validator contract).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

type Issue struct {
	Severity      Severity `json:"severity"`
	Kind          string   `json:"kind"`
	Message       string   `json:"message"`
	FilePath      string   `json:"file_path,omitempty"`
	LineNumber    int      `json:"line_number,omitempty"`
	AgreementCount int     `json:"agreement_count,omitempty"`
}

// PerModelValidation is one validator model's contribution to the ensemble.
type PerModelValidation struct {
	Model      string  `json:"model"`
	Score      int     `json:"score"`
	Issues     []Issue `json:"issues"`
	DurationMs int64   `json:"duration_ms"`
}

// Validation is the ValidationEnsemble's merged verdict for one attempt.
type Validation struct {
	Score      int                   `json:"score"`
	Passed     bool                  `json:"passed"`
	Issues     []Issue               `json:"issues"`
	ModelsUsed []string              `json:"models_used"`
	Confidence float64               `json:"confidence"`
	PerModel   []PerModelValidation  `json:"per_model"`
	CompileOk  bool                  `json:"compile_ok"`
}

// ThinkingResult is the ThinkingEnsemble's consolidated guidance.
type ThinkingResult struct {
	Guidance  string        `json:"guidance"`
	Risks     []string      `json:"risks"`
	Models    []string      `json:"models"`
	Degraded  bool          `json:"degraded"`
	DurationsMs map[string]int64 `json:"durations_ms"`
}

// Attempt is one iteration of Thinking -> Generation -> Validation -> Decision.
// Once appended to Job.Attempts it is immutable (spec.md §3 Ownership).
type Attempt struct {
	Index            int              `json:"index"`
	ThinkingStrategy  ThinkingStrategy `json:"thinking_strategy"`
	ThinkingResult    ThinkingResult   `json:"thinking_result"`
	GenerationModel   string           `json:"generation_model"`
	Candidate         Candidate        `json:"candidate"`
	Validation        Validation       `json:"validation"`
	DurationMs        int64            `json:"duration_ms"`
	Decision          Decision         `json:"decision"`
}

// JobResult is set iff the job reaches StateCompleted.
type JobResult struct {
	Files          []FileChange `json:"files"`
	Score          int          `json:"score"`
	AttemptIndex   int          `json:"attempt_index"`
}

// JobError is set iff the job reaches StateFailed, StateTimedOut or
// StateCancelled.
type JobError struct {
	Kind          ErrorKind  `json:"kind"`
	Message       string     `json:"message"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	PartialResult *JobResult `json:"partial_result,omitempty"`
}

// GenerationContext is the accumulated per-job context handed to the prompt
// builder on each attempt (spec.md §3).
type GenerationContext struct {
	WorkspacePath     string                `json:"workspace_path"`
	CodebaseSummary   CodebaseSummary       `json:"codebase_summary"`
	ExistingFiles     map[string]FileChange `json:"existing_files"`
	ScaffoldManifest  *ScaffoldManifest     `json:"scaffold_manifest,omitempty"`
}

// CodebaseSummary is produced by the external WorkspaceInspector.
type CodebaseSummary struct {
	FileCount         int      `json:"file_count"`
	TopDirectories    []string `json:"top_directories"`
	DetectedLanguages []string `json:"detected_languages"`
	HasSourceFiles    bool     `json:"has_source_files"`
}

// ScaffoldManifest is produced by the Scaffolder (spec.md §4.8).
type ScaffoldFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	IsKey   bool   `json:"is_key"`
}

type ScaffoldManifest struct {
	ProjectType string         `json:"project_type"`
	Files       []ScaffoldFile `json:"files"`
}

// Job is the top-level generation request and its lifecycle record.
type Job struct {
	ID            string       `json:"id"`
	Task          string       `json:"task"`
	Language      string       `json:"language"`
	WorkspacePath string       `json:"workspace_path"`
	Context       string       `json:"context"`
	MaxIterations int          `json:"max_iterations"`
	MinScore      int          `json:"min_score"`
	State         State        `json:"state"`
	Progress      int          `json:"progress"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Attempts      []Attempt    `json:"attempts"`
	Result        *JobResult   `json:"result,omitempty"`
	Error         *JobError    `json:"error,omitempty"`
}

var contextSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveContext implements spec.md §6's context derivation: lowercase the
// basename of workspacePath and strip everything non-alphanumeric.
func DeriveContext(workspacePath string) string {
	base := workspacePath
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	return contextSanitizer.ReplaceAllString(strings.ToLower(base), "")
}

// NewID produces a job_<yyyyMMddHHmmss>_<32-hex-nonce> identifier, sortable
// by creation time, per spec.md §6.
func NewID(now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate job id nonce: %w", err)
	}
	return fmt.Sprintf("job_%s_%s", now.UTC().Format("20060102150405"), hex.EncodeToString(nonce)), nil
}
