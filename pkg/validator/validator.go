// Package validator runs one or more validation backends over a Candidate
// and merges their verdicts into a single job.Validation, grounded on the
// teacher's OrchestratorValidationAgent (validation_agent.go) generalized
// from a single-LLM prompt/response agent into a weighted multi-model
// ensemble with a mandatory compile-based validator.
package validator

import (
	"context"

	"github.com/forgecore/engine/pkg/job"
)

// Validator is one source of truth about a Candidate's quality: either a
// model prompted to critique the diff, or a deterministic tool like a
// compiler.
type Validator interface {
	Name() string
	Validate(ctx context.Context, candidate job.Candidate, genCtx job.GenerationContext) (job.PerModelValidation, error)
}
