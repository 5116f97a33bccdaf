package validator

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/forgecore/engine/pkg/job"
)

// DefaultWeights is the 5-model weighting from spec.md §4.4, applied (and
// renormalized) to however many models an iteration actually uses.
var DefaultWeights = []float64{0.20, 0.25, 0.20, 0.20, 0.15}

// Ensemble runs a CompileValidator plus up to len(models) model validators
// concurrently and merges their verdicts, grounded on the teacher's
// validation agent generalized from "one LLM review" to "weighted
// multi-model review with a mandatory deterministic gate" (spec.md §4.4).
type Ensemble struct {
	compile *CompileValidator
	models  []*ModelValidator
	weights []float64
}

// NewEnsemble builds an Ensemble over the full model pool (up to 5, per
// spec.md's iteration bands); weights defaults to DefaultWeights, truncated
// or padded evenly to len(models).
func NewEnsemble(compile *CompileValidator, models []*ModelValidator, weights []float64) (*Ensemble, error) {
	if weights == nil {
		weights = renormalize(DefaultWeights, len(models))
	}
	if len(weights) != len(models) {
		return nil, fmt.Errorf("validator ensemble: expected %d weights, got %d", len(models), len(weights))
	}
	return &Ensemble{compile: compile, models: models, weights: weights}, nil
}

// renormalize takes the first n weights (or repeats the last one if n
// exceeds the table) and rescales them to sum to 1.
func renormalize(base []float64, n int) []float64 {
	if n == 0 {
		return nil
	}
	out := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		w := base[len(base)-1]
		if i < len(base) {
			w = base[i]
		}
		out[i] = w
		sum += w
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ActiveModelCount implements spec.md §4.4's per-iteration model band: 2
// models for i=1-2, 3 for i=3-4, up to 5 for i=5+.
func ActiveModelCount(attemptIndex, poolSize int) int {
	n := 2
	switch {
	case attemptIndex >= 5:
		n = 5
	case attemptIndex >= 3:
		n = 3
	}
	if n > poolSize {
		n = poolSize
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Validate runs the compile validator plus the first activeModels model
// validators concurrently and merges the result against minScore.
func (e *Ensemble) Validate(ctx context.Context, candidate job.Candidate, genCtx job.GenerationContext, activeModels, minScore int) (job.Validation, error) {
	if activeModels > len(e.models) {
		activeModels = len(e.models)
	}
	models := e.models[:activeModels]
	weights := renormalize(e.weights[:activeModels], activeModels)

	modelResults := make([]job.PerModelValidation, len(models))
	modelErrs := make([]error, len(models))
	var compileResult job.PerModelValidation
	var compileErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		compileResult, compileErr = e.compile.Validate(gctx, candidate, genCtx)
		return nil
	})
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			modelResults[i], modelErrs[i] = m.Validate(gctx, candidate, genCtx)
			return nil
		})
	}
	_ = g.Wait()

	return merge(compileResult, compileErr, modelResults, modelErrs, weights, minScore), nil
}

func merge(compileResult job.PerModelValidation, compileErr error, results []job.PerModelValidation, errs []error, weights []float64, minScore int) job.Validation {
	var weightedSum, weightTotal float64
	var scores []float64
	var modelsUsed []string
	var allIssues []job.Issue
	perModel := []job.PerModelValidation{}

	for i, r := range results {
		if errs[i] != nil {
			continue
		}
		weightedSum += float64(r.Score) * weights[i]
		weightTotal += weights[i]
		scores = append(scores, float64(r.Score))
		modelsUsed = append(modelsUsed, r.Model)
		allIssues = append(allIssues, r.Issues...)
		perModel = append(perModel, r)
	}

	allModelsFailed := weightTotal == 0
	compileOk := compileErr == nil && compileResult.Score > 0

	score := 0
	if weightTotal > 0 {
		score = int(math.Round(weightedSum / weightTotal))
	}

	if allModelsFailed {
		allIssues = append(allIssues, job.Issue{
			Severity: job.SeverityCritical,
			Kind:     "validator_unavailable",
			Message:  "all validator models failed",
		})
	}

	// A failed compile forces score to 0 regardless of model opinions
	// (spec.md §4.4: "If the build fails, score = 0 ... early-exit path").
	if compileErr == nil {
		allIssues = append(allIssues, compileResult.Issues...)
		if !compileOk {
			score = 0
		}
	}

	dedup := dedupeIssues(allIssues)
	confidence := confidenceFromScores(scores)
	if allModelsFailed {
		confidence = 0
	}

	hasCritical := false
	for _, iss := range dedup {
		if iss.Severity == job.SeverityCritical {
			hasCritical = true
			break
		}
	}

	return job.Validation{
		Score:      score,
		Passed:     !allModelsFailed && compileOk && score >= minScore && !hasCritical,
		Issues:     dedup,
		ModelsUsed: modelsUsed,
		Confidence: confidence,
		PerModel:   perModel,
		CompileOk:  compileOk,
	}
}

// dedupeIssues collapses issues reported at the same (file, line±2, kind),
// keeping the highest severity and bumping AgreementCount (spec.md §4.4).
func dedupeIssues(issues []job.Issue) []job.Issue {
	var out []job.Issue
	for _, iss := range issues {
		matched := false
		for i := range out {
			if sameIssue(out[i], iss) {
				if severityRank(iss.Severity) > severityRank(out[i].Severity) {
					out[i].Severity = iss.Severity
				}
				out[i].AgreementCount++
				matched = true
				break
			}
		}
		if !matched {
			iss.AgreementCount = 1
			out = append(out, iss)
		}
	}
	return out
}

func sameIssue(a, b job.Issue) bool {
	if !strings.EqualFold(a.Kind, b.Kind) {
		return false
	}
	if a.FilePath != b.FilePath {
		return false
	}
	delta := a.LineNumber - b.LineNumber
	if delta < 0 {
		delta = -delta
	}
	return delta <= 2
}

func severityRank(s job.Severity) int {
	switch s {
	case job.SeverityCritical:
		return 4
	case job.SeverityHigh:
		return 3
	case job.SeverityMedium:
		return 2
	case job.SeverityLow:
		return 1
	default:
		return 0
	}
}

// confidenceFromScores maps the models' score spread to [0,1]: tight
// agreement (low stdDev) yields high confidence, wide disagreement yields
// low confidence. A single model is full confidence (spec.md §4.4).
func confidenceFromScores(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	if len(scores) == 1 {
		return 1
	}
	var mean float64
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))
	stdDev := math.Sqrt(variance)

	confidence := 1 - stdDev/5
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
