// Package retry implements the RetryController: the Thinking -> Generate ->
// Validate -> Decide loop that drives one job from Running to a terminal
// state, grounded on the teacher's OrchestratorAgent.Run main loop
// (pkg/orchestrator/agent.go) generalized from "one conversation turn" to
// "one escalating code-generation attempt" (spec.md §4.1/§4.2).
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forgecore/engine/internal/config"
	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/escalator"
	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/jobevents"
	"github.com/forgecore/engine/pkg/learner"
	"github.com/forgecore/engine/pkg/llmtypes"
	"github.com/forgecore/engine/pkg/memory"
	"github.com/forgecore/engine/pkg/scaffold"
	"github.com/forgecore/engine/pkg/thinking"
	"github.com/forgecore/engine/pkg/validator"
	"github.com/forgecore/engine/pkg/workspace"
)

// ModelResolver resolves an escalation ladder tier to a live model, letting
// the controller stay agnostic of provider wiring (internal/config ->
// llmrunner.New in production, a fake in tests).
type ModelResolver func(ctx context.Context, tier config.LadderTier) (llmtypes.Model, error)

// Controller owns one job end-to-end. It holds no per-job state itself —
// that all lives on the job.Job and the History/SessionLearning values
// RunJob constructs fresh for each call — so one Controller is safe to
// reuse across concurrently running jobs.
type Controller struct {
	cfg            *config.EngineConfig
	thinking       *thinking.Ensemble
	validators     *validator.Ensemble
	resolveModel   ModelResolver
	inspector      *workspace.Inspector
	executor       scaffold.TemplateExecutor
	memoryStore    memory.Store
	bus            *jobevents.Bus
	log            logging.ExtendedLogger
	validatorCount int
}

// New builds a Controller. validatorPoolSize is the number of models the
// ValidationEnsemble was constructed with (needed to compute
// validator.ActiveModelCount's upper bound).
func New(cfg *config.EngineConfig, thinkingEnsemble *thinking.Ensemble, validators *validator.Ensemble, validatorPoolSize int, resolveModel ModelResolver, inspector *workspace.Inspector, executor scaffold.TemplateExecutor, memoryStore memory.Store, bus *jobevents.Bus, log logging.ExtendedLogger) *Controller {
	return &Controller{
		cfg:            cfg,
		thinking:       thinkingEnsemble,
		validators:     validators,
		resolveModel:   resolveModel,
		inspector:      inspector,
		executor:       executor,
		memoryStore:    memoryStore,
		bus:            bus,
		log:            log,
		validatorCount: validatorPoolSize,
	}
}

// thinkingBands maps an attempt-index band to the ThinkingEnsemble strategy
// it runs under, strengthening as attempts accumulate (spec.md §4.3).
var thinkingBands = []job.ThinkingStrategy{
	job.StrategySolo,
	job.StrategyDuoDebate,
	job.StrategyTrioParallel,
	job.StrategyDebateRounds,
	job.StrategyVote,
}

func thinkingStrategyForAttempt(attemptIndex int) job.ThinkingStrategy {
	band := tierBand(attemptIndex)
	return thinkingBands[band]
}

// tierBand mirrors escalator's attempt-index banding (1-2,3-4,5-6,7-8,9+)
// so the thinking strategy escalates in lockstep with the model tier.
func tierBand(attemptIndex int) int {
	if attemptIndex < 1 {
		attemptIndex = 1
	}
	band := (attemptIndex - 1) / 2
	if band > len(thinkingBands)-1 {
		band = len(thinkingBands) - 1
	}
	return band
}

// strongerStrategy returns the next strategy up from s, used to bias the
// following iteration after a "passed but low confidence" tie-break
// (spec.md §4.2).
func strongerStrategy(s job.ThinkingStrategy) job.ThinkingStrategy {
	for i, band := range thinkingBands {
		if band == s && i < len(thinkingBands)-1 {
			return thinkingBands[i+1]
		}
	}
	return s
}

// RunJob drives j from Running to a terminal state. The caller is expected
// to have already called j.Start; RunJob publishes progress/thinking/
// coding/validation/completed events to bus as it goes and leaves j's
// Result/Error set on return regardless of outcome.
func (c *Controller) RunJob(ctx context.Context, j *job.Job) error {
	now := time.Now
	c.log.WithField("job_id", j.ID).Infof("starting job: %s", j.Task)

	if c.checkDone(ctx, j, now()) {
		return nil
	}

	summary, err := c.inspector.Summarize(ctx, j.WorkspacePath)
	if err != nil {
		c.failInternal(j, fmt.Errorf("workspace introspection: %w", err), now())
		return nil
	}

	genCtx := job.GenerationContext{WorkspacePath: j.WorkspacePath, CodebaseSummary: summary, ExistingFiles: map[string]job.FileChange{}}

	if scaffold.ShouldScaffold(j.Task, !summary.HasSourceFiles && summary.FileCount == 0) {
		projectType := scaffold.InferProjectType(j.Task)
		tempDir, err := scaffoldTempDir(j.ID)
		if err != nil {
			c.failInternal(j, fmt.Errorf("scaffold: %w", err), now())
			return nil
		}
		manifest, err := c.executor.Scaffold(ctx, projectType, tempDir)
		if err != nil {
			c.failInternal(j, fmt.Errorf("scaffold: %w", err), now())
			return nil
		}
		genCtx.ScaffoldManifest = &manifest
		for _, f := range manifest.Files {
			genCtx.ExistingFiles[f.Path] = job.FileChange{Path: f.Path, Content: f.Content, ChangeType: job.ChangeAdd}
		}
	}

	hist := escalator.NewHistory()
	sessionLearning := learner.NewSessionLearning()
	strategyOverride := job.ThinkingStrategy("")
	signature := ""
	var unresolvedIssues []job.Issue

	for attemptIndex := 1; attemptIndex <= j.MaxIterations; attemptIndex++ {
		if c.checkDone(ctx, j, now()) {
			return nil
		}

		strategy := thinkingStrategyForAttempt(attemptIndex)
		if strategyOverride != "" {
			strategy = strategyOverride
			strategyOverride = ""
		}

		c.publish(j.ID, jobevents.TypeThinking, fmt.Sprintf("attempt %d: thinking (%s)", attemptIndex, strategy), attemptIndex)
		attemptSummary := buildAttemptSummary(unresolvedIssues)
		thinkingResult, err := c.thinking.Run(ctx, strategy, j.Task, attemptSummary)
		if err != nil {
			c.failInternal(j, fmt.Errorf("thinking attempt %d: %w", attemptIndex, err), now())
			return nil
		}

		tier, tierIdx := escalator.Select(attemptIndex, signature, hist, c.cfg)
		model, err := c.resolveModel(ctx, tier)
		if err != nil {
			c.failUnavailable(j, fmt.Errorf("resolving model for tier %d: %w", tierIdx, err), now())
			return nil
		}

		prompt, err := buildPrompt(j, genCtx, thinkingResult.Guidance, thinkingResult.Risks, sessionLearning.BuildHints(attemptIndex), unresolvedIssues)
		if err != nil {
			c.failInternal(j, fmt.Errorf("building prompt: %w", err), now())
			return nil
		}

		c.publish(j.ID, jobevents.TypeCoding, fmt.Sprintf("attempt %d: generating with %s", attemptIndex, model.ModelID()), attemptIndex)
		start := time.Now()
		resp, err := model.GenerateContent(ctx, []llmtypes.Message{
			llmtypes.SystemMessage("You are a senior software engineer generating production code. Respond with JSON only."),
			llmtypes.UserMessage(prompt),
		}, llmtypes.WithJSONMode())
		attemptDuration := time.Since(start)

		var attempt job.Attempt
		attempt.Index = attemptIndex
		attempt.ThinkingStrategy = strategy
		attempt.ThinkingResult = thinkingResult
		attempt.GenerationModel = model.ModelID()
		attempt.DurationMs = attemptDuration.Milliseconds()

		if err != nil {
			attempt.Candidate = job.Candidate{RawOutput: ""}
			attempt.Validation = job.Validation{Issues: []job.Issue{{Severity: job.SeverityCritical, Kind: "model_unavailable", Message: err.Error()}}}
			attempt.Decision = c.decideAfterFailure(j, attemptIndex)
			j.AppendAttempt(attempt)
			if attempt.Decision == job.DecisionGiveUp {
				c.giveUp(j, now())
				return nil
			}
			signature = "unclassified"
			unresolvedIssues = attempt.Validation.Issues
			continue
		}

		changes, perr := parseGeneration(resp.Text)
		if perr != nil {
			issue := job.Issue{Severity: job.SeverityHigh, Kind: "parser_error", Message: perr.Error()}
			attempt.Candidate = job.Candidate{RawOutput: resp.Text, TokensUsed: resp.Usage.TotalTokens}
			attempt.Validation = job.Validation{Issues: []job.Issue{issue}}
			attempt.Decision = c.decideAfterFailure(j, attemptIndex)
			j.AppendAttempt(attempt)
			if attempt.Decision == job.DecisionGiveUp {
				c.giveUp(j, now())
				return nil
			}
			signature = escalator.ErrorSignature(perr.Error())
			hist.Record(tierIdx, signature)
			unresolvedIssues = []job.Issue{issue}
			continue
		}

		merged := mergeFiles(genCtx.ExistingFiles, changes)
		snapshot := filesSnapshot(merged)
		candidate := job.Candidate{Files: snapshot, RawOutput: resp.Text, TokensUsed: resp.Usage.TotalTokens}

		activeModels := validator.ActiveModelCount(attemptIndex, c.validatorCount)
		validation, verr := c.validators.Validate(ctx, candidate, genCtx, activeModels, j.MinScore)
		if verr != nil {
			c.failInternal(j, fmt.Errorf("validation attempt %d: %w", attemptIndex, verr), now())
			return nil
		}

		c.publish(j.ID, jobevents.TypeValidation, fmt.Sprintf("attempt %d: validated", attemptIndex), attemptIndex)

		// Commit the candidate into existingFiles regardless of verdict, so a
		// failed attempt's code is still there for the next attempt to fix
		// incrementally rather than starting over (spec.md §4.2 step i).
		genCtx.ExistingFiles = merged

		detected := detectPatterns(changes)
		sessionLearning.Observe(detected, issueTexts(validation.Issues), validation.Passed)

		attempt.Candidate = candidate
		attempt.Validation = validation

		switch {
		case validation.Passed && validation.Confidence >= c.cfg.ConfidenceThreshold:
			attempt.Decision = job.DecisionAccept
			j.AppendAttempt(attempt)
			c.accept(j, snapshot, validation.Score, attemptIndex, now())
			return nil

		case validation.Passed:
			// Passed but under-confident: keep going rather than settle,
			// and push the next attempt toward a stronger thinking strategy
			// (spec.md §4.2 tie-break rule). On the last attempt the job
			// gives up instead of accepting.
			if attemptIndex == j.MaxIterations {
				attempt.Decision = job.DecisionGiveUp
				j.AppendAttempt(attempt)
				c.giveUp(j, now())
				return nil
			}
			attempt.Decision = job.DecisionRetry
			strategyOverride = strongerStrategy(strategy)

		case attemptIndex == j.MaxIterations:
			attempt.Decision = job.DecisionGiveUp
			j.AppendAttempt(attempt)
			c.giveUp(j, now())
			return nil

		default:
			attempt.Decision = job.DecisionRetry
		}

		j.AppendAttempt(attempt)
		signature = dominantSignature(validation.Issues)
		hist.Record(tierIdx, signature)
		unresolvedIssues = validation.Issues
	}

	c.giveUp(j, now())
	return nil
}

// checkDone reports whether ctx has already been cancelled/timed out and,
// if so, finalizes j accordingly.
func (c *Controller) checkDone(ctx context.Context, j *job.Job, now time.Time) bool {
	select {
	case <-ctx.Done():
		best, _ := job.BestAttempt(j.Attempts)
		var partial *job.JobResult
		if len(j.Attempts) > 0 {
			partial = &job.JobResult{Files: best.Candidate.Files, Score: best.Validation.Score, AttemptIndex: best.Index}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			j.TimeOut(job.JobError{Kind: job.ErrTimedOut, Message: "job deadline exceeded", PartialResult: partial}, now)
			c.recordFailureMemory(j)
			c.publish(j.ID, jobevents.TypeError, "job timed out", len(j.Attempts))
			c.closeJob(j.ID)
			return true
		}
		j.Cancel(now)
		if j.Error != nil {
			j.Error.PartialResult = partial
		}
		c.recordFailureMemory(j)
		c.publish(j.ID, jobevents.TypeError, "job cancelled", len(j.Attempts))
		c.closeJob(j.ID)
		return true
	default:
		return false
	}
}

func (c *Controller) accept(j *job.Job, files []job.FileChange, score, attemptIndex int, now time.Time) {
	j.Complete(job.JobResult{Files: files, Score: score, AttemptIndex: attemptIndex}, now)
	c.log.WithField("job_id", j.ID).Infof("job completed at attempt %d with score %d", attemptIndex, score)
	c.publish(j.ID, jobevents.TypeCompleted, "job completed", attemptIndex)
	if c.memoryStore != nil {
		patterns := make([]string, 0, len(j.Attempts))
		for _, a := range j.Attempts {
			patterns = append(patterns, string(a.ThinkingStrategy))
		}
		_ = c.memoryStore.RecordSuccess(context.Background(), j.Context, fmt.Sprintf("completed %q in %d attempts at score %d", j.Task, attemptIndex, score), patterns)
	}
	c.closeJob(j.ID)
}

func (c *Controller) giveUp(j *job.Job, now time.Time) {
	best, ok := job.BestAttempt(j.Attempts)
	var partial *job.JobResult
	if ok {
		partial = &job.JobResult{Files: best.Candidate.Files, Score: best.Validation.Score, AttemptIndex: best.Index}
	}
	j.Fail(job.JobError{Kind: job.ErrMaxIterations, Message: "exhausted max iterations without reaching minimum score", PartialResult: partial}, now)
	c.publish(j.ID, jobevents.TypeError, "job gave up after exhausting attempts", len(j.Attempts))
	c.recordFailureMemory(j)
	c.closeJob(j.ID)
}

func (c *Controller) failInternal(j *job.Job, err error, now time.Time) {
	j.Fail(job.JobError{Kind: job.ErrInternal, Message: err.Error()}, now)
	c.publish(j.ID, jobevents.TypeError, err.Error(), len(j.Attempts))
	c.recordFailureMemory(j)
	c.closeJob(j.ID)
}

func (c *Controller) failUnavailable(j *job.Job, err error, now time.Time) {
	j.Fail(job.JobError{Kind: job.ErrModelUnavailable, Message: err.Error()}, now)
	c.publish(j.ID, jobevents.TypeError, err.Error(), len(j.Attempts))
	c.recordFailureMemory(j)
	c.closeJob(j.ID)
}

func (c *Controller) recordFailureMemory(j *job.Job) {
	if c.memoryStore == nil {
		return
	}
	sig := "unclassified"
	if j.Error != nil {
		sig = string(j.Error.Kind)
	}
	_ = c.memoryStore.RecordFailure(context.Background(), j.Context, sig, len(j.Attempts))
}

func (c *Controller) publish(jobID string, typ jobevents.Type, message string, attemptIndex int) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(jobevents.Event{JobID: jobID, Type: typ, Message: message}.WithAttempt(attemptIndex))
}

// decideAfterFailure reports GiveUp once the attempt budget is spent,
// otherwise Retry — used for the transport-level failure paths (model
// unavailable, parse failure) that never reach the validator.
func (c *Controller) decideAfterFailure(j *job.Job, attemptIndex int) job.Decision {
	if attemptIndex >= j.MaxIterations {
		return job.DecisionGiveUp
	}
	return job.DecisionRetry
}

// buildAttemptSummary turns the previous attempt's unresolved issues into
// the short natural-language context the ThinkingEnsemble prompt expects.
func buildAttemptSummary(issues []job.Issue) string {
	if len(issues) == 0 {
		return ""
	}
	texts := issueTexts(issues)
	return "Previous attempt's unresolved issues: " + strings.Join(texts, "; ")
}

func issueTexts(issues []job.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, iss := range issues {
		out = append(out, iss.Kind+": "+iss.Message)
	}
	return out
}

// dominantSignature picks the escalator signature for the next tier
// decision: the signature of the highest-severity issue, since that is the
// one most likely to recur and drive an early jump.
func dominantSignature(issues []job.Issue) string {
	var worst job.Issue
	found := false
	for _, iss := range issues {
		if !found || severityWeight(iss.Severity) > severityWeight(worst.Severity) {
			worst = iss
			found = true
		}
	}
	if !found {
		return "unclassified"
	}
	return escalator.ErrorSignature(worst.Kind + " " + worst.Message)
}

func severityWeight(s job.Severity) int {
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

// detectPatterns is a deliberately simple stand-in for real pattern
// extraction (out of scope; spec.md §1 treats pattern detection as an
// external concern). It scans changed file paths/content for a handful of
// recognizable idioms so SessionLearning has something concrete to track
// emphasize/avoid hints against.
var patternKeywords = map[string]string{
	"_test.go":       "unit_tests",
	"goroutine":       "concurrency",
	"sync.":           "concurrency",
	"http.Handler":    "http_handler",
	"context.Context": "context_propagation",
	"interface{":      "interface_design",
	"errors.New":      "error_handling",
	"fmt.Errorf":      "error_handling",
}

func detectPatterns(changes []job.FileChange) []string {
	seen := make(map[string]bool)
	for _, c := range changes {
		for needle, pattern := range patternKeywords {
			if strings.Contains(c.Path, needle) || strings.Contains(c.Content, needle) {
				seen[pattern] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

func (c *Controller) closeJob(jobID string) {
	if c.bus == nil {
		return
	}
	c.bus.CloseJob(jobID)
}
