// Package thinking implements the ThinkingEnsemble: it consults 1-3 models
// for guidance and risks before a generation call, grounded on the teacher's
// OrchestratorParallelExecutionAgent (fan-out-and-join over several models)
// generalized from "parallel sub-task execution" to "thinking strategy over
// a fixed model pool" (spec.md §4.3).
package thinking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/llmtypes"
)

// ErrThinkingFailed is returned by Solo when its single model call fails;
// every other strategy degrades instead of failing outright (spec.md §4.3).
var ErrThinkingFailed = fmt.Errorf("thinking strategy failed")

const (
	defaultPerCallTimeout  = 30 * time.Second
	defaultStrategyTimeout = 60 * time.Second
)

// Ensemble runs one ThinkingStrategy over a fixed pool of up to 3 models.
type Ensemble struct {
	models          []llmtypes.Model
	perCallTimeout  time.Duration
	strategyTimeout time.Duration
}

// NewEnsemble builds an Ensemble over models (ordered; strategies use a
// prefix of this slice sized to their model count).
func NewEnsemble(models []llmtypes.Model) *Ensemble {
	return &Ensemble{
		models:          models,
		perCallTimeout:  defaultPerCallTimeout,
		strategyTimeout: defaultStrategyTimeout,
	}
}

// WithTimeouts overrides the default per-call/per-strategy timeouts, mainly
// for tests.
func (e *Ensemble) WithTimeouts(perCall, strategy time.Duration) *Ensemble {
	e.perCallTimeout = perCall
	e.strategyTimeout = strategy
	return e
}

// Run executes strategy against task and attemptSummary, returning the
// consolidated ThinkingResult.
func (e *Ensemble) Run(ctx context.Context, strategy job.ThinkingStrategy, task, attemptSummary string) (job.ThinkingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.strategyTimeout)
	defer cancel()

	switch strategy {
	case job.StrategySolo:
		return e.runSolo(ctx, task, attemptSummary)
	case job.StrategyDuoDebate:
		return e.runDuoDebate(ctx, task, attemptSummary)
	case job.StrategyTrioParallel:
		return e.runTrioParallel(ctx, task, attemptSummary)
	case job.StrategyDebateRounds:
		return e.runDebateRounds(ctx, task, attemptSummary)
	case job.StrategyVote:
		return e.runVote(ctx, task, attemptSummary)
	default:
		return job.ThinkingResult{}, fmt.Errorf("thinking: unknown strategy %q", strategy)
	}
}

func (e *Ensemble) call(ctx context.Context, model llmtypes.Model, prompt string) (string, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, e.perCallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := model.GenerateContent(ctx,
		[]llmtypes.Message{
			llmtypes.SystemMessage("You are a planning assistant. Think through the approach before any code is written. Be concise."),
			llmtypes.UserMessage(prompt),
		})
	elapsed := time.Since(start)
	if err != nil {
		return "", elapsed, err
	}
	return resp.Text, elapsed, nil
}

func (e *Ensemble) modelAt(i int) (llmtypes.Model, bool) {
	if i >= len(e.models) {
		return nil, false
	}
	return e.models[i], true
}

func (e *Ensemble) runSolo(ctx context.Context, task, attemptSummary string) (job.ThinkingResult, error) {
	model, ok := e.modelAt(0)
	if !ok {
		return job.ThinkingResult{}, fmt.Errorf("%w: no model configured for solo strategy", ErrThinkingFailed)
	}
	text, dur, err := e.call(ctx, model, soloPrompt(task, attemptSummary))
	if err != nil {
		return job.ThinkingResult{}, fmt.Errorf("%w: %v", ErrThinkingFailed, err)
	}
	return job.ThinkingResult{
		Guidance:    text,
		Risks:       extractRisks(text),
		Models:      []string{model.ModelID()},
		DurationsMs: map[string]int64{model.ModelID(): dur.Milliseconds()},
	}, nil
}

func soloPrompt(task, attemptSummary string) string {
	return fmt.Sprintf("Task: %s\n\nPrior attempts: %s\n\nOutline the approach, key risks, and anything to watch for.", task, attemptSummary)
}

func extractRisks(text string) []string {
	var risks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "risk") || strings.HasPrefix(lower, "- risk") || strings.Contains(lower, "risk:") {
			risks = append(risks, line)
		}
	}
	return dedupeRisks(risks)
}

// dedupeRisks collapses risks that are equal up to case and surrounding
// whitespace (spec.md §4.3).
func dedupeRisks(risks []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range risks {
		key := strings.ToLower(strings.TrimSpace(r))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func (e *Ensemble) runDuoDebate(ctx context.Context, task, attemptSummary string) (job.ThinkingResult, error) {
	modelA, okA := e.modelAt(0)
	modelB, okB := e.modelAt(1)
	if !okA {
		return job.ThinkingResult{}, fmt.Errorf("%w: no model configured for duo debate", ErrThinkingFailed)
	}

	durations := map[string]int64{}
	var degraded bool
	var modelsUsed []string

	proposal, dur, err := e.call(ctx, modelA, soloPrompt(task, attemptSummary))
	if err != nil {
		return job.ThinkingResult{Guidance: "proposer failed; no guidance available", Degraded: true, Models: []string{modelA.ModelID()}}, nil
	}
	durations[modelA.ModelID()] = dur.Milliseconds()
	modelsUsed = append(modelsUsed, modelA.ModelID())

	if !okB {
		return job.ThinkingResult{Guidance: proposal, Risks: extractRisks(proposal), Models: modelsUsed, DurationsMs: durations, Degraded: true}, nil
	}

	critiquePrompt := fmt.Sprintf("Task: %s\n\nA colleague proposed:\n%s\n\nCritique this proposal and produce a reconciled final plan with risks.", task, proposal)
	reconciled, dur2, err := e.call(ctx, modelB, critiquePrompt)
	if err != nil {
		degraded = true
		reconciled = proposal
	} else {
		durations[modelB.ModelID()] = dur2.Milliseconds()
		modelsUsed = append(modelsUsed, modelB.ModelID())
	}

	return job.ThinkingResult{
		Guidance:    reconciled,
		Risks:       extractRisks(reconciled),
		Models:      modelsUsed,
		DurationsMs: durations,
		Degraded:    degraded,
	}, nil
}

func (e *Ensemble) runTrioParallel(ctx context.Context, task, attemptSummary string) (job.ThinkingResult, error) {
	outputs, durations, degraded := e.parallelCalls(ctx, 3, soloPrompt(task, attemptSummary))
	if len(outputs) == 0 {
		return job.ThinkingResult{Guidance: "all thinking models failed", Degraded: true}, nil
	}

	var consensus strings.Builder
	var risks []string
	var modelsUsed []string
	for id, text := range outputs {
		fmt.Fprintf(&consensus, "[%s]\n%s\n\n", id, text)
		risks = append(risks, extractRisks(text)...)
		modelsUsed = append(modelsUsed, id)
	}
	sort.Strings(modelsUsed)

	return job.ThinkingResult{
		Guidance:    consensus.String(),
		Risks:       dedupeRisks(risks),
		Models:      modelsUsed,
		DurationsMs: durations,
		Degraded:    degraded,
	}, nil
}

func (e *Ensemble) parallelCalls(ctx context.Context, n int, prompt string) (map[string]string, map[string]int64, bool) {
	if n > len(e.models) {
		n = len(e.models)
	}
	outputs := make([]string, n)
	durations := make([]time.Duration, n)
	errs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			text, dur, err := e.call(gctx, e.models[i], prompt)
			outputs[i], durations[i], errs[i] = text, dur, err
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]string)
	durationsMs := make(map[string]int64)
	degraded := false
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			degraded = true
			continue
		}
		id := e.models[i].ModelID()
		result[id] = outputs[i]
		durationsMs[id] = durations[i].Milliseconds()
	}
	return result, durationsMs, degraded
}

func (e *Ensemble) runDebateRounds(ctx context.Context, task, attemptSummary string) (job.ThinkingResult, error) {
	n := 3
	if n > len(e.models) {
		n = len(e.models)
	}
	if n == 0 {
		return job.ThinkingResult{}, fmt.Errorf("%w: no models configured for debate rounds", ErrThinkingFailed)
	}

	durations := map[string]int64{}
	var modelsUsed []string
	var degraded bool
	transcript := soloPrompt(task, attemptSummary)
	var last string

	for round := 0; round < n; round++ {
		prompt := fmt.Sprintf("%s\n\nPrior round output:\n%s\n\nRefine the plan for round %d.", transcript, last, round+1)
		text, dur, err := e.call(ctx, e.models[round], prompt)
		if err != nil {
			degraded = true
			continue
		}
		last = text
		durations[e.models[round].ModelID()] = dur.Milliseconds()
		modelsUsed = append(modelsUsed, e.models[round].ModelID())
	}

	if last == "" {
		return job.ThinkingResult{Guidance: "all debate rounds failed", Degraded: true}, nil
	}

	return job.ThinkingResult{
		Guidance:    last,
		Risks:       extractRisks(last),
		Models:      modelsUsed,
		DurationsMs: durations,
		Degraded:    degraded,
	}, nil
}

func (e *Ensemble) runVote(ctx context.Context, task, attemptSummary string) (job.ThinkingResult, error) {
	prompt := fmt.Sprintf("%s\n\nList your top 3 recommended actions, ranked, one per line, most important first.", soloPrompt(task, attemptSummary))
	outputs, durations, degraded := e.parallelCalls(ctx, 3, prompt)
	if len(outputs) == 0 {
		return job.ThinkingResult{Guidance: "all voting models failed", Degraded: true}, nil
	}

	tally := make(map[string]int)
	order := []string{}
	for _, text := range outputs {
		for rank, line := range topLines(text, 3) {
			key := strings.ToLower(strings.TrimSpace(line))
			if key == "" {
				continue
			}
			if _, seen := tally[key]; !seen {
				order = append(order, key)
			}
			tally[key] += 3 - rank
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return tally[order[i]] > tally[order[j]] })

	var guidance strings.Builder
	guidance.WriteString("Majority-ranked actions:\n")
	for i, action := range order {
		fmt.Fprintf(&guidance, "%d. %s\n", i+1, action)
	}

	var modelsUsed []string
	for id := range outputs {
		modelsUsed = append(modelsUsed, id)
	}
	sort.Strings(modelsUsed)

	return job.ThinkingResult{
		Guidance:    guidance.String(),
		Risks:       nil,
		Models:      modelsUsed,
		DurationsMs: durations,
		Degraded:    degraded,
	}, nil
}

func topLines(text string, n int) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}
