package router

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ToolHandler is one explicitly registered tool the Router can dispatch a
// step to. Per spec.md's REDESIGN FLAGS, the tool set is a fixed registry
// built at startup, not discovered via runtime reflection.
type ToolHandler interface {
	Name() string
	Call(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// BackgroundCreator lets a slow step be promoted to a background job
// instead of awaited in-line (spec.md §4.7 step 3). JobManager implements
// this; the Router only depends on the interface.
type BackgroundCreator interface {
	CreateAndEnqueue(ctx context.Context, tool string, args map[string]interface{}) (jobID string, err error)
}

// Registry is the Router's fixed tool table.
type Registry struct {
	handlers map[string]catalogEntry
}

// NewRegistry builds an empty registry; Register adds to it explicitly.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]catalogEntry)}
}

// Register adds handler under its own Name(), with tool as the schema
// reported by tools/list.
func (r *Registry) Register(handler ToolHandler, tool toolSchema) {
	r.handlers[handler.Name()] = catalogEntry{handler: handler, tool: tool.toMCP()}
}

func (r *Registry) lookup(name string) (ToolHandler, bool) {
	entry, ok := r.handlers[name]
	if !ok {
		return nil, false
	}
	return entry.handler, true
}

// Dispatcher runs a WorkflowPlan's steps: independent steps run
// concurrently, a step with dependsOn waits for every dependency to finish
// first, and slow steps per ShouldRunInBackground are hard-gated through
// background instead of awaited in-line.
type Dispatcher struct {
	registry    *Registry
	background  BackgroundCreator
	stepTimeout time.Duration
}

// NewDispatcher builds a Dispatcher over registry, promoting slow steps to
// background jobs via background.
func NewDispatcher(registry *Registry, background BackgroundCreator) *Dispatcher {
	return &Dispatcher{registry: registry, background: background, stepTimeout: defaultStepTimeoutSeconds * time.Second}
}

// WithStepTimeout overrides the per-step await bound, mainly for tests.
func (d *Dispatcher) WithStepTimeout(timeout time.Duration) *Dispatcher {
	d.stepTimeout = timeout
	return d
}

// Dispatch runs plan to completion and returns results in plan order. A
// failed step never cancels unrelated concurrent steps; any step that
// depends (directly or transitively) on a failed/skipped step is itself
// marked Skipped rather than run (spec.md §4.7 failure semantics).
func (d *Dispatcher) Dispatch(ctx context.Context, plan WorkflowPlan) []StepResult {
	results := make(map[string]StepResult, len(plan.Steps))
	var mu sync.Mutex
	done := make(map[string]chan struct{}, len(plan.Steps))
	for _, s := range plan.Steps {
		done[s.ID] = make(chan struct{})
	}

	var wg sync.WaitGroup
	for _, step := range plan.Steps {
		step := step
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(done[step.ID])

			for _, depID := range step.DependsOn {
				ch, ok := done[depID]
				if !ok {
					mu.Lock()
					results[step.ID] = StepResult{StepID: step.ID, Skipped: true, SkipReason: errUnknownDependency(step.ID, depID).Error()}
					mu.Unlock()
					return
				}
				select {
				case <-ch:
				case <-ctx.Done():
					mu.Lock()
					results[step.ID] = StepResult{StepID: step.ID, Skipped: true, SkipReason: "context cancelled while waiting for dependency"}
					mu.Unlock()
					return
				}
				mu.Lock()
				depResult, ok := results[depID]
				mu.Unlock()
				if ok && (depResult.Error != "" || depResult.Skipped) {
					mu.Lock()
					results[step.ID] = StepResult{StepID: step.ID, Skipped: true, SkipReason: fmt.Sprintf("dependency %q failed or was skipped", depID)}
					mu.Unlock()
					return
				}
			}

			result := d.runStep(ctx, step)
			mu.Lock()
			results[step.ID] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	ordered := make([]StepResult, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		if r, ok := results[s.ID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

func (d *Dispatcher) runStep(ctx context.Context, step Step) StepResult {
	if ShouldRunInBackground(step.Tool, step.ExpectedDurationClass) {
		if d.background == nil {
			return StepResult{StepID: step.ID, Error: "no background job creator configured for a slow step"}
		}
		jobID, err := d.background.CreateAndEnqueue(ctx, step.Tool, step.Args)
		if err != nil {
			return StepResult{StepID: step.ID, Error: err.Error()}
		}
		return StepResult{StepID: step.ID, JobID: jobID, State: "queued"}
	}

	handler, ok := d.registry.lookup(step.Tool)
	if !ok {
		return StepResult{StepID: step.ID, Error: fmt.Sprintf("unknown tool %q", step.Tool)}
	}

	stepCtx, cancel := context.WithTimeout(ctx, d.stepTimeout)
	defer cancel()

	result, err := handler.Call(stepCtx, step.Args)
	if err != nil {
		return StepResult{StepID: step.ID, Error: err.Error()}
	}
	return StepResult{StepID: step.ID, Result: result, State: "completed"}
}
