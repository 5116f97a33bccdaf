package router

import (
	"context"
	"fmt"
)

// Router is the front door: classify, plan, gate, dispatch, aggregate
// (spec.md §4.7). It owns a fixed Registry of tools and delegates slow
// steps to a BackgroundCreator (pkg/jobmanager in production).
type Router struct {
	classifier Classifier
	planner    Planner
	dispatcher *Dispatcher
	registry   *Registry
}

// New builds a Router. classifier may be nil, in which case every request
// falls straight to the deterministic keyword classifier.
func New(classifier Classifier, registry *Registry, background BackgroundCreator) *Router {
	return &Router{
		classifier: NewFallbackClassifier(classifier),
		planner:    NewDefaultPlanner(),
		dispatcher: NewDispatcher(registry, background),
		registry:   registry,
	}
}

// Route classifies request, plans a workflow, dispatches it, and returns
// the aggregated, plan-ordered result.
func (r *Router) Route(ctx context.Context, request string, args map[string]interface{}) (WorkflowResult, error) {
	classification, err := r.classifier.Classify(ctx, request)
	if err != nil {
		return WorkflowResult{}, fmt.Errorf("classification failed: %w", err)
	}

	plan := r.planner.Plan(classification, args)
	results := r.dispatcher.Dispatch(ctx, plan)

	return WorkflowResult{
		Classification: classification,
		Plan:           plan,
		Results:        results,
	}, nil
}

// CallTool runs a single named tool directly, bypassing classification and
// planning entirely. This is what tools/call uses: the MCP caller already
// knows which tool it wants.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	handler, ok := r.registry.lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	step := Step{ID: name, Tool: name, Args: args, ExpectedDurationClass: durationClassFor(name)}
	result := r.dispatcher.runStep(ctx, step)
	if result.Error != "" {
		return nil, fmt.Errorf("%s", result.Error)
	}
	if result.JobID != "" {
		return map[string]interface{}{"jobId": result.JobID, "state": result.State}, nil
	}
	return result.Result, nil
}

// toolCatalog returns the registered tool schemas in the shape tools/list
// reports.
func (r *Router) toolCatalog() []interface{} {
	tools := make([]interface{}, 0, len(r.registry.handlers))
	for _, entry := range r.registry.handlers {
		tools = append(tools, entry.tool)
	}
	return tools
}
