package router

import "fmt"

// Planner turns a Classification into a WorkflowPlan. DefaultPlanner
// produces one step per classified intent; a classifier that estimates
// more than one step signals the request needs decomposition the Router
// doesn't attempt on its own — those extra steps are left to whatever tool
// the first step dispatches to (e.g. code generation's own retry loop),
// matching spec.md §4.7's step shape without inventing a decomposition
// algorithm the spec doesn't describe.
type Planner interface {
	Plan(classification Classification, args map[string]interface{}) WorkflowPlan
}

// DefaultPlanner is the Router's built-in planner.
type DefaultPlanner struct{}

func NewDefaultPlanner() *DefaultPlanner { return &DefaultPlanner{} }

func (p *DefaultPlanner) Plan(classification Classification, args map[string]interface{}) WorkflowPlan {
	step := Step{
		ID:                    "step-1",
		Tool:                  classification.Intent,
		Args:                  args,
		ExpectedDurationClass: durationClassFor(classification.Intent),
	}
	return WorkflowPlan{Steps: []Step{step}}
}

func durationClassFor(intent string) DurationClass {
	if ShouldRunInBackground(intent, DurationFast) {
		return DurationSlow
	}
	return DurationFast
}

// stepByID returns the step of plan with the given id. Dispatch resolves
// dependsOn through its own per-step done channels and does not call it.
func stepByID(plan WorkflowPlan, id string) (Step, bool) {
	for _, s := range plan.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

func errUnknownDependency(stepID, depID string) error {
	return fmt.Errorf("step %q depends on unknown step %q", stepID, depID)
}
