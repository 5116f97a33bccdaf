// Package router implements the front door: classify a free-form request,
// plan an ordered tool workflow, gate each step sync/async, dispatch
// respecting dependencies, and aggregate results in plan order (spec.md
// §4.7). Grounded on the teacher's MCP tool-call surface
// (pkg/mcpclient/tool_convert.go, cmd/server/tools.go's dynamic tool
// registry) generalized from "relay calls to a remote MCP server" to "plan
// and dispatch a local tool registry, promoting slow steps to background
// jobs."
package router

import "github.com/mark3labs/mcp-go/mcp"

// DurationClass is a step's expected cost band, used by the sync/async gate
// alongside the slow-operation predicate.
type DurationClass string

const (
	DurationFast   DurationClass = "fast"
	DurationMedium DurationClass = "medium"
	DurationSlow   DurationClass = "slow"
)

// Classification is the Router's first-pass read of a free-form request.
type Classification struct {
	Intent         string   `json:"intent"`
	Entities       []string `json:"entities"`
	EstimatedSteps int      `json:"estimated_steps"`
}

// Step is one node of a WorkflowPlan.
type Step struct {
	ID                    string                 `json:"id"`
	Tool                  string                 `json:"tool"`
	Args                  map[string]interface{} `json:"args"`
	DependsOn             []string               `json:"depends_on,omitempty"`
	ExpectedDurationClass DurationClass          `json:"expected_duration_class"`
}

// WorkflowPlan is the Router's ordered tool-call plan.
type WorkflowPlan struct {
	Steps []Step `json:"steps"`
}

// StepResult is one step's outcome once Dispatch has run the plan.
type StepResult struct {
	StepID     string      `json:"step_id"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
	JobID      string      `json:"job_id,omitempty"`
	State      string      `json:"state,omitempty"`
}

// WorkflowResult is the Router's aggregated answer, preserving plan order.
type WorkflowResult struct {
	Classification Classification `json:"classification"`
	Plan           WorkflowPlan   `json:"plan"`
	Results        []StepResult   `json:"results"`
}

// catalogEntry pairs a registered ToolHandler with the mcp.Tool schema
// tools/list reports for it.
type catalogEntry struct {
	handler ToolHandler
	tool    mcp.Tool
}
