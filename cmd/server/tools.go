package server

import (
	"context"
	"fmt"

	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/jobmanager"
	"github.com/forgecore/engine/pkg/memory"
	"github.com/forgecore/engine/pkg/router"
)

// generateCodeTool backs the MCP "generate_code" tool: every call becomes a
// job and returns its jobId at once. The name is in the router's slow set
// (spec.md §4.7 step 3), so CallTool hands the call to the BackgroundCreator
// and does not invoke this handler in-line.
type generateCodeTool struct {
	manager *jobmanager.Manager
}

func (t *generateCodeTool) Name() string { return "generate_code" }

func (t *generateCodeTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	jobID, err := t.manager.CreateAndEnqueue(ctx, t.Name(), args)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"jobId": jobID, "state": "queued"}, nil
}

type getStatusTool struct {
	manager *jobmanager.Manager
}

func (t *getStatusTool) Name() string { return "get_status" }

func (t *getStatusTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	jobID, _ := args["jobId"].(string)
	j, err := t.manager.Status(jobID)
	if err != nil {
		return nil, err
	}
	return toJobView(j), nil
}

type cancelJobTool struct {
	manager *jobmanager.Manager
}

func (t *cancelJobTool) Name() string { return "cancel_job" }

func (t *cancelJobTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	jobID, _ := args["jobId"].(string)
	if err := t.manager.Cancel(jobID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"jobId": jobID, "state": "cancelling"}, nil
}

type listJobsTool struct {
	manager *jobmanager.Manager
}

func (t *listJobsTool) Name() string { return "list_jobs" }

func (t *listJobsTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	jobs, err := t.manager.List()
	if err != nil {
		return nil, err
	}
	summaries := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, toJobSummary(j))
	}
	return summaries, nil
}

// searchMemoryTool exposes MemoryStore.Search directly; context partition
// defaults to the caller-supplied "context" argument, falling back to
// deriving one from workspacePath the way jobmanager.Create does.
type searchMemoryTool struct {
	store memory.Store
}

func (t *searchMemoryTool) Name() string { return "search_memory" }

func (t *searchMemoryTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	partition, _ := args["context"].(string)
	if partition == "" {
		workspacePath, _ := args["workspacePath"].(string)
		partition = job.DeriveContext(workspacePath)
	}
	query, _ := args["query"].(string)
	if partition == "" || query == "" {
		return nil, fmt.Errorf("search_memory requires a query and a context or workspacePath")
	}
	limit := 10
	if l, ok := args["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	return t.store.Search(ctx, partition, query, limit)
}

// executeTaskTool is the free-form front door (spec.md §1/§4.7): a caller
// hands it a plain-language request instead of naming a tool, and it runs
// the classify -> plan -> gate -> dispatch pipeline Router.Route implements.
// router is set once buildRouter has constructed the Router, since the
// Router's own registry must exist before the Router itself does.
type executeTaskTool struct {
	router *router.Router
}

func (t *executeTaskTool) Name() string { return "execute_task" }

func (t *executeTaskTool) Call(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	request, _ := args["request"].(string)
	if request == "" {
		return nil, fmt.Errorf("execute_task requires a request string")
	}

	wf, err := t.router.Route(ctx, request, args)
	if err != nil {
		return nil, err
	}
	if len(wf.Results) == 0 {
		return nil, fmt.Errorf("execute_task: classifier produced an empty plan")
	}

	step := wf.Results[0]
	if step.Error != "" {
		return nil, fmt.Errorf("%s", step.Error)
	}
	if step.JobID != "" {
		return map[string]interface{}{"jobId": step.JobID, "state": step.State}, nil
	}
	return step.Result, nil
}
