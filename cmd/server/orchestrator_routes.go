package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/jobmanager"
)

// orchestrateRequest is the POST /api/orchestrator/orchestrate body
// (spec.md §6).
type orchestrateRequest struct {
	Task          string `json:"task"`
	Language      string `json:"language"`
	WorkspacePath string `json:"workspacePath"`
	MaxIterations int    `json:"maxIterations"`
	MinScore      int    `json:"minScore"`
	Background    *bool  `json:"background"`
}

type orchestrateResponse struct {
	JobID   string `json:"jobId"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// jobView is the trimmed job representation GET /status/{jobId} reports;
// it mirrors job.Job but omits nothing the spec's job view calls for.
type jobView struct {
	JobID       string          `json:"jobId"`
	Task        string          `json:"task"`
	State       job.State       `json:"state"`
	Progress    int             `json:"progress"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Result      *job.JobResult  `json:"result,omitempty"`
	Error       *job.JobError   `json:"error,omitempty"`
	Attempts    []job.Attempt   `json:"attempts,omitempty"`
}

func toJobView(j *job.Job) jobView {
	return jobView{
		JobID:       j.ID,
		Task:        j.Task,
		State:       j.State,
		Progress:    j.Progress,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Result:      j.Result,
		Error:       j.Error,
		Attempts:    j.Attempts,
	}
}

// jobSummary is the array element GET /jobs returns: no attempt list.
type jobSummary struct {
	JobID       string         `json:"jobId"`
	Task        string         `json:"task"`
	State       job.State      `json:"state"`
	Progress    int            `json:"progress"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

func toJobSummary(j *job.Job) jobSummary {
	return jobSummary{
		JobID:       j.ID,
		Task:        j.Task,
		State:       j.State,
		Progress:    j.Progress,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// registerOrchestratorRoutes wires the job lifecycle surface from spec.md §6.
func registerOrchestratorRoutes(rg *gin.RouterGroup, manager *jobmanager.Manager) {
	rg.POST("/orchestrate", handleOrchestrate(manager))
	rg.GET("/status/:jobId", handleOrchestratorStatus(manager))
	rg.POST("/cancel/:jobId", handleOrchestratorCancel(manager))
	rg.GET("/jobs", handleOrchestratorJobs(manager))
}

func handleOrchestrate(manager *jobmanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orchestrateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apiError{Error: "invalid request body: " + err.Error()})
			return
		}

		background := true
		if req.Background != nil {
			background = *req.Background
		}

		createReq := job.CreateRequest{
			Task:          req.Task,
			Language:      req.Language,
			WorkspacePath: req.WorkspacePath,
			MaxIterations: req.MaxIterations,
			MinScore:      req.MinScore,
		}

		j, err := manager.Create(c.Request.Context(), createReq, time.Now())
		if err != nil {
			var verr *job.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, apiError{Error: verr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}

		if background {
			if err := manager.Run(c.Request.Context(), j.ID); err != nil {
				c.JSON(http.StatusInternalServerError, apiError{Error: err.Error()})
				return
			}
			c.JSON(http.StatusOK, orchestrateResponse{JobID: j.ID, State: string(job.StateQueued)})
			return
		}

		if err := manager.TryRun(j.ID); err != nil {
			if errors.Is(err, jobmanager.ErrPoolExhausted) {
				c.JSON(http.StatusServiceUnavailable, apiError{Error: "WorkerPoolExhausted"})
				return
			}
			c.JSON(http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, orchestrateResponse{JobID: j.ID, State: string(job.StateRunning)})
	}
}

func handleOrchestratorStatus(manager *jobmanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		j, err := manager.Status(c.Param("jobId"))
		if err != nil {
			if errors.Is(err, jobmanager.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, apiError{Error: "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, toJobView(j))
	}
}

func handleOrchestratorCancel(manager *jobmanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := manager.Cancel(c.Param("jobId")); err != nil {
			if errors.Is(err, jobmanager.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, apiError{Error: "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobId": c.Param("jobId"), "state": "cancelling"})
	}
}

func handleOrchestratorJobs(manager *jobmanager.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := manager.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, apiError{Error: err.Error()})
			return
		}
		summaries := make([]jobSummary, 0, len(jobs))
		for _, j := range jobs {
			summaries = append(summaries, toJobSummary(j))
		}
		c.JSON(http.StatusOK, summaries)
	}
}
