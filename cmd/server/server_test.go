package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgecore/engine/internal/config"
	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/jobevents"
	"github.com/forgecore/engine/pkg/jobmanager"
	"github.com/forgecore/engine/pkg/jobstore"
	"github.com/forgecore/engine/pkg/llmtypes"
	"github.com/forgecore/engine/pkg/memory"
	"github.com/forgecore/engine/pkg/retry"
	"github.com/forgecore/engine/pkg/router"
	"github.com/forgecore/engine/pkg/scaffold"
	"github.com/forgecore/engine/pkg/thinking"
	"github.com/forgecore/engine/pkg/validator"
	"github.com/forgecore/engine/pkg/workspace"
)

// fakeModel is a hand-written stand-in for llmtypes.Model, matching the
// convention established in pkg/jobmanager/manager_test.go.
type fakeModel struct {
	text string
}

func (f *fakeModel) ModelID() string { return "fake" }

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	return &llmtypes.Response{Text: f.text}, nil
}

type noopMemory struct{}

func (noopMemory) Search(ctx context.Context, partition, query string, limit int) ([]memory.Result, error) {
	return nil, nil
}
func (noopMemory) RecordSuccess(ctx context.Context, partition, summary string, patterns []string) error {
	return nil
}
func (noopMemory) RecordFailure(ctx context.Context, partition, signature string, attempts int) error {
	return nil
}
func (noopMemory) Close() error { return nil }

func newTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module scratch\n\ngo 1.21\n"), 0644))
	return dir
}

func newTestServer(t *testing.T, workspaceDir string, maxConcurrent int) (*Server, *jobmanager.Manager) {
	t.Helper()
	cfg := config.Defaults()
	cfg.ConfidenceThreshold = 0.0
	cfg.MaxConcurrentJobs = maxConcurrent
	cfg.JobTimeoutSeconds = 30

	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	store, err := jobstore.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := jobevents.NewBus()

	genModel := &fakeModel{text: `{"files":[{"path":"main.go","content":"package main\n\nfunc main() {}\n","change_type":"add"}]}`}
	reviewModel := &fakeModel{text: `{"score":9,"issues":[]}`}
	thinkModel := &fakeModel{text: "Guidance: keep it simple."}

	thinkingEnsemble := thinking.NewEnsemble([]llmtypes.Model{thinkModel}).WithTimeouts(5*time.Second, 10*time.Second)
	compile := validator.NewCompileValidator(workspaceDir)
	models := []*validator.ModelValidator{validator.NewModelValidator(reviewModel)}
	ens, err := validator.NewEnsemble(compile, models, nil)
	require.NoError(t, err)

	resolver := func(ctx context.Context, tier config.LadderTier) (llmtypes.Model, error) {
		return genModel, nil
	}

	log, err := logging.New(filepath.Join(t.TempDir(), "test.log"), "error", "text", false)
	require.NoError(t, err)

	controller := retry.New(cfg, thinkingEnsemble, ens, 1, resolver, workspace.New(), scaffold.NewLocalTemplateExecutor(), noopMemory{}, bus, log)
	manager := jobmanager.New(cfg, store, bus, controller, log)

	registry := router.NewRegistry()
	registry.Register(&generateCodeTool{manager: manager}, router.ToolSchema{Name: "generate_code"})
	registry.Register(&getStatusTool{manager: manager}, router.ToolSchema{Name: "get_status"})
	execTask := &executeTaskTool{}
	registry.Register(execTask, router.ToolSchema{Name: "execute_task"})
	rt := router.New(nil, registry, manager)
	execTask.router = rt

	srv := New(manager, rt, bus, log, []string{"*"})
	return srv, manager
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, newTestWorkspace(t), 1)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrchestrateCreatesJob(t *testing.T) {
	dir := newTestWorkspace(t)
	srv, _ := newTestServer(t, dir, 2)

	body, _ := json.Marshal(map[string]interface{}{
		"task":          "add hello world",
		"workspacePath": dir,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/orchestrator/orchestrate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
}

func TestOrchestrateRejectsMissingWorkspace(t *testing.T) {
	srv, _ := newTestServer(t, newTestWorkspace(t), 1)

	body, _ := json.Marshal(map[string]interface{}{"task": "add hello world"})
	req := httptest.NewRequest(http.MethodPost, "/api/orchestrator/orchestrate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrchestrateSyncReturnsPoolExhausted(t *testing.T) {
	dir := newTestWorkspace(t)
	srv, manager := newTestServer(t, dir, 1)

	j, err := manager.Create(context.Background(), job.CreateRequest{Task: "first", WorkspacePath: dir}, time.Now())
	require.NoError(t, err)
	require.NoError(t, manager.Run(context.Background(), j.ID))

	body, _ := json.Marshal(map[string]interface{}{
		"task":          "second",
		"workspacePath": dir,
		"background":    false,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/orchestrator/orchestrate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, manager.Cancel(j.ID))
}

func TestStatusReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, newTestWorkspace(t), 1)

	req := httptest.NewRequest(http.MethodGet, "/api/orchestrator/status/job_nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobsListReturnsCreatedJob(t *testing.T) {
	dir := newTestWorkspace(t)
	srv, manager := newTestServer(t, dir, 1)

	_, err := manager.Create(context.Background(), job.CreateRequest{Task: "x", WorkspacePath: dir}, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/orchestrator/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var summaries []jobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 1)
}

func TestMCPInitializeAndToolsList(t *testing.T) {
	srv, _ := newTestServer(t, newTestWorkspace(t), 1)

	body, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "initialize"})
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ = json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 2, "method": "tools/list"})
	req = httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp router.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestMCPExecuteTaskDispatchesClassifiedIntent(t *testing.T) {
	dir := newTestWorkspace(t)
	srv, _ := newTestServer(t, dir, 2)

	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]interface{}{
			"name":      "execute_task",
			"arguments": map[string]interface{}{"request": "create a hello world handler", "workspacePath": dir},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp router.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "expected execute_task to resolve generate_code's job-queued shape")
	assert.NotEmpty(t, result["jobId"])
}

func TestMCPExecuteTaskGatesSearchToBackground(t *testing.T) {
	dir := newTestWorkspace(t)
	srv, _ := newTestServer(t, dir, 2)

	body, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]interface{}{
			"name": "execute_task",
			"arguments": map[string]interface{}{
				"context": "default", "query": "auth", "workspacePath": dir,
				"request": "search for authentication code",
			},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp router.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok, "a slow search_memory step must be gated to a background job, not awaited inline")
	assert.Equal(t, "queued", result["state"])
}

func TestMCPNotificationReceivesNoBody(t *testing.T) {
	srv, _ := newTestServer(t, newTestWorkspace(t), 1)

	body, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "method": "notifications/initialized"})
	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}
