package jobmanager

import (
	"context"
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
	"github.com/forgecore/engine/pkg/jobstore"
	"github.com/forgecore/engine/pkg/llmtypes"
	"github.com/forgecore/engine/pkg/memory"
	"github.com/forgecore/engine/pkg/retry"
	"github.com/forgecore/engine/pkg/scaffold"
	"github.com/forgecore/engine/pkg/thinking"
	"github.com/forgecore/engine/pkg/validator"
	"github.com/forgecore/engine/pkg/workspace"
)

// fakeModel is a hand-written stand-in for llmtypes.Model, matching the
// convention established in pkg/retry/retry_test.go.
type fakeModel struct {
	text  string
	delay time.Duration
}

func (f *fakeModel) ModelID() string { return "fake" }

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llmtypes.Message, options ...llmtypes.CallOption) (*llmtypes.Response, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llmtypes.Response{Text: f.text}, nil
}

// noopMemory is a hand-written no-op Store.
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

func goodFilesJSON(content string) string {
	return `{"files":[{"path":"main.go","content":"` + content + `","change_type":"add"}]}`
}

func newTestManager(t *testing.T, workspaceDir string, genText string, maxConcurrent int, genDelay time.Duration) *Manager {
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

	genModel := &fakeModel{text: goodFilesJSON("package main\n\nfunc main() {}\n"), delay: genDelay}
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

	return New(cfg, store, bus, controller, log)
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module scratch\n\ngo 1.21\n"), 0644))
	return dir
}

func TestCreateRejectsMissingWorkspacePath(t *testing.T) {
	m := newTestManager(t, newWorkspace(t), "", 1, 0)
	_, err := m.Create(context.Background(), job.CreateRequest{Task: "do something"}, time.Now())
	require.Error(t, err)
}

func TestCreateRejectsInvalidMinScore(t *testing.T) {
	m := newTestManager(t, newWorkspace(t), "", 1, 0)
	_, err := m.Create(context.Background(), job.CreateRequest{WorkspacePath: "/tmp/ws", MinScore: 11}, time.Now())
	require.Error(t, err)
}

func TestCreatePersistsQueuedJob(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 1, 0)

	j, err := m.Create(context.Background(), job.CreateRequest{Task: "add hello world", WorkspacePath: dir}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, j.State)

	loaded, err := m.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, loaded.ID)
}

func TestStatusReturnsNotFoundForUnknownJob(t *testing.T) {
	m := newTestManager(t, newWorkspace(t), "", 1, 0)
	_, err := m.Status("job_nonexistent")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRunCompletesJobAndPersistsResult(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 2, 0)

	j, err := m.Create(context.Background(), job.CreateRequest{Task: "add hello world", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background(), j.ID))

	require.Eventually(t, func() bool {
		loaded, err := m.Status(j.ID)
		return err == nil && loaded.State.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	loaded, err := m.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, loaded.State)
}

func TestRunRejectsReRunOfAlreadyRunningJob(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 1, 200*time.Millisecond)

	j, err := m.Create(context.Background(), job.CreateRequest{Task: "add hello world", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background(), j.ID))
	err = m.Run(context.Background(), j.ID)
	assert.ErrorIs(t, err, job.ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		loaded, _ := m.Status(j.ID)
		return loaded != nil && loaded.State.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunEnforcesConcurrencyCap(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 1, 150*time.Millisecond)

	j1, err := m.Create(context.Background(), job.CreateRequest{Task: "first", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)
	j2, err := m.Create(context.Background(), job.CreateRequest{Task: "second", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background(), j1.ID))

	start := time.Now()
	require.NoError(t, m.Run(context.Background(), j2.ID))
	blocked := time.Since(start)

	assert.GreaterOrEqual(t, blocked, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		l1, _ := m.Status(j1.ID)
		l2, _ := m.Status(j2.ID)
		return l1 != nil && l1.State.IsTerminal() && l2 != nil && l2.State.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestTryRunReturnsPoolExhaustedWithoutBlocking(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 1, 2*time.Second)

	j1, err := m.Create(context.Background(), job.CreateRequest{Task: "first", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)
	j2, err := m.Create(context.Background(), job.CreateRequest{Task: "second", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background(), j1.ID))

	start := time.Now()
	err = m.TryRun(j2.ID)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, m.Cancel(j1.ID))
}

func TestCancelStopsRunningJob(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 2, 2*time.Second)

	j, err := m.Create(context.Background(), job.CreateRequest{Task: "add hello world", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background(), j.ID))

	require.Eventually(t, func() bool {
		loaded, _ := m.Status(j.ID)
		return loaded != nil && loaded.State == job.StateRunning
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Cancel(j.ID))

	require.Eventually(t, func() bool {
		loaded, _ := m.Status(j.ID)
		return loaded != nil && loaded.State.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	loaded, err := m.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateCancelled, loaded.State)
}

func TestCancelOnTerminalJobIsIdempotent(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 2, 0)

	j, err := m.Create(context.Background(), job.CreateRequest{Task: "add hello world", WorkspacePath: dir, MaxIterations: 2, MinScore: 5}, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background(), j.ID))

	require.Eventually(t, func() bool {
		loaded, _ := m.Status(j.ID)
		return loaded != nil && loaded.State.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, m.Cancel(j.ID))
}

func TestListReturnsAllJobs(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 2, 0)

	_, err := m.Create(context.Background(), job.CreateRequest{Task: "one", WorkspacePath: dir}, time.Now())
	require.NoError(t, err)
	_, err = m.Create(context.Background(), job.CreateRequest{Task: "two", WorkspacePath: dir}, time.Now())
	require.NoError(t, err)

	jobs, err := m.List()
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestRecoverOnStartupMarksRunningJobsInterrupted(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 2, 0)

	j, err := m.Create(context.Background(), job.CreateRequest{Task: "add hello world", WorkspacePath: dir}, time.Now())
	require.NoError(t, err)
	require.NoError(t, j.Start(time.Now()))
	require.NoError(t, m.store.Save(j))

	n, err := m.RecoverOnStartup(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := m.Status(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StateFailed, loaded.State)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, job.ErrInterrupted, loaded.Error.Kind)
}

func TestCreateAndEnqueueSatisfiesBackgroundCreator(t *testing.T) {
	dir := newWorkspace(t)
	m := newTestManager(t, dir, "", 2, 0)

	jobID, err := m.CreateAndEnqueue(context.Background(), "generate_code", map[string]interface{}{
		"workspacePath": dir,
		"task":          "add hello world",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		loaded, _ := m.Status(jobID)
		return loaded != nil && loaded.State.IsTerminal()
	}, 5*time.Second, 20*time.Millisecond)
}
