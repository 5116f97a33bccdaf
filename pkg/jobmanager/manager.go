// Package jobmanager ties the job store, event bus, and retry controller
// together into the create/run/status/cancel/list/subscribe contract
// (spec.md §4.1/§6). Concurrency is capped by a buffered-channel semaphore,
// generalized from the teacher's StdioConnectionPool.maxSize guard
// (pkg/mcpclient/stdio_pool.go) from "cap concurrent stdio connections" to
// "cap concurrently running jobs".
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgecore/engine/internal/config"
	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/job"
	"github.com/forgecore/engine/pkg/jobevents"
	"github.com/forgecore/engine/pkg/jobstore"
	"github.com/forgecore/engine/pkg/retry"
)

// ErrJobNotFound is returned by Status/Cancel when the id has no matching job.
var ErrJobNotFound = fmt.Errorf("job not found")

// Manager owns the full lifecycle of every job: validated creation,
// persistence, bounded-concurrency execution via retry.Controller, and
// cancellation. One Manager is shared by cmd/server's HTTP handlers and the
// MCP router's background-job path.
type Manager struct {
	cfg        *config.EngineConfig
	store      *jobstore.Store
	bus        *jobevents.Bus
	controller *retry.Controller
	log        logging.ExtendedLogger

	sem chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	running map[string]bool
}

// New builds a Manager whose concurrent job count never exceeds
// cfg.MaxConcurrentJobs.
func New(cfg *config.EngineConfig, store *jobstore.Store, bus *jobevents.Bus, controller *retry.Controller, log logging.ExtendedLogger) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		controller: controller,
		log:        log,
		sem:        make(chan struct{}, cfg.MaxConcurrentJobs),
		cancels:    make(map[string]context.CancelFunc),
		running:    make(map[string]bool),
	}
}

// Create validates req, assigns an id, persists the Queued job, and returns
// it. It does not start execution; call Run for that (spec.md §4.1 "create"
// and "run" are distinct operations so a caller can inspect before starting).
func (m *Manager) Create(ctx context.Context, req job.CreateRequest, now time.Time) (*job.Job, error) {
	if err := req.Validate(m.cfg.DefaultMaxIterations, m.cfg.DefaultMinScore); err != nil {
		return nil, err
	}

	id, err := job.NewID(now)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate job id: %w", err)
	}

	j := job.NewJob(id, req, now)
	if err := m.store.Save(j); err != nil {
		return nil, fmt.Errorf("failed to persist new job: %w", err)
	}
	return j, nil
}

// ErrPoolExhausted is returned by TryRun when every concurrency slot is
// taken and the caller asked not to wait for one (spec.md §6
// "background=false" request mode).
var ErrPoolExhausted = fmt.Errorf("worker pool exhausted")

// Run starts j executing in the background, respecting the concurrency
// semaphore: if the pool is saturated, Run blocks the caller's goroutine
// until a slot frees or ctx is cancelled, then hands the job its own
// independent, timeout-bound context so the caller's ctx going away after
// Run returns doesn't also cancel the job.
func (m *Manager) Run(ctx context.Context, jobID string) error {
	if err := m.claim(jobID); err != nil {
		return err
	}
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(jobID)
		return ctx.Err()
	}
	return m.launch(jobID)
}

// TryRun behaves like Run but never waits for a free slot: a saturated pool
// returns ErrPoolExhausted immediately rather than queuing the caller.
func (m *Manager) TryRun(jobID string) error {
	if err := m.claim(jobID); err != nil {
		return err
	}
	select {
	case m.sem <- struct{}{}:
	default:
		m.release(jobID)
		return ErrPoolExhausted
	}
	return m.launch(jobID)
}

// claim marks jobID as running, rejecting a concurrent second call for the
// same id before any I/O happens.
func (m *Manager) claim(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[jobID] {
		return job.ErrAlreadyRunning
	}
	m.running[jobID] = true
	return nil
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	delete(m.running, jobID)
	m.mu.Unlock()
}

// launch assumes the caller already holds a semaphore slot for jobID: it
// loads the job, transitions it to Running, persists that, and hands it to
// the retry controller in its own goroutine, releasing the slot and the
// running-claim once that goroutine finishes.
func (m *Manager) launch(jobID string) error {
	ok := false
	defer func() {
		if !ok {
			<-m.sem
			m.release(jobID)
		}
	}()

	j, err := m.store.Get(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if j == nil {
		return ErrJobNotFound
	}

	now := time.Now()
	if err := j.Start(now); err != nil {
		return err
	}
	if err := m.store.Save(j); err != nil {
		return fmt.Errorf("failed to persist started job %s: %w", jobID, err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.JobTimeoutSeconds)*time.Second)
	m.mu.Lock()
	m.cancels[jobID] = cancel
	m.mu.Unlock()
	ok = true

	go func() {
		defer func() {
			<-m.sem
			cancel()
			m.mu.Lock()
			delete(m.cancels, jobID)
			m.mu.Unlock()
			m.release(jobID)
		}()

		if err := m.controller.RunJob(runCtx, j); err != nil {
			m.log.WithField("job_id", jobID).Errorf("job run exited with error: %v", err)
		}
		if err := m.store.Save(j); err != nil {
			m.log.WithField("job_id", jobID).Errorf("failed to persist finished job: %v", err)
		}
	}()

	return nil
}

// Status loads the current state of jobID.
func (m *Manager) Status(jobID string) (*job.Job, error) {
	j, err := m.store.Get(jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if j == nil {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Cancel requests cancellation of a running job. It is idempotent: a job
// already in a terminal state, or one the Manager has no in-flight cancel
// func for (e.g. after a restart), is reported via the job's own Cancel
// transition rather than erroring.
func (m *Manager) Cancel(jobID string) error {
	j, err := m.store.Get(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if j == nil {
		return ErrJobNotFound
	}

	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	if j.State.IsTerminal() {
		return nil
	}
	j.Cancel(time.Now())
	return m.store.Save(j)
}

// List returns every retained job, most recently created first.
func (m *Manager) List() ([]*job.Job, error) {
	return m.store.List()
}

// Subscribe streams live events for jobID.
func (m *Manager) Subscribe(jobID string) *jobevents.Subscription {
	return m.bus.Subscribe(jobID)
}

// CreateAndEnqueue implements pkg/router.BackgroundCreator: a slow router
// step becomes a queued job the router's caller can poll via Status instead
// of the router awaiting it in-line.
func (m *Manager) CreateAndEnqueue(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	workspacePath, _ := args["workspacePath"].(string)
	task, _ := args["task"].(string)
	if task == "" {
		task = tool
	}

	req := job.CreateRequest{Task: task, WorkspacePath: workspacePath}
	j, err := m.Create(ctx, req, time.Now())
	if err != nil {
		return "", err
	}
	if err := m.Run(ctx, j.ID); err != nil {
		return "", err
	}
	return j.ID, nil
}

// RecoverOnStartup implements spec.md §4.1's restart recovery: any job left
// Running when the process died is marked Failed(Interrupted); nothing is
// auto-resumed.
func (m *Manager) RecoverOnStartup(now time.Time) (int, error) {
	return m.store.MarkInterruptedRunningJobs(now)
}

// SweepRetention deletes terminal jobs past the configured retention window.
func (m *Manager) SweepRetention(now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -m.cfg.RetentionDays)
	return m.store.DeleteOlderThan(cutoff)
}
