// Package jobstore persists Job records to SQLite, grounded on the teacher's
// planner/services/job_queue.go (WAL-mode sqlite, one row per unit of work,
// status/priority indexes) generalized from a flat file-processing queue to
// one JSON-blob row per Job (spec.md §6: "one record per job, key = jobId").
package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/forgecore/engine/pkg/job"
)

// Store is a SQLite-backed Job repository.
type Store struct {
	db *sql.DB
}

// Open creates/opens the database at dbPath, creating parent directories and
// the schema as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		context TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		completed_at DATETIME,
		body TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save upserts the full job record, including its attempts, as one row.
// Called at every state transition per spec.md §4.1 ("Persistence: jobs and
// their attempts are written to durable storage at every state transition").
func (s *Store) Save(j *job.Job) error {
	body, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", j.ID, err)
	}

	var completedAt interface{}
	if j.CompletedAt != nil {
		completedAt = *j.CompletedAt
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs (id, context, state, created_at, completed_at, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			context = excluded.context,
			state = excluded.state,
			completed_at = excluded.completed_at,
			body = excluded.body
	`, j.ID, j.Context, string(j.State), j.CreatedAt, completedAt, string(body))
	if err != nil {
		return fmt.Errorf("failed to persist job %s: %w", j.ID, err)
	}
	return nil
}

// Get loads a single job by id.
func (s *Store) Get(id string) (*job.Job, error) {
	row := s.db.QueryRow(`SELECT body FROM jobs WHERE id = ?`, id)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	var j job.Job
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &j, nil
}

// List returns every retained job, most recently created first.
func (s *Store) List() ([]*job.Job, error) {
	rows, err := s.db.Query(`SELECT body FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		var j job.Job
		if err := json.Unmarshal([]byte(body), &j); err != nil {
			return nil, fmt.Errorf("failed to decode job row: %w", err)
		}
		out = append(out, &j)
	}
	return out, nil
}

// MarkInterruptedRunningJobs implements spec.md §4.1's restart recovery: any
// job left Running when the process died is marked Failed(Interrupted), with
// no automatic resume.
func (s *Store) MarkInterruptedRunningJobs(now time.Time) (int, error) {
	jobs, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if j.State != job.StateRunning {
			continue
		}
		j.Fail(job.JobError{Kind: job.ErrInterrupted, Message: "service restarted while job was running"}, now)
		if err := s.Save(j); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DeleteOlderThan removes terminal jobs whose CompletedAt predates the
// retention cutoff (spec.md §6: "Retention >= 7 days past terminal").
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep retained jobs: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
