package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spigell/job-agents/internal/jobs"
	_ "modernc.org/sqlite"
)

// SQLite is a Gateway backed by a single SQLite file. Jobs and profiles are
// stored as JSON payloads next to the columns used for lookups.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens or creates the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time keeps score transactions free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		user_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, job_id)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetJobs(ctx context.Context, userID string) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM jobs WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	out := []jobs.Job{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		var job jobs.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, fmt.Errorf("decode job payload: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func (s *SQLite) UpsertJobs(ctx context.Context, userID string, items []jobs.Job) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UnixNano()
		for _, job := range items {
			if job.ID == "" {
				return fmt.Errorf("upsert job: empty id")
			}

			existing, err := getJobTx(ctx, tx, userID, job.ID)
			if err != nil && !errors.Is(err, ErrJobNotFound) {
				return err
			}
			job.MergeEnrichment(existing)

			payload, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("encode job %q: %w", job.ID, err)
			}

			_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (user_id, job_id, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, job_id) DO UPDATE SET
				payload = excluded.payload,
				updated_at = excluded.updated_at`,
				userID, job.ID, string(payload), now, now,
			)
			if err != nil {
				return fmt.Errorf("upsert job %q: %w", job.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLite) ApplyScores(ctx context.Context, userID string, scores map[string]jobs.JobScore) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now().UnixNano()
		for id, score := range scores {
			job, err := getJobTx(ctx, tx, userID, id)
			if err != nil {
				return fmt.Errorf("apply score to %q: %w", id, err)
			}

			score := score
			job.Score = &score

			payload, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("encode job %q: %w", id, err)
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET payload = ?, updated_at = ? WHERE user_id = ? AND job_id = ?`,
				string(payload), now, userID, id,
			); err != nil {
				return fmt.Errorf("update job %q: %w", id, err)
			}
		}
		return nil
	})
}

func (s *SQLite) GetProfile(ctx context.Context, userID string) (*jobs.UserProfile, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM profiles WHERE user_id = ?`, userID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	var profile jobs.UserProfile
	if err := json.Unmarshal([]byte(payload), &profile); err != nil {
		return nil, fmt.Errorf("decode profile payload: %w", err)
	}
	return &profile, nil
}

func (s *SQLite) SaveProfile(ctx context.Context, userID string, profile jobs.UserProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	profile.UpdatedAt = now

	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO profiles (user_id, payload, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at`,
		userID, string(payload), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteJob(ctx context.Context, userID, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE user_id = ? AND job_id = ?`, userID, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delete %q: %w", jobID, ErrJobNotFound)
	}
	return nil
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, userID, jobID string) (*jobs.Job, error) {
	var payload string
	err := tx.QueryRowContext(ctx,
		`SELECT payload FROM jobs WHERE user_id = ? AND job_id = ?`, userID, jobID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}

	var job jobs.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	return &job, nil
}
