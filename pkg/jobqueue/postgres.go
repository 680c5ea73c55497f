package jobqueue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PostgresStore is the durable-production Store:
//
//	CREATE TABLE seesaw_jobs (
//	  id              uuid PRIMARY KEY,
//	  job_type        text NOT NULL,
//	  reference_id    text,
//	  idempotency_key text,
//	  payload         jsonb NOT NULL,
//	  status          text NOT NULL,
//	  attempts        int NOT NULL DEFAULT 0,
//	  max_retries     int NOT NULL DEFAULT 0,
//	  priority        int NOT NULL DEFAULT 0,
//	  error_message   text,
//	  created_at      timestamptz NOT NULL DEFAULT now(),
//	  started_at      timestamptz,
//	  finished_at     timestamptz
//	);
//	CREATE UNIQUE INDEX seesaw_jobs_idempotency
//	  ON seesaw_jobs (job_type, idempotency_key)
//	  WHERE status NOT IN ('succeeded', 'failed');
//
// Claim uses "SELECT ... FOR UPDATE SKIP LOCKED" so concurrent workers never
// pick up the same row (§4.D, §6).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, j Job) (string, error) {
	if j.IdempotencyKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM seesaw_jobs
			WHERE job_type = $1 AND idempotency_key = $2 AND status NOT IN ('succeeded', 'failed')`,
			j.JobType, j.IdempotencyKey).Scan(&existingID)
		if err == nil {
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", err
		}
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seesaw_jobs
			(id, job_type, reference_id, idempotency_key, payload, status, max_retries, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		id, j.JobType, j.ReferenceID, j.IdempotencyKey, j.Payload, StatusPending, j.MaxRetries, j.Priority)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) Claim(ctx context.Context, _ string, types []string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row *sql.Row
	if len(types) == 0 {
		row = tx.QueryRowContext(ctx, `
			SELECT id, job_type, reference_id, idempotency_key, payload, attempts, max_retries, priority, created_at
			FROM seesaw_jobs
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`)
	} else {
		row = tx.QueryRowContext(ctx, `
			SELECT id, job_type, reference_id, idempotency_key, payload, attempts, max_retries, priority, created_at
			FROM seesaw_jobs
			WHERE status = 'pending' AND job_type = ANY($1)
			ORDER BY priority DESC, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1`, pqArray(types))
	}

	var j Job
	var referenceID, idempotencyKey sql.NullString
	if err := row.Scan(&j.ID, &j.JobType, &referenceID, &idempotencyKey, &j.Payload, &j.Attempts, &j.MaxRetries, &j.Priority, &j.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	j.ReferenceID = referenceID.String
	j.IdempotencyKey = idempotencyKey.String
	j.Attempts++
	j.Status = StatusRunning
	now := time.Now().UTC()
	j.StartedAt = &now

	if _, err := tx.ExecContext(ctx, `
		UPDATE seesaw_jobs SET status = 'running', attempts = $1, started_at = $2 WHERE id = $3`,
		j.Attempts, now, j.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE seesaw_jobs SET status = 'succeeded', finished_at = now() WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, errMsg string, retryable bool) error {
	if retryable {
		res, err := s.db.ExecContext(ctx, `
			UPDATE seesaw_jobs
			SET status = 'pending', started_at = NULL, error_message = $1
			WHERE id = $2 AND attempts < max_retries`, errMsg, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE seesaw_jobs SET status = 'failed', error_message = $1, finished_at = now() WHERE id = $2`,
		errMsg, id)
	return err
}

// pqArray renders a Go []string as a Postgres text[] literal for ANY($1),
// matching the helper in pkg/seesaw/outbox.
func pqArray(values []string) string {
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += `"` + v + `"`
	}
	return out + "}"
}
