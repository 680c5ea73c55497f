package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// PostgresStore is the durable-production Store backed by a Postgres table:
//
//	CREATE TABLE seesaw_outbox (
//	  id             uuid PRIMARY KEY,
//	  event_type     text NOT NULL,
//	  payload        jsonb NOT NULL,
//	  correlation_id text NOT NULL,
//	  created_at     timestamptz NOT NULL DEFAULT now(),
//	  published_at   timestamptz
//	);
//
// ClaimUnpublished uses "SELECT ... FOR UPDATE SKIP LOCKED" so concurrent
// publisher instances never claim the same row twice (§5 "the outbox
// publisher loop uses the same claim discipline" as the job queue).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing *sql.DB. Schema creation is the
// caller's responsibility (the DB migration tool is explicitly out of
// scope per spec.md §1).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Write(ctx context.Context, tx Tx, eventType string, payload []byte, corr core.CorrelationId) error {
	sqlTx, ok := tx.(*sql.Tx)
	if !ok {
		return core.NewError(core.CategoryFatal, "outbox: Write requires a *sql.Tx")
	}
	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO seesaw_outbox (id, event_type, payload, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), eventType, payload, string(corr))
	return err
}

func (s *PostgresStore) ClaimUnpublished(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, payload, correlation_id, created_at, published_at
		FROM seesaw_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var corr string
		var published sql.NullTime
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &corr, &e.CreatedAt, &published); err != nil {
			return nil, err
		}
		e.CorrelationId = core.CorrelationId(corr)
		if published.Valid {
			t := published.Time
			e.PublishedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []string, publishedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE seesaw_outbox SET published_at = $1 WHERE id = ANY($2)`,
		publishedAt, pqStringArray(ids))
	return err
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM seesaw_outbox WHERE published_at IS NOT NULL AND published_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// pqStringArray renders a Go []string as a Postgres text[] literal accepted
// by ANY($1) when the driver doesn't natively support array binding
// (kept dependency-free rather than importing a second Postgres array
// helper on top of the corpus's lib/pq usage).
func pqStringArray(ids []string) string {
	out := "{"
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += `"` + id + `"`
	}
	return out + "}"
}
