package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresPageStore is the store of record for cached pages.
//
//	CREATE TABLE seesaw_cached_pages (
//	  site_url     text NOT NULL,
//	  url          text NOT NULL,
//	  content_hash text NOT NULL,
//	  content      text NOT NULL,
//	  title        text,
//	  content_type text NOT NULL,
//	  fetched_at   timestamptz NOT NULL,
//	  PRIMARY KEY (site_url, url)
//	);
//
// WritePage is a single upsert statement, so the "shared-read,
// serialized-write on (site_url, url)" requirement of §5 is satisfied by
// Postgres's own row-level locking rather than an application-level mutex.
type PostgresPageStore struct {
	db *sql.DB
}

// NewPostgresPageStore wraps an existing *sql.DB.
func NewPostgresPageStore(db *sql.DB) *PostgresPageStore {
	return &PostgresPageStore{db: db}
}

func (s *PostgresPageStore) WritePage(ctx context.Context, page CachedPage) (bool, error) {
	var priorHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM seesaw_cached_pages WHERE site_url = $1 AND url = $2`,
		page.SiteURL, page.URL,
	).Scan(&priorHash)
	changed := errors.Is(err, sql.ErrNoRows) || priorHash != page.ContentHash
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seesaw_cached_pages (site_url, url, content_hash, content, title, content_type, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_url, url) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			content      = EXCLUDED.content,
			title        = EXCLUDED.title,
			content_type = EXCLUDED.content_type,
			fetched_at   = EXCLUDED.fetched_at
	`, page.SiteURL, page.URL, page.ContentHash, page.Content, page.Title, page.ContentType, page.FetchedAt)
	if err != nil {
		return false, err
	}
	return changed, nil
}

func (s *PostgresPageStore) GetPage(ctx context.Context, siteURL, url string) (*CachedPage, error) {
	var p CachedPage
	err := s.db.QueryRowContext(ctx, `
		SELECT site_url, url, content_hash, content, title, content_type, fetched_at
		FROM seesaw_cached_pages WHERE site_url = $1 AND url = $2
	`, siteURL, url).Scan(&p.SiteURL, &p.URL, &p.ContentHash, &p.Content, &p.Title, &p.ContentType, &p.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresPageStore) ListPages(ctx context.Context, siteURL string) ([]CachedPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_url, url, content_hash, content, title, content_type, fetched_at
		FROM seesaw_cached_pages WHERE site_url = $1 ORDER BY url
	`, siteURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []CachedPage
	for rows.Next() {
		var p CachedPage
		if err := rows.Scan(&p.SiteURL, &p.URL, &p.ContentHash, &p.Content, &p.Title, &p.ContentType, &p.FetchedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// PostgresSummaryStore is the store of record for Pass 1 summaries,
// content-hash keyed.
//
//	CREATE TABLE seesaw_page_summaries (
//	  content_hash text PRIMARY KEY,
//	  snapshot_id  text NOT NULL,
//	  url          text NOT NULL,
//	  content      text NOT NULL,
//	  prompt_hash  text NOT NULL,
//	  created_at   timestamptz NOT NULL DEFAULT now()
//	);
type PostgresSummaryStore struct {
	db *sql.DB
}

// NewPostgresSummaryStore wraps an existing *sql.DB.
func NewPostgresSummaryStore(db *sql.DB) *PostgresSummaryStore {
	return &PostgresSummaryStore{db: db}
}

func (s *PostgresSummaryStore) GetSummary(ctx context.Context, contentHash string) (*PageSummary, error) {
	var sum PageSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, snapshot_id, url, content, prompt_hash, created_at
		FROM seesaw_page_summaries WHERE content_hash = $1
	`, contentHash).Scan(&sum.ContentHash, &sum.SnapshotID, &sum.URL, &sum.Content, &sum.PromptHash, &sum.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *PostgresSummaryStore) PutSummary(ctx context.Context, summary PageSummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seesaw_page_summaries (content_hash, snapshot_id, url, content, prompt_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO UPDATE SET
			snapshot_id = EXCLUDED.snapshot_id,
			url         = EXCLUDED.url,
			content     = EXCLUDED.content,
			prompt_hash = EXCLUDED.prompt_hash
	`, summary.ContentHash, summary.SnapshotID, summary.URL, summary.Content, summary.PromptHash, summary.CreatedAt)
	return err
}
