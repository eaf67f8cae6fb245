package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/adilkhash/minrss/domain"
)

// Repository persists feeds and items in PostgreSQL.
type Repository struct{ db *sqlx.DB }

func New(db *sqlx.DB) *Repository { return &Repository{db: db} }

// Open connects, configures the pool, and pings.
func Open(dsn string) (*Repository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Ensure(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS feeds (
    id UUID PRIMARY KEY,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    last_fetched TIMESTAMP,
    polled_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS feed_items (
    id UUID PRIMARY KEY,
    feed_id UUID NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    guid TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMP NOT NULL,
    read BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT now(),
    UNIQUE (feed_id, guid)
);
CREATE INDEX IF NOT EXISTS idx_feeds_polled_at ON feeds (polled_at);
CREATE INDEX IF NOT EXISTS idx_feed_items_feed_published ON feed_items (feed_id, published_at DESC);
CREATE INDEX IF NOT EXISTS idx_feed_items_read ON feed_items (read);
`)
	return err
}

func (r *Repository) CreateFeed(ctx context.Context, f *domain.Feed) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, url, title, last_fetched, polled_at, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO NOTHING`,
		f.ID, f.URL, f.Title, f.LastFetched, f.PolledAt, f.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrDuplicateFeed
	}
	return nil
}

func (r *Repository) FeedByID(ctx context.Context, id uuid.UUID) (domain.Feed, error) {
	var f domain.Feed
	err := r.db.GetContext(ctx, &f,
		`SELECT id, url, title, last_fetched, polled_at, created_at FROM feeds WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, domain.ErrNotFound
	}
	return f, err
}

func (r *Repository) FeedByURL(ctx context.Context, url string) (domain.Feed, error) {
	var f domain.Feed
	err := r.db.GetContext(ctx, &f,
		`SELECT id, url, title, last_fetched, polled_at, created_at FROM feeds WHERE url = $1`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, domain.ErrNotFound
	}
	return f, err
}

func (r *Repository) ListFeeds(ctx context.Context, limit int) ([]domain.Feed, error) {
	q := `SELECT id, url, title, last_fetched, polled_at, created_at FROM feeds ORDER BY created_at DESC`
	var out []domain.Feed
	var err error
	if limit > 0 {
		err = r.db.SelectContext(ctx, &out, q+` LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &out, q)
	}
	return out, err
}

// StaleFeeds returns the feeds least recently polled, never-polled ones
// first. The key is the poll attempt, not last_fetched, so feeds with
// nothing new (or with a broken remote) still cycle to the back.
func (r *Repository) StaleFeeds(ctx context.Context, limit int) ([]domain.Feed, error) {
	var out []domain.Feed
	err := r.db.SelectContext(ctx, &out,
		`SELECT id, url, title, last_fetched, polled_at, created_at FROM feeds
		 ORDER BY COALESCE(polled_at, created_at) ASC, created_at ASC LIMIT $1`, limit)
	return out, err
}

func (r *Repository) UpdateFeedTitle(ctx context.Context, id uuid.UUID, title string) error {
	return execAffecting(ctx, r.db, `UPDATE feeds SET title = $1 WHERE id = $2`, title, id)
}

func (r *Repository) MarkFeedFetched(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execAffecting(ctx, r.db, `UPDATE feeds SET last_fetched = $1 WHERE id = $2`, at, id)
}

func (r *Repository) MarkFeedPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execAffecting(ctx, r.db, `UPDATE feeds SET polled_at = $1 WHERE id = $2`, at, id)
}

func (r *Repository) DeleteFeed(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) CreateItem(ctx context.Context, it *domain.FeedItem) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_items (id, feed_id, guid, title, content, published_at, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (feed_id, guid) DO NOTHING`,
		it.ID, it.FeedID, it.GUID, it.Title, it.Content, it.PublishedAt, it.Read, it.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrDuplicateItem
	}
	return nil
}

func (r *Repository) ItemExists(ctx context.Context, feedID uuid.UUID, guid string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM feed_items WHERE feed_id = $1 AND guid = $2)`, feedID, guid)
	return exists, err
}

func (r *Repository) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.FeedItem, error) {
	q := `SELECT id, feed_id, guid, title, content, published_at, read, created_at FROM feed_items`
	var conds []string
	var args []any
	if filter.FeedID != nil {
		args = append(args, *filter.FeedID)
		conds = append(conds, fmt.Sprintf("feed_id = $%d", len(args)))
	}
	if filter.Read != nil {
		args = append(args, *filter.Read)
		conds = append(conds, fmt.Sprintf("read = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY published_at DESC, created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	var out []domain.FeedItem
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

func (r *Repository) CountItems(ctx context.Context, feedID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM feed_items WHERE feed_id = $1`, feedID)
	return n, err
}

func (r *Repository) MarkItemRead(ctx context.Context, id uuid.UUID, read bool) error {
	return execAffecting(ctx, r.db, `UPDATE feed_items SET read = $1 WHERE id = $2`, read, id)
}

// MarkAllRead flips matching unread items to read. guid, feed_id, and
// created_at are never touched.
func (r *Repository) MarkAllRead(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	q := `UPDATE feed_items SET read = TRUE WHERE read = FALSE`
	var args []any
	if filter.FeedID != nil {
		args = append(args, *filter.FeedID)
		q += fmt.Sprintf(" AND feed_id = $%d", len(args))
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// execAffecting runs an UPDATE that must touch exactly one row and maps
// zero rows to ErrNotFound.
func execAffecting(ctx context.Context, db *sqlx.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
