package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/adilkhash/minrss/domain"
)

// timeLayout is the stored timestamp form. Fixed-width UTC text keeps
// ORDER BY on timestamp columns chronological.
const timeLayout = "2006-01-02 15:04:05"

// Repository persists feeds and items in a SQLite database file.
type Repository struct{ db *sqlx.DB }

func New(db *sqlx.DB) *Repository { return &Repository{db: db} }

// Open opens (creating if needed) the database at path with foreign keys
// enforced. A single connection sidesteps SQLITE_BUSY under the write
// rates a feed reader sees.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Ensure(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS feeds (
    id TEXT PRIMARY KEY,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    last_fetched TIMESTAMP,
    polled_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS feed_items (
    id TEXT PRIMARY KEY,
    feed_id TEXT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
    guid TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    published_at TIMESTAMP NOT NULL,
    read BOOLEAN NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (feed_id, guid)
)`,
		`CREATE INDEX IF NOT EXISTS idx_feeds_polled_at ON feeds (polled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_items_feed_published ON feed_items (feed_id, published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_feed_items_read ON feed_items (read)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) CreateFeed(ctx context.Context, f *domain.Feed) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, url, title, last_fetched, polled_at, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO NOTHING`,
		f.ID, f.URL, f.Title, fmtTimePtr(f.LastFetched), fmtTimePtr(f.PolledAt), fmtTime(f.CreatedAt))
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
		`SELECT id, url, title, last_fetched, polled_at, created_at FROM feeds WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feed{}, domain.ErrNotFound
	}
	return f, err
}

func (r *Repository) FeedByURL(ctx context.Context, url string) (domain.Feed, error) {
	var f domain.Feed
	err := r.db.GetContext(ctx, &f,
		`SELECT id, url, title, last_fetched, polled_at, created_at FROM feeds WHERE url = ?`, url)
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
		err = r.db.SelectContext(ctx, &out, q+` LIMIT ?`, limit)
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
		 ORDER BY COALESCE(polled_at, created_at) ASC, created_at ASC LIMIT ?`, limit)
	return out, err
}

func (r *Repository) UpdateFeedTitle(ctx context.Context, id uuid.UUID, title string) error {
	return execAffecting(ctx, r.db, `UPDATE feeds SET title = ? WHERE id = ?`, title, id)
}

func (r *Repository) MarkFeedFetched(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execAffecting(ctx, r.db, `UPDATE feeds SET last_fetched = ? WHERE id = ?`, fmtTime(at), id)
}

func (r *Repository) MarkFeedPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return execAffecting(ctx, r.db, `UPDATE feeds SET polled_at = ? WHERE id = ?`, fmtTime(at), id)
}

func (r *Repository) DeleteFeed(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) CreateItem(ctx context.Context, it *domain.FeedItem) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO feed_items (id, feed_id, guid, title, content, published_at, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (feed_id, guid) DO NOTHING`,
		it.ID, it.FeedID, it.GUID, it.Title, it.Content, fmtTime(it.PublishedAt), it.Read, fmtTime(it.CreatedAt))
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
		`SELECT EXISTS (SELECT 1 FROM feed_items WHERE feed_id = ? AND guid = ?)`, feedID, guid)
	return exists, err
}

func (r *Repository) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.FeedItem, error) {
	q := `SELECT id, feed_id, guid, title, content, published_at, read, created_at FROM feed_items`
	var conds []string
	var args []any
	if filter.FeedID != nil {
		conds = append(conds, "feed_id = ?")
		args = append(args, *filter.FeedID)
	}
	if filter.Read != nil {
		conds = append(conds, "read = ?")
		args = append(args, *filter.Read)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY published_at DESC, created_at DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	var out []domain.FeedItem
	err := r.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

func (r *Repository) CountItems(ctx context.Context, feedID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM feed_items WHERE feed_id = ?`, feedID)
	return n, err
}

func (r *Repository) MarkItemRead(ctx context.Context, id uuid.UUID, read bool) error {
	return execAffecting(ctx, r.db, `UPDATE feed_items SET read = ? WHERE id = ?`, read, id)
}

// MarkAllRead flips matching unread items to read. guid, feed_id, and
// created_at are never touched.
func (r *Repository) MarkAllRead(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	q := `UPDATE feed_items SET read = 1 WHERE read = 0`
	var args []any
	if filter.FeedID != nil {
		q += ` AND feed_id = ?`
		args = append(args, *filter.FeedID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

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

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
