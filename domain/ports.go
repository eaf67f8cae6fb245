package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FeedRepository is the persistence port for feeds and their items.
type FeedRepository interface {
	Ensure(ctx context.Context) error

	CreateFeed(ctx context.Context, f *Feed) error
	FeedByID(ctx context.Context, id uuid.UUID) (Feed, error)
	FeedByURL(ctx context.Context, url string) (Feed, error)
	ListFeeds(ctx context.Context, limit int) ([]Feed, error)
	StaleFeeds(ctx context.Context, limit int) ([]Feed, error)
	UpdateFeedTitle(ctx context.Context, id uuid.UUID, title string) error
	MarkFeedFetched(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFeedPolled(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteFeed(ctx context.Context, id uuid.UUID) (int64, error)

	CreateItem(ctx context.Context, it *FeedItem) error
	ItemExists(ctx context.Context, feedID uuid.UUID, guid string) (bool, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]FeedItem, error)
	CountItems(ctx context.Context, feedID uuid.UUID) (int, error)
	MarkItemRead(ctx context.Context, id uuid.UUID, read bool) error
	MarkAllRead(ctx context.Context, filter ItemFilter) (int64, error)
}

// ItemFilter narrows item reads and bulk updates. Nil fields match
// everything; Limit 0 means no limit. MarkAllRead honors only FeedID.
type ItemFilter struct {
	FeedID *uuid.UUID
	Read   *bool
	Limit  int
}

// FeedParser turns a remote feed document into a ParseResult. ParseURL
// fetches the document itself and reports transport failures through the
// error; Parse never fails, reporting malformed input through the result
// status instead.
type FeedParser interface {
	ParseURL(ctx context.Context, feedURL string) (ParseResult, error)
	Parse(data []byte) ParseResult
}

// Aggregator exposes application-level controls for background polling.
type Aggregator interface {
	Start(ctx context.Context) error
	Stop() error

	SetInterval(d time.Duration)
	Resize(workers int) error
	CurrentInterval() time.Duration
	CurrentWorkers() int
}
