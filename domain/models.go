package domain

import (
	"time"

	"github.com/google/uuid"
)

// Feed is a subscribed remote source identified by its URL. Title stays
// empty until the first successful fetch of a titled feed; LastFetched
// stays nil until a sync actually creates items. PolledAt is bumped on
// every poll attempt whatever its outcome, so the queue rotates past
// quiet and failing feeds too.
type Feed struct {
	ID          uuid.UUID  `db:"id"`
	URL         string     `db:"url"`
	Title       string     `db:"title"`
	LastFetched *time.Time `db:"last_fetched"`
	PolledAt    *time.Time `db:"polled_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

func NewFeed(url string) *Feed {
	return &Feed{
		ID:        uuid.New(),
		URL:       url,
		CreatedAt: time.Now().UTC(),
	}
}

// DisplayTitle falls back to the URL while the title is unset.
func (f Feed) DisplayTitle() string {
	if f.Title != "" {
		return f.Title
	}
	return f.URL
}

// FeedItem is one ingested entry. (FeedID, GUID) is its identity; the
// store enforces uniqueness on that pair.
type FeedItem struct {
	ID          uuid.UUID `db:"id"`
	FeedID      uuid.UUID `db:"feed_id"`
	GUID        string    `db:"guid"`
	Title       string    `db:"title"`
	Content     string    `db:"content"`
	PublishedAt time.Time `db:"published_at"`
	Read        bool      `db:"read"`
	CreatedAt   time.Time `db:"created_at"`
}

func NewFeedItem(feedID uuid.UUID, it ExtractedItem) *FeedItem {
	return &FeedItem{
		ID:          uuid.New(),
		FeedID:      feedID,
		GUID:        it.GUID,
		Title:       it.Title,
		Content:     it.Content,
		PublishedAt: it.PublishedAt,
		CreatedAt:   time.Now().UTC(),
	}
}

// ParseStatus tags the outcome of one parse attempt.
type ParseStatus int

const (
	ParseClean ParseStatus = iota
	ParseTolerated
	ParseFailed
)

func (s ParseStatus) String() string {
	switch s {
	case ParseClean:
		return "clean"
	case ParseTolerated:
		return "tolerated"
	case ParseFailed:
		return "failed"
	}
	return "unknown"
}

// ParseResult is the normalized output of the feed parser. Entries keep
// the source document's order. Diagnostic carries the parser's complaint
// for tolerated and failed outcomes.
type ParseResult struct {
	Title      string
	Entries    []RawEntry
	Status     ParseStatus
	Diagnostic string
}

// Usable reports whether the parse yielded anything a consumer can work
// with: a feed-level title or at least one entry.
func (r ParseResult) Usable() bool {
	return r.Title != "" || len(r.Entries) > 0
}

// RawEntry is a uniform key-value view over one parsed entry. Source
// formats name the same data differently, so extraction probes fields by
// name in a fixed precedence order instead of addressing struct fields.
type RawEntry struct {
	Strings  map[string]string
	Times    map[string]time.Time
	Contents []string
}

// Field returns the named string field, "" when absent.
func (e RawEntry) Field(name string) string {
	return e.Strings[name]
}

// TimeField returns the named timestamp when the parser resolved one.
func (e RawEntry) TimeField(name string) (time.Time, bool) {
	t, ok := e.Times[name]
	return t, ok
}

// ExtractedItem holds the normalized fields pulled out of one RawEntry.
// GUID "" means the entry has no usable identifier and cannot be
// deduplicated; a zero PublishedAt means no source field parsed as a
// date and the caller decides the placeholder.
type ExtractedItem struct {
	GUID        string
	Title       string
	Content     string
	PublishedAt time.Time
}
