package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/adilkhash/minrss/domain"
)

// memRepo is an in-memory FeedRepository with the same contract as the
// SQL stores: ErrDuplicateFeed/ErrDuplicateItem on conflicts, ErrNotFound
// on missing rows, newest-first item listing. Guarded by a mutex so
// worker-pool tests can share it.
type memRepo struct {
	mu    sync.Mutex
	feeds map[uuid.UUID]domain.Feed
	items []domain.FeedItem

	existsErr map[string]error // guid -> injected ItemExists failure
	createErr map[string]error // guid -> injected CreateItem failure
}

func newMemRepo() *memRepo {
	return &memRepo{feeds: make(map[uuid.UUID]domain.Feed)}
}

func (r *memRepo) Ensure(ctx context.Context) error { return nil }

func (r *memRepo) CreateFeed(ctx context.Context, f *domain.Feed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.feeds {
		if existing.URL == f.URL {
			return domain.ErrDuplicateFeed
		}
	}
	r.feeds[f.ID] = *f
	return nil
}

func (r *memRepo) FeedByID(ctx context.Context, id uuid.UUID) (domain.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return domain.Feed{}, domain.ErrNotFound
	}
	return f, nil
}

func (r *memRepo) FeedByURL(ctx context.Context, url string) (domain.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.feeds {
		if f.URL == url {
			return f, nil
		}
	}
	return domain.Feed{}, domain.ErrNotFound
}

func (r *memRepo) ListFeeds(ctx context.Context, limit int) ([]domain.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) StaleFeeds(ctx context.Context, limit int) ([]domain.Feed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	staleness := func(f domain.Feed) time.Time {
		if f.PolledAt != nil {
			return *f.PolledAt
		}
		return f.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := staleness(out[i]), staleness(out[j])
		if si.Equal(sj) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return si.Before(sj)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) UpdateFeedTitle(ctx context.Context, id uuid.UUID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.Title = title
	r.feeds[id] = f
	return nil
}

func (r *memRepo) MarkFeedFetched(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.LastFetched = &at
	r.feeds[id] = f
	return nil
}

func (r *memRepo) MarkFeedPolled(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.feeds[id]
	if !ok {
		return domain.ErrNotFound
	}
	f.PolledAt = &at
	r.feeds[id] = f
	return nil
}

func (r *memRepo) DeleteFeed(ctx context.Context, id uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.feeds[id]; !ok {
		return 0, nil
	}
	delete(r.feeds, id)
	kept := r.items[:0]
	for _, it := range r.items {
		if it.FeedID != id {
			kept = append(kept, it)
		}
	}
	r.items = kept
	return 1, nil
}

func (r *memRepo) CreateItem(ctx context.Context, it *domain.FeedItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.createErr[it.GUID]; ok {
		return err
	}
	for _, existing := range r.items {
		if existing.FeedID == it.FeedID && existing.GUID == it.GUID {
			return domain.ErrDuplicateItem
		}
	}
	r.items = append(r.items, *it)
	return nil
}

func (r *memRepo) ItemExists(ctx context.Context, feedID uuid.UUID, guid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.existsErr[guid]; ok {
		return false, err
	}
	for _, it := range r.items {
		if it.FeedID == feedID && it.GUID == guid {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.FeedItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FeedItem
	for _, it := range r.items {
		if filter.FeedID != nil && it.FeedID != *filter.FeedID {
			continue
		}
		if filter.Read != nil && it.Read != *filter.Read {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memRepo) CountItems(ctx context.Context, feedID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.FeedID == feedID {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) MarkItemRead(ctx context.Context, id uuid.UUID, read bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id {
			r.items[i].Read = read
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *memRepo) MarkAllRead(ctx context.Context, filter domain.ItemFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.items {
		if r.items[i].Read {
			continue
		}
		if filter.FeedID != nil && r.items[i].FeedID != *filter.FeedID {
			continue
		}
		r.items[i].Read = true
		n++
	}
	return n, nil
}

// rawEntry builds a minimal entry with the given id and title.
func rawEntry(id, title string) domain.RawEntry {
	s := map[string]string{}
	if id != "" {
		s["id"] = id
	}
	if title != "" {
		s["title"] = title
	}
	return domain.RawEntry{Strings: s}
}

func cleanResult(title string, entries ...domain.RawEntry) domain.ParseResult {
	return domain.ParseResult{Title: title, Entries: entries, Status: domain.ParseClean}
}

func seedFeed(t *testing.T, repo *memRepo, url string) domain.Feed {
	t.Helper()
	f := domain.NewFeed(url)
	if err := repo.CreateFeed(context.Background(), f); err != nil {
		t.Fatalf("CreateFeed failed: %v", err)
	}
	return *f
}

func TestSync_CreatesNewItems(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "First"),
		rawEntry("b", "Second"),
	)}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 2 {
		t.Errorf("Created = %d, want 2", rep.Created)
	}
	if len(rep.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", rep.Skipped)
	}

	items, err := repo.ListItems(context.Background(), domain.ItemFilter{FeedID: &feed.ID})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 stored items, got %d", len(items))
	}

	stored, _ := repo.FeedByID(context.Background(), feed.ID)
	if stored.LastFetched == nil {
		t.Error("Expected LastFetched to be set after a sync that created items")
	}
}

func TestSync_SecondPassCreatesNothing(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "First"),
		rawEntry("b", "Second"),
	)}
	syncer := NewSyncer(repo, parser, nil)

	if _, err := syncer.Sync(context.Background(), feed); err != nil {
		t.Fatalf("First sync failed: %v", err)
	}
	first, _ := repo.FeedByID(context.Background(), feed.ID)
	if first.LastFetched == nil {
		t.Fatal("Expected LastFetched after the first sync")
	}

	rep, err := syncer.Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Second sync failed: %v", err)
	}
	if rep.Created != 0 {
		t.Errorf("Created = %d, want 0 on unchanged remote", rep.Created)
	}
	if len(rep.Skipped) != 2 {
		t.Fatalf("Skipped = %d entries, want 2", len(rep.Skipped))
	}
	for _, s := range rep.Skipped {
		if s.Reason != SkipAlreadyIngested {
			t.Errorf("Skip reason = %q, want %q", s.Reason, SkipAlreadyIngested)
		}
	}

	n, _ := repo.CountItems(context.Background(), feed.ID)
	if n != 2 {
		t.Errorf("CountItems = %d, want 2", n)
	}

	// No items created, so the fetch marker must not move.
	second, _ := repo.FeedByID(context.Background(), feed.ID)
	if !second.LastFetched.Equal(*first.LastFetched) {
		t.Errorf("LastFetched moved from %v to %v", first.LastFetched, second.LastFetched)
	}
}

func TestSync_DuplicateGUIDWithinOneFetch(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "Hello"),
		rawEntry("a", "Hello again"),
	)}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 1 {
		t.Errorf("Created = %d, want 1", rep.Created)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Reason != SkipAlreadyIngested {
		t.Errorf("Skipped = %v, want one entry skipped as already ingested", rep.Skipped)
	}

	items, _ := repo.ListItems(context.Background(), domain.ItemFilter{FeedID: &feed.ID})
	if len(items) != 1 {
		t.Fatalf("Expected 1 stored item, got %d", len(items))
	}
	if items[0].Title != "Hello" {
		t.Errorf("Stored title = %q, want %q (first occurrence wins)", items[0].Title, "Hello")
	}
}

func TestSync_SkipsEntriesWithoutIdentifier(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "One"),
		rawEntry("b", "Two"),
		rawEntry("", "No identity"),
		rawEntry("d", "Four"),
		rawEntry("e", "Five"),
	)}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 4 {
		t.Errorf("Created = %d, want 4", rep.Created)
	}
	if len(rep.Skipped) != 1 {
		t.Fatalf("Skipped = %d entries, want 1", len(rep.Skipped))
	}
	if rep.Skipped[0].Reason != SkipNoIdentifier {
		t.Errorf("Skip reason = %q, want %q", rep.Skipped[0].Reason, SkipNoIdentifier)
	}
	if rep.Skipped[0].Title != "No identity" {
		t.Errorf("Skip title = %q, want %q", rep.Skipped[0].Title, "No identity")
	}
}

func TestSync_LinkServesAsIdentifier(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog", domain.RawEntry{
		Strings: map[string]string{"link": "https://example.com/post/1", "title": "Linked"},
	})}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 1 {
		t.Fatalf("Created = %d, want 1", rep.Created)
	}

	items, _ := repo.ListItems(context.Background(), domain.ItemFilter{FeedID: &feed.ID})
	if items[0].GUID != "https://example.com/post/1" {
		t.Errorf("GUID = %q, want the link", items[0].GUID)
	}
}

func TestSync_TransportError(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{err: domain.ErrConnection}

	_, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("Sync() error = %v, want ErrConnection", err)
	}

	stored, _ := repo.FeedByID(context.Background(), feed.ID)
	if stored.LastFetched != nil {
		t.Error("LastFetched must stay nil after a failed sync")
	}
}

func TestSync_ParseFailed(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: domain.ParseResult{Status: domain.ParseFailed, Diagnostic: "not xml"}}

	_, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if !errors.Is(err, domain.ErrNotAFeed) {
		t.Errorf("Sync() error = %v, want ErrNotAFeed", err)
	}
}

func TestSync_ToleratedButEmptyFails(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: domain.ParseResult{Status: domain.ParseTolerated, Diagnostic: "recovered nothing"}}

	_, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if !errors.Is(err, domain.ErrNotAFeed) {
		t.Errorf("Sync() error = %v, want ErrNotAFeed", err)
	}
}

func TestSync_ToleratedUsableIsProcessed(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: domain.ParseResult{
		Title:      "Blog",
		Entries:    []domain.RawEntry{rawEntry("a", "One")},
		Status:     domain.ParseTolerated,
		Diagnostic: "bare ampersand",
	}}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 1 {
		t.Errorf("Created = %d, want 1", rep.Created)
	}
}

func TestSync_CleanEmptyFeedIsNotAnError(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Quiet Blog")}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 0 {
		t.Errorf("Created = %d, want 0", rep.Created)
	}

	stored, _ := repo.FeedByID(context.Background(), feed.ID)
	if stored.LastFetched != nil {
		t.Error("LastFetched must stay nil when nothing was created")
	}
}

func TestSync_FillsEmptyFeedTitle(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("My Blog", rawEntry("a", "One"))}

	if _, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	stored, _ := repo.FeedByID(context.Background(), feed.ID)
	if stored.Title != "My Blog" {
		t.Errorf("Title = %q, want %q", stored.Title, "My Blog")
	}
}

func TestSync_KeepsExistingFeedTitle(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	if err := repo.UpdateFeedTitle(context.Background(), feed.ID, "Chosen Name"); err != nil {
		t.Fatalf("UpdateFeedTitle failed: %v", err)
	}
	feed.Title = "Chosen Name"
	parser := &stubParser{result: cleanResult("Remote Name", rawEntry("a", "One"))}

	if _, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	stored, _ := repo.FeedByID(context.Background(), feed.ID)
	if stored.Title != "Chosen Name" {
		t.Errorf("Title = %q, want the existing title kept", stored.Title)
	}
}

func TestSync_UndatedEntryGetsIngestionTime(t *testing.T) {
	repo := newMemRepo()
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog", rawEntry("a", "Undated"))}

	before := time.Now().UTC()
	if _, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	after := time.Now().UTC()

	items, _ := repo.ListItems(context.Background(), domain.ItemFilter{FeedID: &feed.ID})
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	got := items[0].PublishedAt
	if got.Before(before) || got.After(after) {
		t.Errorf("PublishedAt = %v, want within [%v, %v]", got, before, after)
	}
}

func TestSync_ExistsCheckFailureIsContained(t *testing.T) {
	repo := newMemRepo()
	repo.existsErr = map[string]error{"b": errors.New("connection reset")}
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "One"),
		rawEntry("b", "Two"),
		rawEntry("c", "Three"),
	)}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 2 {
		t.Errorf("Created = %d, want 2", rep.Created)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Reason != SkipStoreError {
		t.Errorf("Skipped = %v, want one store-error skip", rep.Skipped)
	}
}

func TestSync_PersistTimeDuplicateIsContained(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = map[string]error{"a": domain.ErrDuplicateItem}
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "Raced"),
		rawEntry("b", "Fine"),
	)}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 1 {
		t.Errorf("Created = %d, want 1", rep.Created)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Reason != SkipDuplicate {
		t.Errorf("Skipped = %v, want one persist-time duplicate skip", rep.Skipped)
	}
}

func TestSync_CreateFailureIsContained(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = map[string]error{"a": errors.New("disk full")}
	feed := seedFeed(t, repo, "https://example.com/feed.xml")
	parser := &stubParser{result: cleanResult("Blog",
		rawEntry("a", "Broken"),
		rawEntry("b", "Fine"),
	)}

	rep, err := NewSyncer(repo, parser, nil).Sync(context.Background(), feed)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if rep.Created != 1 {
		t.Errorf("Created = %d, want 1", rep.Created)
	}
	if len(rep.Skipped) != 1 || rep.Skipped[0].Reason != SkipStoreError {
		t.Errorf("Skipped = %v, want one store-error skip", rep.Skipped)
	}
}
