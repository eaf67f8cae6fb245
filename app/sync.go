package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adilkhash/minrss/domain"
)

// SkipReason explains why one entry was not persisted.
type SkipReason string

const (
	SkipNoIdentifier    SkipReason = "no usable identifier"
	SkipAlreadyIngested SkipReason = "already ingested"
	SkipDuplicate       SkipReason = "duplicate at persist time"
	SkipStoreError      SkipReason = "store error"
)

// Skip records one skipped entry.
type Skip struct {
	GUID   string
	Title  string
	Reason SkipReason
}

// Report describes the outcome of one sync pass. Created counts items
// actually persisted; Skipped lists every entry that was not, with the
// reason.
type Report struct {
	Created int
	Skipped []Skip
}

func (r *Report) skip(it domain.ExtractedItem, reason SkipReason) {
	r.Skipped = append(r.Skipped, Skip{GUID: it.GUID, Title: it.Title, Reason: reason})
}

// Syncer fetches a feed, extracts its entries, and persists the ones not
// seen before. Safe for concurrent use across distinct feeds; concurrent
// syncs of the same feed are arbitrated by the store's (feed, guid)
// uniqueness constraint.
type Syncer struct {
	repo   domain.FeedRepository
	parser domain.FeedParser
	log    *slog.Logger
}

func NewSyncer(repo domain.FeedRepository, parser domain.FeedParser, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{repo: repo, parser: parser, log: log}
}

// Sync runs one fetch-and-sync pass for the feed. The error is non-nil
// only when the fetch or parse itself failed; per-entry problems are
// contained in Report.Skipped. Created == 0 with a nil error means the
// remote simply had nothing new. Calling Sync again with an unchanged
// remote creates nothing.
func (s *Syncer) Sync(ctx context.Context, feed domain.Feed) (Report, error) {
	var rep Report

	res, err := s.parser.ParseURL(ctx, feed.URL)
	if err != nil {
		return rep, err
	}
	if res.Status == domain.ParseFailed || (res.Status == domain.ParseTolerated && !res.Usable()) {
		return rep, fmt.Errorf("%w: %s", domain.ErrNotAFeed, res.Diagnostic)
	}

	log := s.log.With("feed", feed.URL)
	if res.Status == domain.ParseTolerated {
		log.Debug("parse recovered after repair", "diagnostic", res.Diagnostic)
	}

	if feed.Title == "" && res.Title != "" {
		if err := s.repo.UpdateFeedTitle(ctx, feed.ID, res.Title); err != nil {
			log.Error("feed title update failed", "error", err)
		}
	}

	for _, raw := range res.Entries {
		item := ExtractEntry(raw)
		if item.GUID == "" {
			rep.skip(item, SkipNoIdentifier)
			log.Warn("entry has no usable identifier, skipping", "title", item.Title)
			continue
		}
		exists, err := s.repo.ItemExists(ctx, feed.ID, item.GUID)
		if err != nil {
			rep.skip(item, SkipStoreError)
			log.Error("existence check failed", "guid", item.GUID, "error", err)
			continue
		}
		if exists {
			rep.skip(item, SkipAlreadyIngested)
			continue
		}
		if item.PublishedAt.IsZero() {
			item.PublishedAt = time.Now().UTC()
		}
		if err := s.repo.CreateItem(ctx, domain.NewFeedItem(feed.ID, item)); err != nil {
			if errors.Is(err, domain.ErrDuplicateItem) {
				rep.skip(item, SkipDuplicate)
				continue
			}
			rep.skip(item, SkipStoreError)
			log.Error("item create failed", "guid", item.GUID, "error", err)
			continue
		}
		rep.Created++
	}

	if rep.Created > 0 {
		if err := s.repo.MarkFeedFetched(ctx, feed.ID, time.Now().UTC()); err != nil {
			log.Error("last-fetched update failed", "error", err)
		}
	}
	return rep, nil
}
