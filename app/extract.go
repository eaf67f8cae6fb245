package app

import (
	"strings"
	"time"

	"github.com/adilkhash/minrss/domain"
)

// UntitledPlaceholder is stored when a source entry carries no title.
const UntitledPlaceholder = "Untitled"

// Field names probed in precedence order. First hit wins.
var (
	guidFields    = []string{"id", "link"}
	contentFields = []string{"summary", "description"}
	dateFields    = []string{"published", "updated", "created"}
)

// dateLayouts are tried in order against raw date strings when the
// parser did not resolve a timestamp itself.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ExtractEntry normalizes one raw entry. Pure and total: any entry shape
// yields a best-effort result, with absence encoded as "" for GUID and
// the zero time for PublishedAt.
func ExtractEntry(e domain.RawEntry) domain.ExtractedItem {
	out := domain.ExtractedItem{Title: UntitledPlaceholder}
	for _, name := range guidFields {
		if v := e.Field(name); v != "" {
			out.GUID = v
			break
		}
	}
	if t := strings.TrimSpace(e.Field("title")); t != "" {
		out.Title = t
	}
	out.Content = extractContent(e)
	out.PublishedAt = extractPublished(e)
	return out
}

// extractContent prefers the structured content list; a non-empty list
// wins even when its first payload is empty, matching how feed readers
// treat an explicit empty content element.
func extractContent(e domain.RawEntry) string {
	if len(e.Contents) > 0 {
		return e.Contents[0]
	}
	for _, name := range contentFields {
		if v := e.Field(name); v != "" {
			return v
		}
	}
	return ""
}

func extractPublished(e domain.RawEntry) time.Time {
	for _, name := range dateFields {
		if t, ok := e.TimeField(name); ok {
			return t
		}
	}
	for _, name := range dateFields {
		v := strings.TrimSpace(e.Field(name))
		if v == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
