package rss

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/adilkhash/minrss/domain"
)

// Parser adapts gofeed to the FeedParser port. Documents gofeed rejects
// outright get one repair pass (junk before the first tag, control
// characters, bare ampersands) and a retry; a parse that only succeeds
// after repair is reported as tolerated, not clean.
//
// Each call gets its own gofeed.Parser: gofeed memoizes its translators
// on first use without locking, so one shared instance is not safe
// across concurrent parses.
type Parser struct {
	client *Client
}

func NewParser(client *Client) *Parser {
	return &Parser{client: client}
}

// ParseURL fetches the document and parses it. The error is non-nil only
// for transport failures; malformed content comes back in the result.
func (p *Parser) ParseURL(ctx context.Context, feedURL string) (domain.ParseResult, error) {
	data, err := p.client.Get(ctx, feedURL)
	if err != nil {
		return domain.ParseResult{}, err
	}
	return p.Parse(data), nil
}

// Parse never fails: unusable input yields a failed status with the
// parser's complaint as the diagnostic.
func (p *Parser) Parse(data []byte) domain.ParseResult {
	inner := gofeed.NewParser()
	feed, err := inner.ParseString(string(data))
	if err == nil {
		return buildResult(feed, domain.ParseClean, "")
	}
	repaired, rerr := inner.ParseString(string(repair(data)))
	if rerr != nil {
		return domain.ParseResult{Status: domain.ParseFailed, Diagnostic: err.Error()}
	}
	return buildResult(repaired, domain.ParseTolerated, err.Error())
}

func buildResult(feed *gofeed.Feed, status domain.ParseStatus, diagnostic string) domain.ParseResult {
	res := domain.ParseResult{
		Title:      strings.TrimSpace(feed.Title),
		Status:     status,
		Diagnostic: diagnostic,
		Entries:    make([]domain.RawEntry, 0, len(feed.Items)),
	}
	for _, it := range feed.Items {
		res.Entries = append(res.Entries, rawEntry(it, feed.FeedType))
	}
	return res
}

// rawEntry flattens a gofeed item into the key-value view extraction
// probes. gofeed folds both Atom summaries and RSS descriptions into
// Description; the original element name is restored so field precedence
// stays faithful to the source format.
func rawEntry(it *gofeed.Item, feedType string) domain.RawEntry {
	e := domain.RawEntry{
		Strings: make(map[string]string),
		Times:   make(map[string]time.Time),
	}
	set := func(name, value string) {
		if value != "" {
			e.Strings[name] = value
		}
	}
	set("id", it.GUID)
	set("link", it.Link)
	set("title", it.Title)
	if strings.EqualFold(feedType, "atom") {
		set("summary", it.Description)
	} else {
		set("description", it.Description)
	}
	set("published", it.Published)
	set("updated", it.Updated)
	for name, value := range it.Custom {
		name = strings.ToLower(name)
		if i := strings.LastIndex(name, ":"); i >= 0 {
			name = name[i+1:]
		}
		if _, taken := e.Strings[name]; !taken {
			set(name, value)
		}
	}
	if it.PublishedParsed != nil {
		e.Times["published"] = *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		e.Times["updated"] = *it.UpdatedParsed
	}
	if it.Content != "" {
		e.Contents = append(e.Contents, it.Content)
	}
	return e
}

// repair applies the fixes that rescue the most common real-world feed
// defects: PHP warnings or whitespace before the XML declaration,
// control characters XML 1.0 forbids, and unescaped ampersands.
func repair(data []byte) []byte {
	s := string(data)
	if i := strings.IndexByte(s, '<'); i > 0 {
		s = s[i:]
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
	return []byte(escapeBareAmps(s))
}

// escapeBareAmps rewrites '&' to '&amp;' unless it already starts a
// character or entity reference.
func escapeBareAmps(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		if s[i] == '&' && !startsEntityRef(s[i+1:]) {
			b.WriteString("&amp;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func startsEntityRef(rest string) bool {
	end := strings.IndexByte(rest, ';')
	if end <= 0 || end > 10 {
		return false
	}
	for _, r := range rest[:end] {
		switch {
		case r == '#':
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
