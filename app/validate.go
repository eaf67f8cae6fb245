package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/adilkhash/minrss/domain"
)

// Validator confirms a URL points at a live, parseable feed before it is
// accepted. It never writes to the store.
type Validator struct {
	parser domain.FeedParser
}

func NewValidator(parser domain.FeedParser) *Validator {
	return &Validator{parser: parser}
}

// Validate returns nil when the URL passes the static checks and the
// resource behaves as a feed; otherwise the error states which check
// failed. A parse that needed repair still passes as long as it yielded
// a title or entries.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	if err := checkURL(rawURL); err != nil {
		return err
	}
	res, err := v.parser.ParseURL(ctx, rawURL)
	if err != nil {
		return err
	}
	if res.Status == domain.ParseFailed {
		return fmt.Errorf("%w: %s", domain.ErrNotAFeed, res.Diagnostic)
	}
	if !res.Usable() {
		return fmt.Errorf("%w: no title and no entries", domain.ErrNotAFeed)
	}
	return nil
}

// checkURL applies the static checks: non-empty, absolute, http or
// https. No network I/O.
func checkURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return domain.ErrEmptyURL
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", domain.ErrInvalidURL, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q", domain.ErrSchemeNotAllowed, u.Scheme)
	}
	return nil
}
