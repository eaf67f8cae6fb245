package domain

import (
	"errors"
	"fmt"
)

// Input failures, detected before any I/O.
var (
	ErrEmptyURL         = errors.New("feed URL is empty")
	ErrInvalidURL       = errors.New("feed URL is not a valid absolute URL")
	ErrSchemeNotAllowed = errors.New("feed URL scheme must be http or https")
)

// Transport failures. Retryable; a single fetch aborts, the process
// never does.
var (
	ErrTimeout          = errors.New("request timed out")
	ErrConnection       = errors.New("connection failed")
	ErrTooManyRedirects = errors.New("too many redirects")
)

// ErrNotAFeed reports content with no usable feed structure.
var ErrNotAFeed = errors.New("not a recognizable feed")

// Store outcomes.
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateFeed = errors.New("feed already exists")
	ErrDuplicateItem = errors.New("feed item already exists")
)

// HTTPStatusError reports a non-2xx response from the remote server.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %s", e.Status)
}
