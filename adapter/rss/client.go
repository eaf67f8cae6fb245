package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/adilkhash/minrss/domain"
)

// Defaults used when the corresponding constructor argument is zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "RSS Feed Reader/1.0"
)

// maxBodyBytes caps how much of a response is read; feeds larger than
// this are truncated and almost certainly not feeds anyway.
const maxBodyBytes = 10 << 20

// Client performs bounded feed fetches: fixed timeout, capped redirect
// chain, capped response size.
type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(timeout time.Duration, maxRedirects int, userAgent string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return domain.ErrTooManyRedirects
				}
				return nil
			},
		},
		userAgent: userAgent,
	}
}

// Get fetches the URL and returns the response body, or a transport
// error classified into timeout, redirect-cap, connection, or HTTP
// status failure.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(err)
	}
	return body, nil
}

func classify(err error) error {
	if errors.Is(err, domain.ErrTooManyRedirects) {
		return domain.ErrTooManyRedirects
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConnection, err)
}
