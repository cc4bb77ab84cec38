// Package transport performs the HTTP fetches for manifests, keys and
// media segments. Origins frequently answer an expired session with an
// HTTP 200 HTML login page, so callers sniff bodies with LooksLikeHTML
// before trusting a "successful" segment fetch.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultUserAgent = "streamvault/1.0"

// Client wraps an http.Client with the headers media origins expect.
type Client struct {
	client    *http.Client
	userAgent string
}

// Options customizes a single fetch.
type Options struct {
	Headers map[string]string
	Cookies string
	// ByteRange uses the HLS "length@offset" form and is translated to an
	// HTTP Range header.
	ByteRange string
	UserAgent string
}

// New creates a transport client with a bounded per-request timeout. A
// timed-out fetch is indistinguishable from any other network failure as
// far as retry policy is concerned.
func New(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Fetch performs a GET and returns the full body.
func (c *Client) Fetch(ctx context.Context, url string, opts Options) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = c.userAgent
	}
	req.Header.Set("User-Agent", ua)

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.Cookies != "" {
		req.Header.Set("Cookie", opts.Cookies)
	}
	if opts.ByteRange != "" {
		rng, err := RangeHeader(opts.ByteRange)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", rng)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return body, nil
}

// RangeHeader converts an HLS "length@offset" byte-range descriptor into
// an HTTP Range header value.
func RangeHeader(byteRange string) (string, error) {
	lengthStr, offsetStr, ok := strings.Cut(byteRange, "@")
	if !ok {
		return "", fmt.Errorf("malformed byte range %q", byteRange)
	}

	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil || length <= 0 {
		return "", fmt.Errorf("malformed byte range length %q", byteRange)
	}
	offset, err := strconv.ParseInt(offsetStr, 10, 64)
	if err != nil || offset < 0 {
		return "", fmt.Errorf("malformed byte range offset %q", byteRange)
	}

	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1), nil
}

// LooksLikeHTML reports whether a response body is an HTML document. Used
// to reject authentication walls that return 200 with a login page where a
// media segment was expected.
func LooksLikeHTML(body []byte) bool {
	s := string(body[:min(len(body), 256)])
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.TrimLeft(s, " \t\r\n")
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}
