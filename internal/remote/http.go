package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appErrors "toaupdate/internal/errors"
)

// DefaultRawHost is the raw-content host used when no base URL is configured.
const DefaultRawHost = "https://raw.githubusercontent.com"

// RawURL returns the raw-content base URL for a repository branch.
func RawURL(owner, repo, branch string) string {
	if branch == "" {
		branch = "main"
	}
	return fmt.Sprintf("%s/%s/%s/%s", DefaultRawHost, owner, repo, branch)
}

// StatusError reports a non-200 response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Unwrap maps 404 onto ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// HTTPSource reads objects with plain GET requests against a base URL.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	now        func() time.Time
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.httpClient = client
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(s *HTTPSource) {
		s.userAgent = ua
	}
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Per-request deadlines come from Request.Timeout; downloads of
		// large assets must not be cut by a client-wide limit.
		httpClient: &http.Client{},
		userAgent:  "toaupdate",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseURL returns the configured base URL.
func (s *HTTPSource) BaseURL() string {
	return s.baseURL
}

// Open issues GET {base}/{path}. On a NoCache request the usual cache
// defeating headers are sent and a timestamp query parameter is appended.
func (s *HTTPSource) Open(ctx context.Context, req Request) (*Object, error) {
	target, err := s.objectURL(req)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeConfigurationError, "build request URL", err)
	}

	ctx, cancel := withTimeout(ctx, req.Timeout)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		cancel()
		return nil, appErrors.New(appErrors.CodeTransientNetwork, "create request", err)
	}
	httpReq.Header.Set("User-Agent", s.userAgent)
	if req.NoCache {
		httpReq.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		httpReq.Header.Set("Pragma", "no-cache")
		httpReq.Header.Set("Expires", "0")
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, appErrors.New(appErrors.CodeTransientNetwork, "GET "+redactURL(target), err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, appErrors.New(appErrors.CodeTransientNetwork, "",
			&StatusError{URL: redactURL(target), StatusCode: resp.StatusCode})
	}

	return &Object{
		Body: &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Size: resp.ContentLength,
	}, nil
}

func (s *HTTPSource) objectURL(req Request) (string, error) {
	u, err := url.Parse(s.baseURL + "/" + escapePath(cleanPath(req.Path)))
	if err != nil {
		return "", err
	}
	if req.NoCache {
		q := u.Query()
		q.Set("t", strconv.FormatInt(s.now().UnixNano(), 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// redactURL strips query parameters and fragments from a URL for safe inclusion
// in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
