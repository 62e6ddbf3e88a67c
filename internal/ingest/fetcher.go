package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"hayvn/listing-pipeline/internal/config"
	"hayvn/listing-pipeline/internal/model"
)

const (
	// MaxPageSize is the largest $top the listing-query protocol accepts.
	MaxPageSize    = 300
	resourceSuffix = "/Property"
	maxBodySnippet = 200
	maxPageBytes   = 64 << 20
)

// Fetcher pulls every raw record a connection exposes, within the page
// ceiling.
type Fetcher interface {
	FetchAll(ctx context.Context, conn model.Connection) ([]json.RawMessage, error)
}

// UpstreamError is a non-2xx response from a listing feed.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// HTTPFetcher pages through a connection's listing-query endpoint using
// $top/$skip, one request at a time.
type HTTPFetcher struct {
	pageSize int
	maxPages int
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPFetcher constructs a fetcher with a shared HTTP client. The page
// size is capped at MaxPageSize.
func NewHTTPFetcher(cfg config.SyncConfig, logger *slog.Logger) *HTTPFetcher {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	return &HTTPFetcher{
		pageSize: pageSize,
		maxPages: maxPages,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger:   logger,
	}
}

// FetchAll requests pages in strict sequence, advancing $skip by one page
// each round, until a short page or the page ceiling.
func (f *HTTPFetcher) FetchAll(ctx context.Context, conn model.Connection) ([]json.RawMessage, error) {
	endpoint, err := ListingEndpoint(conn.EndpointURL)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	for page := 0; page < f.maxPages; page++ {
		batch, err := f.fetchPage(ctx, endpoint, conn, page*f.pageSize)
		if err != nil {
			return records, fmt.Errorf("page %d: %w", page+1, err)
		}
		records = append(records, batch...)
		if len(batch) < f.pageSize {
			return records, nil
		}
	}

	f.logger.Warn("page ceiling reached", "connectionId", conn.ID, "pages", f.maxPages, "records", len(records))
	return records, nil
}

func (f *HTTPFetcher) fetchPage(ctx context.Context, endpoint *url.URL, conn model.Connection, skip int) ([]json.RawMessage, error) {
	u := *endpoint
	params := u.Query()
	params.Set("$top", strconv.Itoa(f.pageSize))
	params.Set("$skip", strconv.Itoa(skip))
	if conn.SupportsFilter && strings.TrimSpace(conn.FilterExpr) != "" {
		params.Set("$filter", conn.FilterExpr)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+conn.Credential)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxBodySnippet)}
	}

	return decodePage(body)
}

// ListingEndpoint makes sure the stored URL targets the listing resource.
func ListingEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("endpoint %q is not an absolute http(s) URL", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(strings.ToLower(path), strings.ToLower(resourceSuffix)) {
		path += resourceSuffix
	}
	u.Path = path
	u.RawPath = ""
	return u, nil
}

// pageEnvelope covers the envelopes vendors wrap result rows in.
type pageEnvelope struct {
	Value   []json.RawMessage `json:"value"`
	Results []json.RawMessage `json:"results"`
	Data    []json.RawMessage `json:"data"`
}

func decodePage(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	if trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("json unmarshal: %w", err)
		}
		return rows, nil
	}

	var env pageEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	switch {
	case env.Value != nil:
		return env.Value, nil
	case env.Results != nil:
		return env.Results, nil
	case env.Data != nil:
		return env.Data, nil
	}
	return nil, errors.New("response has no value, results or data array")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
