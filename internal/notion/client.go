// Package notion provides the workspace adapter: a typed client for the
// Notion-style page/database REST API.
//
// The client handles pagination internally (callers never see partial
// pages), retries transient failures with capped exponential backoff, and
// maps HTTP status codes onto the shared error taxonomy:
//
//	401/403 -> syncerr.ErrAuth       (fatal, never retried)
//	404     -> syncerr.ErrNotFound   (treated as already deleted)
//	429/5xx -> syncerr.ErrTransient  (after retries are exhausted)
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/jmartens/lifesync/internal/syncerr"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"

	maxRetries = 3
	baseDelay  = time.Second
)

// Client talks to the workspace API. Safe for use from a single pass at a
// time; the engine never fans out across records.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *log.Logger
	calls   atomic.Int64
}

// New creates a workspace client. If logger is nil, a default logger
// writing to stderr is used.
func New(token string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[notion] ", log.LstdFlags)
	}
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Calls returns the number of API calls issued so far, for the pass
// accountant's summary line.
func (c *Client) Calls() int {
	return int(c.calls.Load())
}

// queryRequest is the database query body.
type queryRequest struct {
	Filter      json.RawMessage `json:"filter,omitempty"`
	Sorts       json.RawMessage `json:"sorts,omitempty"`
	PageSize    int             `json:"page_size"`
	StartCursor string          `json:"start_cursor,omitempty"`
}

type queryResponse struct {
	Results    []*Page `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

// QueryPages returns all pages of a database, optionally restricted to
// pages last edited after since. Pagination is handled internally.
func (c *Client) QueryPages(ctx context.Context, databaseID string, since *time.Time) ([]*Page, error) {
	var filter json.RawMessage
	if since != nil {
		f := map[string]any{
			"timestamp":        "last_edited_time",
			"last_edited_time": map[string]string{"after": since.UTC().Format(time.RFC3339)},
		}
		b, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal query filter: %w", err)
		}
		filter = b
	}

	var pages []*Page
	cursor := ""
	for {
		req := queryRequest{Filter: filter, PageSize: 100, StartCursor: cursor}
		var resp queryResponse
		if err := c.do(ctx, http.MethodPost, "/databases/"+databaseID+"/query", req, &resp); err != nil {
			return nil, fmt.Errorf("failed to query database %s: %w", databaseID, err)
		}
		pages = append(pages, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return pages, nil
}

// CountUpdatedSince counts pages edited after since. Used by the change
// check before an incremental pass; the result set is fetched but only
// its size is reported.
func (c *Client) CountUpdatedSince(ctx context.Context, databaseID string, since time.Time) (int, error) {
	pages, err := c.QueryPages(ctx, databaseID, &since)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// GetPage fetches a single page by id.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	if err := c.do(ctx, http.MethodGet, "/pages/"+pageID, nil, &page); err != nil {
		return nil, fmt.Errorf("failed to get page %s: %w", pageID, err)
	}
	return &page, nil
}

type createPageRequest struct {
	Parent     map[string]string `json:"parent"`
	Properties Properties        `json:"properties"`
}

// CreatePage creates a page in a database and returns it, including the
// server-assigned id and last-edit time.
func (c *Client) CreatePage(ctx context.Context, databaseID string, props Properties) (*Page, error) {
	req := createPageRequest{
		Parent:     map[string]string{"database_id": databaseID},
		Properties: props,
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/pages", req, &page); err != nil {
		return nil, fmt.Errorf("failed to create page in %s: %w", databaseID, err)
	}
	return &page, nil
}

// UpdatePage patches a page's properties and returns the updated page.
func (c *Client) UpdatePage(ctx context.Context, pageID string, props Properties) (*Page, error) {
	body := map[string]Properties{"properties": props}
	var page Page
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, &page); err != nil {
		return nil, fmt.Errorf("failed to update page %s: %w", pageID, err)
	}
	return &page, nil
}

// ArchivePage soft-deletes a page on the workspace side. Archiving an
// already-missing page returns ErrNotFound, which callers treat as done.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	body := map[string]bool{"archived": true}
	if err := c.do(ctx, http.MethodPatch, "/pages/"+pageID, body, nil); err != nil {
		return fmt.Errorf("failed to archive page %s: %w", pageID, err)
	}
	return nil
}

type blocksResponse struct {
	Results    []Block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

// GetPageBlocks returns the ordered body blocks of a page.
func (c *Client) GetPageBlocks(ctx context.Context, pageID string) ([]Block, error) {
	return c.children(ctx, pageID, false)
}

// GetBlockChildren returns the children of a nested block. Blocks that do
// not support children yield an empty slice, not an error.
func (c *Client) GetBlockChildren(ctx context.Context, blockID string) ([]Block, error) {
	return c.children(ctx, blockID, true)
}

func (c *Client) children(ctx context.Context, id string, tolerateMissing bool) ([]Block, error) {
	var blocks []Block
	cursor := ""
	for {
		path := "/blocks/" + id + "/children"
		if cursor != "" {
			path += "?start_cursor=" + url.QueryEscape(cursor)
		}
		var resp blocksResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			if tolerateMissing && isStatusErr(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to get blocks for %s: %w", id, err)
		}
		blocks = append(blocks, resp.Results...)
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}
	return blocks, nil
}

func isStatusErr(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.code == http.StatusBadRequest || se.code == http.StatusNotFound)
}

// statusError carries the HTTP status for taxonomy mapping.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("workspace API returned %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error {
	switch {
	case e.code == http.StatusUnauthorized || e.code == http.StatusForbidden:
		return syncerr.ErrAuth
	case e.code == http.StatusNotFound:
		return syncerr.ErrNotFound
	case e.code == http.StatusConflict:
		return syncerr.ErrUniqueness
	case e.code == http.StatusTooManyRequests || e.code >= 500:
		return syncerr.ErrTransient
	}
	return nil
}

// do issues one logical API call with capped exponential backoff on
// transient failures. Auth and not-found responses are returned
// immediately; retrying either wastes quota.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !syncerr.IsRetryable(err) {
			return err
		}
		c.logger.Printf("WARNING: retrying %s %s after transient error: %v", method, path, err)
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	c.calls.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w: %v", syncerr.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: %w", method, path, &statusError{code: resp.StatusCode, body: string(b)})
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
