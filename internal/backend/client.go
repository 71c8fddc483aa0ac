package backend

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
	"time"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/skipblock"
	"github.com/roach88/harvest/internal/store"
)

// Client defaults.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// Client talks to a Server. Transport failures and 5xx answers are
// retried with a fixed delay, up to the attempt limit.
type Client struct {
	baseURL     string
	http        *http.Client
	maxAttempts int
	retryDelay  time.Duration
	clock       skipblock.Clock
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithRetry sets the attempt limit and the delay between attempts.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		c.retryDelay = delay
	}
}

// WithClientClock replaces the clock used between retries.
func WithClientClock(clock skipblock.Clock) ClientOption {
	return func(c *Client) { c.clock = clock }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		http:        &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		clock:       sleeper{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CheckOrLock implements skipblock.Backend.
func (c *Client) CheckOrLock(ctx context.Context, req skipblock.LockRequest) (skipblock.LockResult, error) {
	var res skipblock.LockResult
	if err := c.do(ctx, http.MethodPost, pathCheckOrLock, req, &res); err != nil {
		return skipblock.LockResult{}, fmt.Errorf("check or lock: %w", err)
	}
	return res, nil
}

// Commit implements skipblock.Backend.
func (c *Client) Commit(ctx context.Context, commit skipblock.Commit) error {
	if err := c.do(ctx, http.MethodPost, pathCommit, commit, nil); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// BeginRun registers a run with the server.
func (c *Client) BeginRun(ctx context.Context, info store.RunInfo) (int64, error) {
	req := beginRunRequest{ID: info.ID, Program: info.Program, DatasetID: info.DatasetID, Worker: info.Worker}
	var res beginRunResponse
	if err := c.do(ctx, http.MethodPost, pathRuns, req, &res); err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return res.Seq, nil
}

// FinishRun records how a run ended.
func (c *Client) FinishRun(ctx context.Context, runID, status string) error {
	path := pathRuns + "/" + url.PathEscape(runID) + "/finish"
	if err := c.do(ctx, http.MethodPost, path, finishRunRequest{Status: status}, nil); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// AddRow appends a row to a dataset.
func (c *Client) AddRow(ctx context.Context, datasetID, runID string, cells []string) error {
	req := addRowRequest{DatasetID: datasetID, RunID: runID, Cells: cells}
	if err := c.do(ctx, http.MethodPost, pathRows, req, nil); err != nil {
		return fmt.Errorf("add row: %w", err)
	}
	return nil
}

// Rows fetches a dataset's rows.
func (c *Client) Rows(ctx context.Context, datasetID string) ([][]string, error) {
	var res rowsResponse
	if err := c.do(ctx, http.MethodGet, pathRows+"/"+url.PathEscape(datasetID), nil, &res); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return res.Rows, nil
}

// SaveRelation stores a relation in the server's catalogue.
func (c *Client) SaveRelation(ctx context.Context, rel ir.Relation) error {
	if err := c.do(ctx, http.MethodPost, pathRelations, rel, nil); err != nil {
		return fmt.Errorf("save relation: %w", err)
	}
	return nil
}

// RetrieveCandidateRelations asks the server for relations matching a page.
func (c *Client) RetrieveCandidateRelations(ctx context.Context, pageURL string, limit int) ([]ir.Relation, error) {
	q := url.Values{"url": {pageURL}, "limit": {strconv.Itoa(limit)}}
	var res relationsResponse
	if err := c.do(ctx, http.MethodGet, pathRelations+"?"+q.Encode(), nil, &res); err != nil {
		return nil, fmt.Errorf("relations: %w", err)
	}
	return res.Relations, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.once(ctx, method, path, body, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(lastErr) || attempt == c.maxAttempts {
			break
		}
		c.logger.Warn("backend request failed, retrying",
			"path", path,
			"attempt", attempt,
			"error", lastErr)
		if err := c.clock.Sleep(ctx, c.retryDelay); err != nil {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

type sleeper struct{}

func (sleeper) Now() time.Time { return time.Now() }

func (sleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
