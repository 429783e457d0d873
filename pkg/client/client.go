package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to a fraudlens review-console server.
type Client struct {
	httpClient *http.Client
	baseURL    string

	// UserAgent is sent with every request.
	UserAgent string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		UserAgent:  "fraudlens-go-client",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitFeedback submits one reviewer verdict.
func (c *Client) SubmitFeedback(ctx context.Context, fb *Feedback) error {
	return c.do(ctx, http.MethodPost, "/v1/feedback", fb, nil)
}

// SubmitFeedbackBatch submits reviewer verdicts in bulk.
func (c *Client) SubmitFeedbackBatch(ctx context.Context, records []*Feedback) error {
	body := map[string]any{"records": records}
	return c.do(ctx, http.MethodPost, "/v1/feedback/batch", body, nil)
}

// PendingReviews returns the transactions queued for human review.
func (c *Client) PendingReviews(ctx context.Context) ([]*Review, error) {
	var resp struct {
		Pending []*Review `json:"pending"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/reviews/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

// Performance returns the current model performance snapshot.
func (c *Client) Performance(ctx context.Context) (*Performance, error) {
	var perf Performance
	if err := c.do(ctx, http.MethodGet, "/v1/performance", nil, &perf); err != nil {
		return nil, err
	}
	return &perf, nil
}

// ReviewerWorkload returns resolved-feedback counts per reviewer.
func (c *Client) ReviewerWorkload(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Workload map[string]int `json:"workload"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/reviewers/workload", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workload, nil
}

// RecentVerdicts returns one page of the verdict audit trail. An empty
// cursor starts from the most recent verdict; pass page.NextCursor to
// continue.
func (c *Client) RecentVerdicts(ctx context.Context, limit int, cursor string) (*VerdictPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/v1/verdicts/recent"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page VerdictPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// do performs one API request, decoding a JSON body into out when
// provided. Non-2xx responses are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
