// Package agentos is a small client for the AgentOS-Bridge HTTP presentation
// endpoint.
package agentos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Agent runs may take a while, so it is longer than a
// typical REST timeout.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the AgentOS-Bridge REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// Reply is the answer to one utterance.
type Reply struct {
	DisplayText string         `json:"display_text"`
	Route       string         `json:"route"`
	OK          bool           `json:"ok"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// JobResult is the reply recorded on a completed job.
type JobResult struct {
	Route       string `json:"route"`
	DisplayText string `json:"display_text"`
	OK          bool   `json:"ok"`
	ErrorCode   string `json:"error_code,omitempty"`
}

// Job is a queued utterance.
type Job struct {
	ID         string     `json:"id"`
	Utterance  string     `json:"utterance"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// Done reports whether the job reached a final state.
func (j Job) Done() bool {
	return j.Status == "succeeded" || (j.Status == "failed" && j.Attempts >= j.MaxRetries)
}

// Run is a persisted agent run.
type Run struct {
	ID         string          `json:"id"`
	Strategy   string          `json:"strategy"`
	Goal       string          `json:"goal"`
	Status     string          `json:"status"`
	Answer     string          `json:"answer,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Steps      int             `json:"steps"`
	Trace      json.RawMessage `json:"trace,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	FinishedAt int64           `json:"finished_at"`
}

// Match is a persisted arena match.
type Match struct {
	ID        string          `json:"id"`
	Family    string          `json:"family"`
	Puzzle    string          `json:"puzzle"`
	Expected  string          `json:"expected"`
	Winner    string          `json:"winner"`
	Margin    float64         `json:"margin"`
	Scorecard json.RawMessage `json:"scorecard,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Tool describes a registered tool.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SideEffect  string `json:"side_effect"`
	Latency     string `json:"latency"`
	Hidden      bool   `json:"hidden,omitempty"`
}

// Health is the daemon health summary.
type Health struct {
	Status     string `json:"status"`
	Channel    string `json:"channel,omitempty"`
	QueueDepth *int   `json:"queue_depth,omitempty"`
	Alerts     int    `json:"alerts"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode  int
	Code        string `json:"error_code"`
	DisplayText string `json:"display_text"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("agentos api error (%d): %s", e.StatusCode, e.DisplayText)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the bearer token sent with every API call.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Ask sends one utterance and waits for the reply. Unclassified utterances
// and tool failures are returned as a Reply with OK false, not as an error.
func (c *Client) Ask(ctx context.Context, utterance string) (Reply, error) {
	var reply Reply
	if err := c.post(ctx, "/api/v1/utterances", map[string]string{"utterance": utterance}, &reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// SubmitJob queues an utterance. An empty id lets the server assign one.
func (c *Client) SubmitJob(ctx context.Context, id, utterance string) (Job, error) {
	var job Job
	body := map[string]string{"id": id, "utterance": utterance}
	if err := c.post(ctx, "/api/v1/jobs", body, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob fetches a job by identifier.
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WaitJob polls until the job is done or ctx ends.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Done() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Runs lists the most recent agent runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	var runs []Run
	if err := c.get(ctx, "/api/v1/runs", limitQuery(limit), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Matches lists the most recent arena matches.
func (c *Client) Matches(ctx context.Context, limit int) ([]Match, error) {
	var matches []Match
	if err := c.get(ctx, "/api/v1/matches", limitQuery(limit), &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// Tools lists registered tools.
func (c *Client) Tools(ctx context.Context, includeHidden bool) ([]Tool, error) {
	var defs []Tool
	query := url.Values{}
	if includeHidden {
		query.Set("hidden", "true")
	}
	if err := c.get(ctx, "/api/v1/tools", query, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Health fetches the daemon health summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	if err := c.get(ctx, "/healthz", nil, &health); err != nil {
		return Health{}, err
	}
	return health, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.DisplayText == "" {
			apiErr.DisplayText = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
