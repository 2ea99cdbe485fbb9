// Package tasktracker talks to the task tracker's v2 REST API.
package tasktracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"clientportal/internal/platform/config"
)

const DefaultTimeout = 10 * time.Second

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tasktracker: %s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

type Status struct {
	Status string `json:"status"`
	Color  string `json:"color"`
	Type   string `json:"type,omitempty"`
}

type Priority struct {
	ID       string `json:"id"`
	Priority string `json:"priority"`
	Color    string `json:"color"`
}

type Tag struct {
	Name string `json:"name"`
}

// Task timestamps are epoch milliseconds encoded as strings.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Priority    *Priority `json:"priority"`
	Tags        []Tag     `json:"tags"`
	DateCreated string    `json:"date_created"`
	DateUpdated string    `json:"date_updated"`
	DueDate     string    `json:"due_date"`
	URL         string    `json:"url"`
}

type CreateTaskRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Priority    int      `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type listTasksResponse struct {
	Tasks []Task `json:"tasks"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      httpcache.Cache
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewClient builds a client whose reads go through an in-memory HTTP cache,
// so responses are reused only when the tracker sends cache headers.
func NewClient(cfg config.UpstreamConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cache := httpcache.NewMemoryCache()
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: httpcache.NewTransport(cache),
		},
		cache: cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func listTasksPath(listID string) string {
	q := url.Values{}
	q.Set("archived", "false")
	q.Set("order_by", "created")
	q.Set("reverse", "true")
	return fmt.Sprintf("/api/v2/list/%s/task?%s", url.PathEscape(listID), q.Encode())
}

func (c *Client) ListTasks(ctx context.Context, listID string) ([]Task, error) {
	var resp listTasksResponse
	if err := c.do(ctx, http.MethodGet, listTasksPath(listID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, listID string, task CreateTaskRequest) (*Task, error) {
	path := fmt.Sprintf("/api/v2/list/%s/task", url.PathEscape(listID))

	var created Task
	if err := c.do(ctx, http.MethodPost, path, task, &created); err != nil {
		return nil, err
	}
	c.invalidateList(listID)
	return &created, nil
}

// invalidateList drops the cached task list so the next read sees the new
// task. The cache is keyed by the full request URL.
func (c *Client) invalidateList(listID string) {
	u, err := url.Parse(c.baseURL + listTasksPath(listID))
	if err != nil {
		return
	}
	c.cache.Delete(u.String())
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tasktracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{
			Method:     method,
			Path:       strings.SplitN(path, "?", 2)[0],
			StatusCode: resp.StatusCode,
			Body:       string(snippet),
		}
	}

	// Read to EOF so the cache transport can store the response.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read tasktracker response: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode tasktracker response: %w", err)
	}
	return nil
}
