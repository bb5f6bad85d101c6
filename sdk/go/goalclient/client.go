// Package goalclient is a small Go client for the goal agent HTTP tool API.
package goalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the tool API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// Goal mirrors the goal object returned by the API.
type Goal struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Priority    string         `json:"priority"`
	Status      string         `json:"status"`
	Repos       []string       `json:"repos"`
	TaskIDs     []string       `json:"task_ids"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Metadata    map[string]any `json:"metadata"`
}

// Task mirrors the task object returned by the API.
type Task struct {
	ID              string          `json:"id"`
	GoalID          string          `json:"goal_id"`
	Description     string          `json:"description"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	Priority        string          `json:"priority"`
	Dependencies    []string        `json:"dependencies"`
	Repo            string          `json:"repo,omitempty"`
	ExternalTicket  string          `json:"external_ticket,omitempty"`
	EstimatedEffort string          `json:"estimated_effort,omitempty"`
	AssignedTools   []string        `json:"assigned_tools"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

// Subtask is one entry of a break_down_goal request.
type Subtask struct {
	Description     string   `json:"description"`
	Type            string   `json:"type,omitempty"`
	Priority        string   `json:"priority,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Repo            string   `json:"repo,omitempty"`
	ExternalTicket  string   `json:"external_ticket,omitempty"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
	Tools           []string `json:"tools,omitempty"`
}

// ToolInfo describes a tool advertised by the server.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

// APIError is the {error, type} body returned for failed calls.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Type       string `json:"type"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("goal agent api error (%d): %s - %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("goal agent api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
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

// SetAPIKey sets the bearer key sent with every request.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// ListTools returns the tools exposed by the server.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var out struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tools", nil, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// Call invokes a tool by name and decodes its result into out (may be nil).
func (c *Client) Call(ctx context.Context, tool string, args any, out any) error {
	if args == nil {
		args = struct{}{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/v1/tools/"+url.PathEscape(tool), bytes.NewReader(body), out)
}

// CreateGoal creates a goal in planned state.
func (c *Client) CreateGoal(ctx context.Context, description, priority string, repos []string) (*Goal, error) {
	var g Goal
	args := map[string]any{"description": description}
	if priority != "" {
		args["priority"] = priority
	}
	if len(repos) > 0 {
		args["repos"] = repos
	}
	if err := c.Call(ctx, "create_goal", args, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// BreakDownGoal attaches subtasks to a goal.
func (c *Client) BreakDownGoal(ctx context.Context, goalID string, subtasks []Subtask) (*Goal, error) {
	var g Goal
	if err := c.Call(ctx, "break_down_goal", map[string]any{"goal_id": goalID, "subtasks": subtasks}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GetNextTasks returns the tasks of a goal that are ready to start.
func (c *Client) GetNextTasks(ctx context.Context, goalID string) ([]Task, error) {
	var out struct {
		NextTasks []Task `json:"next_tasks"`
	}
	if err := c.Call(ctx, "get_next_tasks", map[string]any{"goal_id": goalID}, &out); err != nil {
		return nil, err
	}
	return out.NextTasks, nil
}

// UpdateTaskStatus changes a task status. result may be nil.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string, result any) (*Task, error) {
	var t Task
	args := map[string]any{"task_id": taskID, "status": status}
	if result != nil {
		args["result"] = result
	}
	if err := c.Call(ctx, "update_task_status", args, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	c.mu.RUnlock()

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
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
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
