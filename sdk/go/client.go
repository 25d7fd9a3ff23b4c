package playbooksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Playbooks JSON API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// RequestID, when set, is sent as X-Request-ID so server logs can be correlated.
	RequestID string
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Playbook represents the API playbook model. Version keeps the server's
// one-decimal literal, e.g. "0.3" or "2.0".
type Playbook struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Tags        []string    `json:"tags"`
	Visibility  string      `json:"visibility"`
	Status      string      `json:"status"`
	Version     json.Number `json:"version"`
	Source      string      `json:"source"`
	AuthorID    string      `json:"author_id"`
	UpdatedAt   string      `json:"updated_at"`
}

type Workflow struct {
	ID          string `json:"id"`
	PlaybookID  string `json:"playbook_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
}

type Activity struct {
	ID            string  `json:"id"`
	WorkflowID    string  `json:"workflow_id"`
	PlaybookID    string  `json:"playbook_id"`
	Name          string  `json:"name"`
	Guidance      string  `json:"guidance"`
	Order         int     `json:"order"`
	Phase         string  `json:"phase,omitempty"`
	PredecessorID *string `json:"predecessor_id,omitempty"`
	SuccessorID   *string `json:"successor_id,omitempty"`
}

type Artifact struct {
	ID           string `json:"id"`
	PlaybookID   string `json:"playbook_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type"`
	ProducedByID string `json:"produced_by_id"`
	IsRequired   bool   `json:"is_required"`
	TemplateFile string `json:"template_file,omitempty"`
}

// Input is one consumption edge: ActivityID consumes ArtifactID.
type Input struct {
	ID         string `json:"id"`
	ArtifactID string `json:"artifact_id"`
	ActivityID string `json:"activity_id"`
	IsRequired bool   `json:"is_required"`
}

// Event represents an audit feed entry.
type Event struct {
	ID          int64          `json:"id"`
	ActionType  string         `json:"action_type"`
	PlaybookID  string         `json:"playbook_id,omitempty"`
	Description string         `json:"description"`
	Timestamp   string         `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PlaybookPage wraps list responses with cursors.
type PlaybookPage struct {
	Items      []Playbook `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

type PlaybookInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
}

type WorkflowInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Order       int    `json:"order,omitempty"`
}

type ActivityInput struct {
	Name          string `json:"name"`
	Guidance      string `json:"guidance,omitempty"`
	Phase         string `json:"phase,omitempty"`
	Order         int    `json:"order,omitempty"`
	PredecessorID string `json:"predecessor_id,omitempty"`
	SuccessorID   string `json:"successor_id,omitempty"`
}

type ArtifactInput struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Type         string `json:"type,omitempty"`
	IsRequired   bool   `json:"is_required,omitempty"`
	ProducedByID string `json:"produced_by_id,omitempty"`
}

// ListOptions filters ListPlaybooks. Zero values are omitted.
type ListOptions struct {
	Status   string
	Category string
	Query    string
	Limit    int
	Cursor   string
}

// APIError wraps non-2xx responses. Code and Fields are decoded from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an *APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreatePlaybook creates a draft playbook.
func (c *Client) CreatePlaybook(ctx context.Context, in PlaybookInput) (Playbook, error) {
	var resp Playbook
	err := c.do(ctx, http.MethodPost, "playbooks", in, &resp)
	return resp, err
}

// GetPlaybook fetches a playbook and records a view.
func (c *Client) GetPlaybook(ctx context.Context, id string) (Playbook, error) {
	var resp Playbook
	err := c.do(ctx, http.MethodGet, "playbooks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListPlaybooks returns one page of the caller's playbooks.
func (c *Client) ListPlaybooks(ctx context.Context, opts ListOptions) (PlaybookPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("status", opts.Status)
	set("category", opts.Category)
	set("q", opts.Query)
	set("cursor", opts.Cursor)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := "playbooks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PlaybookPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdatePlaybook replaces a playbook's metadata.
func (c *Client) UpdatePlaybook(ctx context.Context, id string, in PlaybookInput) (Playbook, error) {
	var resp Playbook
	err := c.do(ctx, http.MethodPut, "playbooks/"+url.PathEscape(id), in, &resp)
	return resp, err
}

// DeletePlaybook removes a playbook and everything in it.
func (c *Client) DeletePlaybook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "playbooks/"+url.PathEscape(id), nil, nil)
}

// DuplicatePlaybook deep-copies a playbook into a new draft.
func (c *Client) DuplicatePlaybook(ctx context.Context, id, name string) (Playbook, error) {
	var resp Playbook
	err := c.do(ctx, http.MethodPost, "playbooks/"+url.PathEscape(id)+"/duplicate", map[string]string{"name": name}, &resp)
	return resp, err
}

// ReleasePlaybook releases a draft and snapshots it.
func (c *Client) ReleasePlaybook(ctx context.Context, id, summary string) (Playbook, error) {
	var resp Playbook
	err := c.do(ctx, http.MethodPost, "playbooks/"+url.PathEscape(id)+"/release", map[string]string{"change_summary": summary}, &resp)
	return resp, err
}

// ExportPlaybook returns the raw export document in format ("json" or "yaml").
func (c *Client) ExportPlaybook(ctx context.Context, id, format string) ([]byte, error) {
	endpoint := "playbooks/" + url.PathEscape(id) + "/export"
	if format != "" {
		endpoint += "?format=" + url.QueryEscape(format)
	}
	var raw rawBody
	err := c.do(ctx, http.MethodGet, endpoint, nil, &raw)
	return raw, err
}

// CreateWorkflow adds a workflow to a playbook.
func (c *Client) CreateWorkflow(ctx context.Context, playbookID string, in WorkflowInput) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "playbooks/"+url.PathEscape(playbookID)+"/workflows", in, &resp)
	return resp, err
}

// ListWorkflows returns a playbook's workflows in order.
func (c *Client) ListWorkflows(ctx context.Context, playbookID string) ([]Workflow, error) {
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, "playbooks/"+url.PathEscape(playbookID)+"/workflows", nil, &resp)
	return resp, err
}

// CreateActivity adds an activity to a workflow.
func (c *Client) CreateActivity(ctx context.Context, workflowID string, in ActivityInput) (Activity, error) {
	var resp Activity
	err := c.do(ctx, http.MethodPost, "workflows/"+url.PathEscape(workflowID)+"/activities", in, &resp)
	return resp, err
}

// CreateArtifact declares an artifact produced by activityID.
func (c *Client) CreateArtifact(ctx context.Context, activityID string, in ArtifactInput) (Artifact, error) {
	var resp Artifact
	err := c.do(ctx, http.MethodPost, "activities/"+url.PathEscape(activityID)+"/artifacts", in, &resp)
	return resp, err
}

// AddConsumer makes activityID consume artifactID. Warnings are advisory.
func (c *Client) AddConsumer(ctx context.Context, artifactID, activityID string, required bool) (Input, []string, error) {
	var resp struct {
		Input    Input    `json:"input"`
		Warnings []string `json:"warnings"`
	}
	body := map[string]any{"activity_id": activityID, "is_required": required}
	err := c.do(ctx, http.MethodPost, "artifacts/"+url.PathEscape(artifactID)+"/consumers", body, &resp)
	return resp.Input, resp.Warnings, err
}

// RemoveConsumer deletes one input edge.
func (c *Client) RemoveConsumer(ctx context.Context, inputID string) error {
	return c.do(ctx, http.MethodDelete, "inputs/"+url.PathEscape(inputID), nil, nil)
}

// FlowDOT returns the Graphviz DOT rendering of a playbook's artifact flow.
func (c *Client) FlowDOT(ctx context.Context, playbookID string) (string, error) {
	var raw rawBody
	err := c.do(ctx, http.MethodGet, "playbooks/"+url.PathEscape(playbookID)+"/flow.dot", nil, &raw)
	return string(raw), err
}

// Events returns the caller's newest audit events, optionally for one playbook.
func (c *Client) Events(ctx context.Context, playbookID string, limit int) ([]Event, error) {
	q := url.Values{}
	if playbookID != "" {
		q.Set("playbook_id", playbookID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// rawBody receives a response without JSON decoding.
type rawBody []byte

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/api/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.RequestID != "" {
		req.Header.Set("X-Request-ID", c.RequestID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	switch o := out.(type) {
	case nil:
		return nil
	case *rawBody:
		b, err := io.ReadAll(resp.Body)
		*o = b
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func decodeError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	}
	if json.Unmarshal(body, &env) != nil {
		return apiErr
	}
	apiErr.Code = env.Code
	apiErr.Message = env.Message
	if fields, ok := env.Details["fields"].(map[string]any); ok {
		apiErr.Fields = make(map[string]string, len(fields))
		for k, v := range fields {
			apiErr.Fields[k] = fmt.Sprint(v)
		}
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
