package bopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal bops HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Case represents the API case model (partial).
type Case struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Reference       string  `json:"reference"`
	CaseType        string  `json:"case_type"`
	ApplicationType string  `json:"application_type,omitempty"`
	Stage           string  `json:"stage"`
	ApplicantEmail  string  `json:"applicant_email,omitempty"`
	AssignedUserID  *string `json:"assigned_user_id,omitempty"`
	LockVersion     int     `json:"lock_version"`
}

// NewCase holds the fields accepted when opening a case.
type NewCase struct {
	Reference            string `json:"reference,omitempty"`
	CaseType             string `json:"case_type"`
	ApplicationType      string `json:"application_type,omitempty"`
	Description          string `json:"description,omitempty"`
	ApplicantName        string `json:"applicant_name,omitempty"`
	ApplicantEmail       string `json:"applicant_email,omitempty"`
	ApplicantPhone       string `json:"applicant_phone,omitempty"`
	AgentEmail           string `json:"agent_email,omitempty"`
	OwnershipCertificate string `json:"ownership_certificate,omitempty"`
}

type Task struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Section   string `json:"section"`
	Status    string `json:"status"`
	Enabled   bool   `json:"enabled"`
	Mandatory bool   `json:"mandatory"`
}

// Request represents a validation or change request.
type Request struct {
	ID           string          `json:"id"`
	CaseID       string          `json:"case_id"`
	Category     string          `json:"category"`
	State        string          `json:"state"`
	Sequence     int             `json:"sequence"`
	Reason       string          `json:"reason,omitempty"`
	Proposed     json.RawMessage `json:"proposed,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Deadline     *string         `json:"deadline,omitempty"`
	SupersededBy *string         `json:"superseded_by,omitempty"`
}

type Audit struct {
	ID           int64  `json:"id"`
	CaseID       string `json:"case_id"`
	ActorID      string `json:"actor_id"`
	ActivityType string `json:"activity_type"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// APIError wraps non-2xx responses. Code and Message come from the
// server's error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the API error code of err, or "" when err did not come
// from the API.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// CreateCase opens a case.
func (c *Client) CreateCase(ctx context.Context, in NewCase) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodPost, "cases", in, &resp)
	return resp, err
}

// GetCase fetches a case by id or reference.
func (c *Client) GetCase(ctx context.Context, idOrReference string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, casePath(idOrReference, ""), nil, &resp)
	return resp, err
}

// Fire sends a workflow event. A zero expectedVersion skips the version check.
func (c *Client) Fire(ctx context.Context, caseID, event string, expectedVersion int, comment string) (Case, error) {
	body := map[string]any{"event": event}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, casePath(caseID, "events"), body, &resp)
	return resp, err
}

// Events lists the events the case accepts in its current stage.
func (c *Client) Events(ctx context.Context, caseID string) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, casePath(caseID, "events"), nil, &resp)
	return resp, err
}

// Tasks returns the case's task list.
func (c *Client) Tasks(ctx context.Context, caseID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, casePath(caseID, "tasks"), nil, &resp)
	return resp, err
}

// MarkTask records progress on a task.
func (c *Client) MarkTask(ctx context.Context, caseID, slug, status string) ([]Task, error) {
	var resp []Task
	endpoint := casePath(caseID, "tasks/"+url.PathEscape(slug))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// CreateRequest drafts a request; send delivers it in the same call.
func (c *Client) CreateRequest(ctx context.Context, caseID, category, reason string, proposed map[string]any, send bool) (Request, error) {
	body := map[string]any{"category": category, "send": send}
	if reason != "" {
		body["reason"] = reason
	}
	if proposed != nil {
		body["proposed"] = proposed
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, casePath(caseID, "requests"), body, &resp)
	return resp, err
}

// Requests lists the requests of a case.
func (c *Client) Requests(ctx context.Context, caseID string) ([]Request, error) {
	var resp []Request
	err := c.do(ctx, http.MethodGet, casePath(caseID, "requests"), nil, &resp)
	return resp, err
}

// SendRequest sends a pending request.
func (c *Client) SendRequest(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "send"), nil, &resp)
	return resp, err
}

// Respond records the applicant's answer.
func (c *Client) Respond(ctx context.Context, requestID string, response map[string]any) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "response"), map[string]any{"response": response}, &resp)
	return resp, err
}

// CancelRequest withdraws a pending or open request.
func (c *Client) CancelRequest(ctx context.Context, requestID, reason string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "cancel"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// Audits returns the case's audit entries, oldest first.
func (c *Client) Audits(ctx context.Context, caseID string, limit int) ([]Audit, error) {
	endpoint := casePath(caseID, "audits")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Audit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func casePath(idOrReference, sub string) string {
	p := "cases/" + url.PathEscape(idOrReference)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func requestPath(id, sub string) string {
	return fmt.Sprintf("requests/%s/%s", url.PathEscape(id), sub)
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
