// Package api is the REST client for the board backend: task commands,
// group members and linked future expenses.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4 << 20
)

// Config configures a Client. HTTPClient and Logger are optional.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client calls the board REST API with a bearer token.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *log.Logger
	now    func() time.Time

	mu     sync.RWMutex
	token  string
	claims claims
}

func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	c := &Client{base: base, http: hc, logger: logger, now: time.Now}
	c.SetToken(cfg.Token)
	return c, nil
}

// SetToken replaces the bearer token used by later calls.
func (c *Client) SetToken(token string) {
	cl, err := parseClaims(token)
	if err != nil && token != "" {
		c.logger.WithError(err).Debug("api: token claims not readable")
	}
	c.mu.Lock()
	c.token = token
	c.claims = cl
	c.mu.Unlock()
}

// Subject returns the token's "sub" claim, the current user id.
func (c *Client) Subject() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claims.Subject
}

type tasksPage struct {
	Tasks         []domain.Task `json:"tasks"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

// ListTasks returns every task of a group in one status, following page
// tokens to the end.
func (c *Client) ListTasks(ctx context.Context, groupID string, status domain.Status) ([]domain.Task, error) {
	var all []domain.Task
	pageToken := ""
	for {
		q := url.Values{"status": {string(status)}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page tasksPage
		path := "/api/groups/" + url.PathEscape(groupID) + "/tasks"
		if err := c.do(ctx, http.MethodGet, "/api/groups/{groupId}/tasks", path, q, nil, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Tasks...)
		if page.NextPageToken == "" || page.NextPageToken == pageToken {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) CreateTask(ctx context.Context, groupID string, nt domain.NewTask) (domain.Task, error) {
	var t domain.Task
	path := "/api/groups/" + url.PathEscape(groupID) + "/tasks"
	err := c.do(ctx, http.MethodPost, "/api/groups/{groupId}/tasks", path, nil, nt, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	if patch.Empty() {
		return domain.Task{}, fmt.Errorf("update task %s: empty patch", id)
	}
	var t domain.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/{taskId}", "/api/tasks/"+url.PathEscape(id), nil, patch, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/{taskId}", "/api/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// ListMembers returns the users a task of the group can be assigned to.
func (c *Client) ListMembers(ctx context.Context, groupID string) ([]domain.Member, error) {
	var members []domain.Member
	path := "/api/groups/" + url.PathEscape(groupID) + "/members"
	err := c.do(ctx, http.MethodGet, "/api/groups/{groupId}/members", path, nil, nil, &members)
	return members, err
}

// ListFutureExpenses returns the group's planned expenses a task can link.
func (c *Client) ListFutureExpenses(ctx context.Context, groupID string) ([]domain.ExpenseLink, error) {
	var expenses []domain.ExpenseLink
	path := "/api/groups/" + url.PathEscape(groupID) + "/expenses"
	err := c.do(ctx, http.MethodGet, "/api/groups/{groupId}/expenses", path, url.Values{"future": {"true"}}, nil, &expenses)
	return expenses, err
}

func (c *Client) do(ctx context.Context, method, route, path string, query url.Values, in, out any) (err error) {
	metrics, ctx := newRequestMetrics(ctx, c.logger, method, route)
	status := 0
	defer func() { metrics.Log(status, err) }()

	c.mu.RLock()
	token, cl := c.token, c.claims
	c.mu.RUnlock()
	if cl.expired(c.now()) {
		metrics.SetErrorStage("auth")
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrSessionExpired)
	}

	u, err := url.Parse(c.base.String() + path)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		raw, encErr := sonic.Marshal(in)
		if encErr != nil {
			metrics.SetErrorStage("encode_request")
			return fmt.Errorf("encode %s %s: %w", method, path, encErr)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SetErrorStage("transport")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		metrics.SetErrorStage("read_response")
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.SetErrorStage("status")
		return &Error{StatusCode: resp.StatusCode, Method: method, Path: path, Message: errorMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		metrics.SetErrorStage("decode_response")
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	switch v := out.(type) {
	case *tasksPage:
		metrics.SetItems(len(v.Tasks))
	case *[]domain.Member:
		metrics.SetItems(len(*v))
	case *[]domain.ExpenseLink:
		metrics.SetItems(len(*v))
	}
	return nil
}

// IsAuthError reports whether err means the user must sign in again or
// lacks permission.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, domain.ErrPermissionDenied)
}
