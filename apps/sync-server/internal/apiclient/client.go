package apiclient

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

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/feedback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/playback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/service"
)

// Client talks to the sync server's HTTP API. Error responses are
// returned as model.APIError values.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:8086
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WebSocketURL derives the handshake URL from the base URL
func (c *Client) WebSocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = path
	return u.String(), nil
}

// Status returns the relay summary
func (c *Client) Status(ctx context.Context) (service.Status, error) {
	var st service.Status
	return st, c.do(ctx, http.MethodGet, "/status", nil, &st)
}

// Sessions lists live sessions
func (c *Client) Sessions(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	return out, c.do(ctx, http.MethodGet, "/sessions", nil, &out)
}

// Playback returns the server's view of the broadcast
func (c *Client) Playback(ctx context.Context) (playback.View, error) {
	var v playback.View
	return v, c.do(ctx, http.MethodGet, "/playback", nil, &v)
}

// SubmitFeedback submits a moderator annotation
func (c *Client) SubmitFeedback(ctx context.Context, req feedback.SubmitRequest) (*model.FeedbackMessage, error) {
	var msg model.FeedbackMessage
	if err := c.do(ctx, http.MethodPost, "/feedback", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListFeedback lists feedback matching filter
func (c *Client) ListFeedback(ctx context.Context, filter model.FeedbackFilter) ([]model.FeedbackMessage, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Priority != "" {
		q.Set("priority", string(filter.Priority))
	}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.Author != "" {
		q.Set("author", filter.Author)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/feedback"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []model.FeedbackMessage
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// GetFeedback returns one message
func (c *Client) GetFeedback(ctx context.Context, id string) (*model.FeedbackMessage, error) {
	var msg model.FeedbackMessage
	if err := c.do(ctx, http.MethodGet, "/feedback/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateFeedbackStatus moves a message forward
func (c *Client) UpdateFeedbackStatus(ctx context.Context, id string, status model.FeedbackStatus) (*model.FeedbackMessage, error) {
	var msg model.FeedbackMessage
	body := map[string]model.FeedbackStatus{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/feedback/"+url.PathEscape(id)+"/status", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ExportFeedback returns every stored message
func (c *Client) ExportFeedback(ctx context.Context) ([]model.FeedbackMessage, error) {
	var out []model.FeedbackMessage
	return out, c.do(ctx, http.MethodGet, "/feedback/export", nil, &out)
}

// ImportFeedback stores records verbatim
func (c *Client) ImportFeedback(ctx context.Context, records []model.FeedbackMessage) (feedback.ImportResult, error) {
	var res feedback.ImportResult
	return res, c.do(ctx, http.MethodPost, "/feedback/import", records, &res)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := model.APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
