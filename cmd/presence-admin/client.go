// ABOUTME: Small HTTP client for the gateway's REST API
// ABOUTME: Adds the bearer token and turns JSON error bodies into Go errors

package main

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

	"github.com/2389/presence-gateway/internal/chat"
	"github.com/2389/presence-gateway/internal/conversation"
	"github.com/2389/presence-gateway/internal/store"
)

// apiClient talks to one gateway as one identity.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// presence mirrors the gateway's PresenceResponse.
type presence struct {
	Chat          []string `json:"chat"`
	Notifications []string `json:"notifications"`
}

type broadcastRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

type broadcastResponse struct {
	Sent         int                 `json:"sent"`
	Notification *store.Notification `json:"notification,omitempty"`
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
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

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *apiClient) Presence(ctx context.Context) (*presence, error) {
	var p presence
	if err := c.do(ctx, http.MethodGet, "/api/presence", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *apiClient) Counterparts(ctx context.Context) ([]chat.Counterpart, error) {
	var list []chat.Counterpart
	err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &list)
	return list, err
}

func (c *apiClient) History(ctx context.Context, other string) ([]conversation.Message, error) {
	var msgs []conversation.Message
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(other)+"/messages", nil, &msgs)
	return msgs, err
}

func (c *apiClient) MarkConversationRead(ctx context.Context, other string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(other)+"/read", nil, nil)
}

func (c *apiClient) Notifications(ctx context.Context, status string) ([]*store.Notification, error) {
	path := "/api/notifications"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var list []*store.Notification
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

func (c *apiClient) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *apiClient) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) Broadcast(ctx context.Context, req broadcastRequest) (*broadcastResponse, error) {
	var resp broadcastResponse
	if err := c.do(ctx, http.MethodPost, "/api/notifications/broadcast", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
