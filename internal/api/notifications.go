// Package api holds the thin REST collaborator the real-time layer calls for
// acknowledgments. The storefront's full CRUD surface lives elsewhere; only
// the notification endpoints matter here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openmall/realtime/internal/auth"
)

// Notifications calls the storefront notification endpoints.
type Notifications struct {
	baseURL string
	creds   auth.CredentialStore
	client  *http.Client
}

// NewNotifications builds a client. baseURL is the API root, e.g.
// "https://shop.example.com/api".
func NewNotifications(baseURL string, creds auth.CredentialStore) *Notifications {
	return &Notifications{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// MarkRead acknowledges the given notification ids.
func (n *Notifications) MarkRead(ctx context.Context, ids []int64) error {
	return n.post(ctx, "/notifications/mark-read", map[string]any{"ids": ids}, nil)
}

// MarkAllRead acknowledges every unread notification.
func (n *Notifications) MarkAllRead(ctx context.Context) error {
	return n.post(ctx, "/notifications/mark-all-read", map[string]any{}, nil)
}

// UnreadCount fetches the server-side unread total.
func (n *Notifications) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Data struct {
			UnreadCount int `json:"unreadCount"`
		} `json:"data"`
	}
	if err := n.get(ctx, "/notifications/unread-count", &out); err != nil {
		return 0, err
	}
	return out.Data.UnreadCount, nil
}

func (n *Notifications) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+path, nil)
	if err != nil {
		return err
	}
	return n.do(req, out)
}

func (n *Notifications) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return n.do(req, out)
}

func (n *Notifications) do(req *http.Request, out any) error {
	if token := n.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
