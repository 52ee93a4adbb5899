// Package meshclient provides a small Go SDK for talking to one
// memory-mesh node's HTTP surface, the way the teacher's internal/client
// wraps a KV node's HTTP surface: hide request envelopes, JSON, and
// error handling behind a handful of typed calls.
package meshclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client talks to exactly one node. It does not know about the overlay
// beyond that node, and the node answers a request envelope from its own
// capabilities only: a method it cannot serve locally comes back as an
// error rather than being forwarded to a capable peer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:7420").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// Health fetches GET /p2p/health.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/p2p/health", nil)
	if err != nil {
		return nil, fmt.Errorf("meshclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meshclient: GET /p2p/health: %w", err)
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body)
}

// Call invokes method with args against this node's memory-API router
// and returns the decoded result.
func (c *Client) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	envelope := map[string]any{
		"msg_type":  "request",
		"msg_id":    uuid.NewString(),
		"sender_id": "meshctl",
		"timestamp": time.Now().UTC(),
		"payload":   map[string]any{"method": method, "args": args},
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("meshclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/p2p/message", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("meshclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meshclient: POST /p2p/message: %w", err)
	}
	defer resp.Body.Close()

	out, err := decodeJSON(resp.Body)
	if err != nil {
		return nil, err
	}
	payload, _ := out["payload"].(map[string]any)
	if errStr, ok := payload["error"].(string); ok && errStr != "" {
		return nil, fmt.Errorf("meshclient: %s: %s", method, errStr)
	}
	return payload["result"], nil
}

func decodeJSON(r io.Reader) (map[string]any, error) {
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("meshclient: decode response: %w", err)
	}
	return out, nil
}
