package lakeplanesdk

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
)

// Client is a minimal Lakeplane HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	timeout := 30 * time.Second
	return &Client{
		BaseURL:    baseURL,
		BasePath:   "/v0",
		HTTPClient: &http.Client{Timeout: timeout},
		Timeout:    timeout,
	}
}

// Envelope is a tool response: result fields, or a single "error" field.
type Envelope map[string]any

// Err returns the tool's error message when the call failed in-band.
func (e Envelope) Err() (string, bool) {
	msg, ok := e["error"].(string)
	return msg, ok
}

// Decode re-encodes the envelope into out, for callers wanting typed results.
func (e Envelope) Decode(out any) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ToolParam describes one tool argument.
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool describes a callable tool.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ToolParam `json:"parameters"`
}

// APIError wraps non-2xx responses. Tool failures are not APIErrors.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health returns the liveness status reported by the server.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, c.BaseURL, "health", nil, &resp)
	return resp.Status, err
}

// ListTools lists the tools the server exposes.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var resp struct {
		Tools []Tool `json:"tools"`
	}
	err := c.do(ctx, http.MethodGet, c.apiBase(), "tools", nil, &resp)
	return resp.Tools, err
}

// Call runs a tool. A nil error with env.Err() set means the tool itself failed.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (Envelope, error) {
	if args == nil {
		args = map[string]any{}
	}
	var env Envelope
	err := c.do(ctx, http.MethodPost, c.apiBase(), "tools/"+url.PathEscape(tool), args, &env)
	return env, err
}

func (c *Client) do(ctx context.Context, method, base, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
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
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiBase() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
