package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/config"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	healthTimeout  = 5 * time.Second
	defaultTimeout = 3000 * time.Second
)

// Response is the decoded /invoke reply, normally holding either "result" or "error".
type Response map[string]any

func errorResponse(format string, args ...any) Response {
	return Response{"error": fmt.Sprintf(format, args...)}
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	baseURL := cfg.ChatURL()
	if baseURL == "" {
		return nil, oops.In("agentapi").Errorf("agent url is not configured, set AGENT_URL or AGENT_PORT")
	}

	return NewClient(baseURL, cfg.Chat.Timeout), nil
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health reports whether the agent server answers /health with 200.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Invoke posts prompt to /invoke. Failures are returned as an "error" response.
func (c *Client) Invoke(ctx context.Context, prompt string) Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return errorResponse("Request failed: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return errorResponse("Request failed: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errorResponse("Request failed: %s", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResponse("Request failed: %s", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorResponse("Request failed: %s for url: %s", resp.Status, req.URL)
	}

	var result Response
	if err = json.Unmarshal(body, &result); err != nil {
		return errorResponse("Invalid JSON response: %s", err)
	}

	return result
}

// FormatResponse turns a reply into the text shown to the user.
func FormatResponse(resp Response) string {
	if msg, ok := resp["error"]; ok {
		return fmt.Sprintf("❌ Error: %v", msg)
	}

	switch result := resp["result"].(type) {
	case string:
		return result
	case map[string]any:
		content, ok := result["content"].([]any)
		if !ok || len(content) == 0 {
			break
		}
		if first, ok := content[0].(map[string]any); ok {
			if text, ok := first["text"].(string); ok {
				return text
			}
		}
		return "No text content found"
	}

	return "❓ Unexpected response format"
}
