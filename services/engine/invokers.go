package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AgentInvoker is the narrow interface to the conversational-agent layer.
// The reasoning itself lives outside this core.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentRef, message, actorID, conversationID string) (string, error)
}

// ToolResult is the structured outcome of a tool invocation.
type ToolResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolInvoker is the narrow interface to concrete tool integrations
// (calendar, email, messaging providers).
type ToolInvoker interface {
	Invoke(ctx context.Context, toolRef string, params map[string]any) (*ToolResult, error)
}

// WebhookDoer performs the HTTP call for webhook nodes.
type WebhookDoer interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body any) (map[string]any, error)
}

// HTTPAgentInvoker calls an external agent service over HTTP.
type HTTPAgentInvoker struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAgentInvoker returns an invoker with a 30-second timeout; agent
// calls are slow by nature.
func NewHTTPAgentInvoker(baseURL string) *HTTPAgentInvoker {
	return &HTTPAgentInvoker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type agentResponse struct {
	Response string `json:"response"`
}

// Invoke posts the message to the agent service and returns its text
// response.
func (c *HTTPAgentInvoker) Invoke(ctx context.Context, agentRef, message, actorID, conversationID string) (string, error) {
	payload := map[string]any{
		"agent":           agentRef,
		"message":         message,
		"actor_id":        actorID,
		"conversation_id": conversationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal agent request: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/invoke", c.baseURL, agentRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent service returned status %d", resp.StatusCode)
	}

	var result agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode agent response: %w", err)
	}
	return result.Response, nil
}

// HTTPToolInvoker calls an external tool service over HTTP.
type HTTPToolInvoker struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPToolInvoker returns an invoker with a 15-second timeout.
func NewHTTPToolInvoker(baseURL string) *HTTPToolInvoker {
	return &HTTPToolInvoker{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Invoke posts the interpolated params to the tool service.
func (c *HTTPToolInvoker) Invoke(ctx context.Context, toolRef string, params map[string]any) (*ToolResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal tool params: %w", err)
	}

	url := fmt.Sprintf("%s/tools/%s/invoke", c.baseURL, toolRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool service returned status %d", resp.StatusCode)
	}

	var result ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode tool response: %w", err)
	}
	return &result, nil
}

// WebhookClient is the default WebhookDoer over net/http.
type WebhookClient struct {
	httpClient *http.Client
}

// NewWebhookClient returns a client with a 10-second timeout.
func NewWebhookClient() *WebhookClient {
	return &WebhookClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Do performs the HTTP call and returns the parsed JSON body. Non-JSON
// responses come back under a "body" key so webhook outputs always have a
// uniform shape.
func (c *WebhookClient) Do(ctx context.Context, method, url string, headers map[string]string, body any) (map[string]any, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal webhook body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	var parsed map[string]any
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&parsed); err != nil {
		return map[string]any{"status_code": resp.StatusCode}, nil
	}
	parsed["status_code"] = resp.StatusCode
	return parsed, nil
}
