package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiliankoe/storyduel/internal/ai"
)

type Client struct {
	Host string
	http *http.Client
}

func New(host string, timeout time.Duration) *Client {
	if host == "" {
		host = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = ai.DefaultTimeout
	}
	return &Client{Host: strings.TrimRight(host, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) Name() string { return "ollama" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

func (c *Client) Complete(ctx context.Context, r ai.Request) (string, error) {
	payload := chatRequest{Model: r.Model}
	if r.SystemPrompt != "" {
		payload.Messages = append(payload.Messages, message{Role: "system", Content: r.SystemPrompt})
	}
	payload.Messages = append(payload.Messages, message{Role: "user", Content: r.Prompt})
	if r.JSON {
		payload.Format = "json"
	}
	opts := map[string]any{"temperature": r.Temperature}
	if r.MaxTokens > 0 {
		opts["num_predict"] = r.MaxTokens
	}
	payload.Options = opts

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Message message `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Message.Content), nil
}
