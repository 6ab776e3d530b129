package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	deepSeekBaseURL      = "https://api.deepseek.com"
	DefaultDeepSeekModel = "deepseek-chat"

	groqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// Chat calls an OpenAI-compatible /chat/completions endpoint.
type Chat struct {
	name        string
	displayName string
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
}

var _ Provider = (*Chat)(nil)

func NewDeepSeek(apiKey, model string) *Chat {
	if model == "" {
		model = DefaultDeepSeekModel
	}
	return &Chat{name: "deepseek", displayName: "DeepSeek", apiKey: apiKey, model: model, baseURL: deepSeekBaseURL, client: newHTTPClient()}
}

func NewGroq(apiKey, model string) *Chat {
	if model == "" {
		model = DefaultGroqModel
	}
	return &Chat{name: "groq", displayName: "Groq (Llama)", apiKey: apiKey, model: model, baseURL: groqBaseURL, client: newHTTPClient()}
}

// WithBaseURL points the client at another host, e.g. a test server.
func (c *Chat) WithBaseURL(u string) *Chat {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

func (c *Chat) Name() string        { return c.name }
func (c *Chat) DisplayName() string { return c.displayName }
func (c *Chat) Model() string       { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Chat) Complete(ctx context.Context, system, prompt string) (string, error) {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: temperature,
		MaxTokens:   maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
