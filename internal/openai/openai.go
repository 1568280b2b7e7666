package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// DefaultURL is Groq's OpenAI-compatible chat completions endpoint.
const DefaultURL = "https://api.groq.com/openai/v1/chat/completions"

// DefaultModel is the model used when none is configured.
const DefaultModel = "llama-3.1-8b-instant"

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
}

// NewClient creates a chat completions client. Empty url and model fall back
// to DefaultURL and DefaultModel.
func NewClient(apiKey, url, model string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey: apiKey,
		url:    url,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Message is the wire form of a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// APIError is returned for non-2xx responses. Message and Type come from
// the standard {"error": {...}} envelope when the body carries one.
type APIError struct {
	StatusCode int
	Message    string
	Type       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai status=%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai non-success status=%d body=%s", e.StatusCode, e.Body)
}

// HTTPStatus implements model.StatusError.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: truncate(string(body), 400)}
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
	}
	return apiErr
}

// ChatCompletion sends a chat completion request and returns a CompletionResponse.
func (c *Client) ChatCompletion(ctx context.Context, messages []model.Message, params model.Params) (model.CompletionResponse, error) {
	wire := make([]Message, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, Message{Role: string(m.Role), Content: m.Content})
	}
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    wire,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	var parsed chatResponse
	if err := c.post(ctx, reqBody, &parsed); err != nil {
		return model.CompletionResponse{}, err
	}

	var result model.CompletionResponse

	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}

	if len(parsed.Choices) == 0 {
		result.Content = "(empty model response)"
		return result, nil
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		result.Content = "(empty model response)"
		return result, nil
	}
	result.Content = content
	return result, nil
}

// post sends body as JSON and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed reading openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse openai response (body=%s): %w", truncate(string(raw), 400), err)
	}
	return nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
