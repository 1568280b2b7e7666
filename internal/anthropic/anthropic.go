// Package anthropic adapts the Anthropic Messages API to model.Provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/stupiduntilnot/chatrelay/internal/model"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = string(sdk.ModelClaude3_7SonnetLatest)

// Config configures a Provider.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	// MaxRetries is passed to the SDK; 0 disables SDK retries.
	MaxRetries int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Provider calls the Messages API.
type Provider struct {
	client *sdk.Client
	model  string
}

// NewProvider builds a Provider from cfg.
func NewProvider(cfg Config) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}
	c := sdk.NewClient(opts...)
	return &Provider{client: &c, model: modelName}
}

// ChatCompletion sends the conversation as a Messages request. System
// messages are lifted into the request's system prompt.
func (p *Provider) ChatCompletion(ctx context.Context, messages []model.Message, params model.Params) (model.CompletionResponse, error) {
	var system []sdk.TextBlockParam
	conv := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case model.RoleAssistant:
			conv = append(conv, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			conv = append(conv, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}

	req := sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   int64(params.MaxTokens),
		Messages:    conv,
		Temperature: sdk.Float(params.Temperature),
	}
	if len(system) > 0 {
		req.System = system
	}

	msg, err := p.client.Messages.New(ctx, req)
	if err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return model.CompletionResponse{}, &model.ClassError{
				Class: model.ClassifyStatus(apiErr.StatusCode),
				Err:   fmt.Errorf("anthropic messages: %w", err),
			}
		}
		return model.CompletionResponse{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok && tb.Text != "" {
			parts = append(parts, tb.Text)
		}
	}
	result := model.CompletionResponse{
		Content:      strings.TrimSpace(strings.Join(parts, "\n")),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	if result.Content == "" {
		result.Content = "(empty model response)"
	}
	return result, nil
}
