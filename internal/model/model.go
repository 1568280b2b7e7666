package model

import "context"

// Role tags a chat message with its author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role    Role
	Content string
}

// Params holds the fixed sampling parameters sent with every completion.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// DefaultParams returns the relay's sampling parameters.
func DefaultParams() Params {
	return Params{
		MaxTokens:   1000,
		Temperature: 0.7,
	}
}

// CompletionResponse is the common response model for model providers.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider is the completion backend abstraction used by the relay.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []Message, params Params) (CompletionResponse, error)
}
