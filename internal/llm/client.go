// Package llm generates assistant replies for conversational capture
// sessions. The wizard flow never touches this package; leaving both API
// keys unset disables reply generation and turns are recorded bare.
package llm

import (
	"context"
)

// ChatMessage is one turn of context handed to the provider.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks a provider for one reply.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []ChatMessage
	MaxTokens int
}

// CompletionResponse is the provider's reply plus accounting fields.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface over assistant providers.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// Provider selects an assistant backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a client for the given provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}

// QualifierPrompt steers the assistant toward collecting the fields the
// funnel needs. Kept minimal; conversation design lives with the product
// team, not in this service.
const QualifierPrompt = `You are a solar consultation assistant. Help the customer ` +
	`estimate a home solar installation. Collect, in a natural order: contact details, ` +
	`installation address, monthly energy usage or bill, preferred system and battery ` +
	`options, and financing preferences. Be concise and ask one question at a time.`
