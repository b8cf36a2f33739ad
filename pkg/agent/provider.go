package agent

import (
	"context"
	"fmt"
)

// Message is a provider-neutral chat message
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderSettings selects and authenticates a provider backend.
type ProviderSettings struct {
	Provider string // anthropic, openai, ollama
	APIKey   string
	APIBase  string
}

// NewProvider creates an LLM provider from settings. Ollama is served
// through the OpenAI-compatible client pointed at its base URL.
func NewProvider(settings ProviderSettings) (LLMProvider, error) {
	switch settings.Provider {
	case "anthropic":
		return NewAnthropicProvider(settings.APIKey), nil
	case "openai":
		return NewOpenAIProvider(settings.APIKey, settings.APIBase), nil
	case "ollama":
		// Empty base falls back to the local default inside NewOllamaProvider.
		return NewOllamaProvider(settings.APIBase), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", settings.Provider)
	}
}
