// Package llm provides inference gateway clients. The rest of the
// system only needs "given text, get text back"; providers may fail or
// return malformed text, and callers are expected to absorb both
// through the retry driver.
package llm

import "context"

// Message represents a chat message sent to a provider.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatResponse is a provider-neutral completion result.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`

	// Token accounting, zero when the provider does not report it.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// TotalTokens returns prompt plus completion token usage.
func (r *ChatResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Client is the interface that all inference providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
