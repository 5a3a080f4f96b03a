package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint
// (api.openai.com, a local vLLM/llama.cpp server, a gateway proxy).
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible provider.
// baseURL may be empty for the hosted API.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices returned")
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Ping checks if the provider is reachable by listing models.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}
