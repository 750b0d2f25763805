// Package inference generates assistant replies from a conversation.
//
// Providers (Gemini, the offline Local responder, test mocks) sit behind a
// single Provider interface and can be stacked in a Chain so the service
// still answers when the primary model is unreachable:
//
//	gemini, _ := inference.NewGemini(ctx, inference.WithAPIKey(key))
//	chain, _ := inference.NewChain(gemini, inference.NewLocal())
//	gen := inference.NewGenerator(chain, inference.GeneratorConfig{})
//
//	reply, err := gen.GenerateResponse(ctx, "what's 4+5?", store.Snapshot())
package inference

import "context"

// Provider is the chat completion interface every backend implements.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name identifies the provider in logs and errors.
	Name() string

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation, system instruction first.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// Provider that produced the response.
	Provider string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
