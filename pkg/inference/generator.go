package inference

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-voicerelay/pkg/history"
)

// DefaultSystemPrompt is the instruction sent ahead of every conversation.
const DefaultSystemPrompt = "You are a friendly voice assistant. Your replies are read aloud, " +
	"so keep them short and conversational: two or three sentences, no markdown, " +
	"no lists, no emoji. If you don't know something, say so plainly."

// GeneratorConfig tunes a Generator.
type GeneratorConfig struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Logger       *slog.Logger
}

// Generator builds the prompt for one utterance and returns the reply text.
type Generator struct {
	provider Provider
	cfg      GeneratorConfig
	logger   *slog.Logger
}

// NewGenerator wraps a provider. Zero config fields take defaults.
func NewGenerator(p Provider, cfg GeneratorConfig) *Generator {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider: p,
		cfg:      cfg,
		logger:   logger.With("component", "inference.generator"),
	}
}

// BuildMessages lays out the request: system instruction, then history
// oldest to newest, then the current utterance.
func (g *Generator) BuildMessages(userText string, hist []history.Message) []Message {
	msgs := make([]Message, 0, len(hist)+2)
	msgs = append(msgs, NewSystemMessage(g.cfg.SystemPrompt))
	msgs = append(msgs, FromHistory(hist)...)
	msgs = append(msgs, NewUserMessage(userText))
	return msgs
}

// GenerateResponse answers userText given the prior turns in hist, which
// must not yet include userText. Provider errors are returned unchanged so
// callers see the provider's message.
func (g *Generator) GenerateResponse(ctx context.Context, userText string, hist []history.Message) (string, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := g.provider.Chat(ctx, &ChatRequest{
		Messages:    g.BuildMessages(userText, hist),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", WrapError(resp.Provider, ErrEmptyResponse)
	}

	g.logger.Debug("response generated",
		"provider", resp.Provider,
		"history", len(hist),
		"latency_ms", resp.LatencyMs,
	)
	return text, nil
}
