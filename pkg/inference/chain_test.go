package inference

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChainFallback(t *testing.T) {
	ctx := context.Background()

	// First provider fails
	failing := WithError(errors.New("provider 1 failed"))

	// Second provider succeeds
	working := Replying("From working provider")

	chain, err := NewChain(failing, working)
	if err != nil {
		t.Fatalf("Failed to create chain: %v", err)
	}
	defer chain.Close()

	resp, err := chain.Chat(ctx, &ChatRequest{
		Messages: []Message{NewUserMessage("test")},
	})
	if err != nil {
		t.Fatalf("Chain chat failed: %v", err)
	}

	if resp.Message.Content != "From working provider" {
		t.Errorf("Unexpected response: %s", resp.Message.Content)
	}
}

func TestChainFallsBackToLocal(t *testing.T) {
	ctx := context.Background()

	chain, _ := NewChain(WithError(&APIError{StatusCode: 503, Message: "overloaded", Provider: "gemini"}), NewLocal())
	defer chain.Close()

	resp, err := chain.Chat(ctx, &ChatRequest{
		Messages: []Message{NewSystemMessage("sys"), NewUserMessage("what is 4+5")},
	})
	if err != nil {
		t.Fatalf("Chain chat failed: %v", err)
	}
	if !strings.Contains(resp.Message.Content, "9") {
		t.Errorf("Expected arithmetic answer, got %q", resp.Message.Content)
	}
	if resp.Provider != "local" {
		t.Errorf("Provider = %s, want local", resp.Provider)
	}
}

func TestChainAllFail(t *testing.T) {
	ctx := context.Background()

	p1 := WithError(errors.New("provider 1 failed"))
	p2 := WithError(errors.New("provider 2 failed"))

	chain, _ := NewChain(p1, p2)
	defer chain.Close()

	_, err := chain.Chat(ctx, &ChatRequest{
		Messages: []Message{NewUserMessage("test")},
	})

	if err == nil {
		t.Fatal("Expected error when all providers fail")
	}

	chainErr, ok := err.(*ChainError)
	if !ok {
		t.Fatalf("Expected ChainError, got %T", err)
	}

	if len(chainErr.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(chainErr.Errors))
	}

	if !strings.Contains(err.Error(), "provider 2 failed") {
		t.Errorf("Expected last provider message in %q", err.Error())
	}
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := NewMock()
	chain, _ := NewChain(WithError(errors.New("boom")), second)

	_, err := chain.Chat(ctx, &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if second.CallCount("Chat") != 0 {
		t.Error("Second provider should not be called after cancellation")
	}
}

func TestChainHealth(t *testing.T) {
	ctx := context.Background()

	// One healthy, one unhealthy
	healthy := NewMock()
	unhealthy := WithError(errors.New("unhealthy"))

	chain, _ := NewChain(healthy, unhealthy)
	defer chain.Close()

	// Should pass because at least one is healthy
	err := chain.Health(ctx)
	if err != nil {
		t.Errorf("Health check should pass with at least one healthy provider: %v", err)
	}
}

func TestChainHealthAllUnhealthy(t *testing.T) {
	ctx := context.Background()

	p1 := WithError(errors.New("unhealthy 1"))
	p2 := WithError(errors.New("unhealthy 2"))

	chain, _ := NewChain(p1, p2)
	defer chain.Close()

	err := chain.Health(ctx)
	if err == nil {
		t.Error("Health check should fail when all providers are unhealthy")
	}
}

func TestChainEmpty(t *testing.T) {
	_, err := NewChain()
	if err == nil {
		t.Error("Expected error for empty chain")
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestChainProviders(t *testing.T) {
	p1 := NewMock()
	p2 := NewMock()

	chain, _ := NewChain(p1, p2)

	providers := chain.Providers()
	if len(providers) != 2 {
		t.Errorf("Expected 2 providers, got %d", len(providers))
	}

	if err := chain.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if p1.CallCount("Close") != 1 || p2.CallCount("Close") != 1 {
		t.Error("Expected Close to reach every provider")
	}
}
