package llmclient

import (
	"context"
	"errors"
	"testing"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/types"
)

func testLLMConfig(provider string) config.LLMConfig {
	return config.LLMConfig{Provider: provider}
}

type stubBackend struct {
	calls int
	failN int
	text  string
}

func (s *stubBackend) name() string { return "stub" }

func (s *stubBackend) complete(_ context.Context, _ Request) (Result, error) {
	s.calls++
	if s.calls <= s.failN {
		return Result{}, errors.New("transient failure")
	}
	return Result{Text: s.text, FinishReason: FinishStop}, nil
}

func TestRetryingClient_RetriesOnceThenSucceeds(t *testing.T) {
	b := &stubBackend{failN: 1, text: "answer"}
	c := &retryingClient{b: b}
	res, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "answer" {
		t.Fatalf("expected answer text, got %q", res.Text)
	}
	if b.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", b.calls)
	}
}

func TestRetryingClient_FailsTwiceReturnsLLMUnavailable(t *testing.T) {
	b := &stubBackend{failN: 2}
	c := &retryingClient{b: b}
	_, err := c.Complete(context.Background(), Request{UserPrompt: "hi"})
	if !errors.Is(err, types.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
	if b.calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", b.calls)
	}
}

func TestNew_UnknownProviderErrors(t *testing.T) {
	_, err := New(testLLMConfig("bogus"))
	if err == nil {
		t.Fatalf("expected an error for an unknown provider")
	}
}

func TestMapFinishReasons(t *testing.T) {
	if mapAnthropicStopReason("end_turn") != FinishStop {
		t.Fatalf("expected end_turn to map to stop")
	}
	if mapAnthropicStopReason("max_tokens") != FinishLength {
		t.Fatalf("expected max_tokens to map to length")
	}
	if mapOpenAIFinishReason("stop") != FinishStop {
		t.Fatalf("expected stop to map to stop")
	}
	if mapOpenAIFinishReason("length") != FinishLength {
		t.Fatalf("expected length to map to length")
	}
}
