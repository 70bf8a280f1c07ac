// Package llmclient implements the stateless single-shot LLM client,
// behind one interface with three pluggable backends (Anthropic,
// OpenAI, Google), selected by config.LLMConfig.Provider.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"corpusrag/internal/config"
	"corpusrag/internal/graphrag/types"
	"corpusrag/internal/observability"
)

// FinishReason mirrors the provider-reported stop condition for a completion.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishOther  FinishReason = "other"
)

// Request is one single-shot completion call.
type Request struct {
	SystemPrompt    string
	UserPrompt      string
	MaxOutputTokens int
	// Temperature is forwarded to the provider only when non-nil, so an
	// explicit 0 (classification calls want deterministic output) is
	// distinguishable from "use the provider default". Set via Float.
	Temperature *float64
	Stop        []string
}

// Float returns a pointer to v, for setting Request.Temperature inline.
func Float(v float64) *float64 {
	return &v
}

// Result is one completion's raw output plus its finish reason.
type Result struct {
	Text         string
	FinishReason FinishReason
}

// Client is the stateless single-shot LLM client. Implementations retry a
// transient failure once before returning LLMUnavailable; there are no
// partial results.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// backend is what each provider-specific client implements; New wraps it
// with the shared retry-once/logging behavior so that concern isn't
// duplicated per provider.
type backend interface {
	complete(ctx context.Context, req Request) (Result, error)
	name() string
}

type retryingClient struct {
	b backend
}

// New selects a backend by cfg.Provider ("anthropic", "openai", "google")
// and wraps it with retry-once-then-LLMUnavailable semantics.
func New(cfg config.LLMConfig) (Client, error) {
	var b backend
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "anthropic":
		b = newAnthropicBackend(cfg.Anthropic)
	case "openai":
		b = newOpenAIBackend(cfg.OpenAI)
	case "google":
		b = newGoogleBackend(cfg.Google)
	default:
		return nil, fmt.Errorf("llmclient: unknown provider %q", cfg.Provider)
	}
	return &retryingClient{b: b}, nil
}

func (c *retryingClient) Complete(ctx context.Context, req Request) (Result, error) {
	if ev := log.Debug(); ev.Enabled() {
		if raw, merr := json.Marshal(req); merr == nil {
			ev.RawJSON("request", observability.RedactJSON(raw)).Str("provider", c.b.name()).Msg("llm completion request")
		}
	}

	res, err := c.b.complete(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("provider", c.b.name()).Msg("llm completion failed, retrying once")
		res, err = c.b.complete(ctx, req)
		if err != nil {
			return Result{}, types.WrapLLMUnavailable(err)
		}
	}
	return res, nil
}
