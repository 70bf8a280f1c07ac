package llmclient

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"corpusrag/internal/config"
)

type googleBackend struct {
	client *genai.Client
	model  string
}

func newGoogleBackend(cfg config.LLMProviderConfig) *googleBackend {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	clientCfg := &genai.ClientConfig{APIKey: strings.TrimSpace(cfg.APIKey)}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimSuffix(base, "/") + "/"}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		// Deferred: the first Complete call surfaces the same error via
		// LLMUnavailable rather than failing construction.
		return &googleBackend{client: nil, model: model}
	}
	return &googleBackend{client: client, model: model}
}

func (b *googleBackend) name() string { return "google" }

func (b *googleBackend) complete(ctx context.Context, req Request) (Result, error) {
	if b.client == nil {
		return Result{}, fmt.Errorf("google client failed to initialize")
	}

	var contents []*genai.Content
	if req.SystemPrompt != "" {
		// Gemini has no first-class system role for plain GenerateContent calls;
		// fold it into a leading user-role turn.
		contents = append(contents, genai.NewContentFromText("[system] "+req.SystemPrompt, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(req.UserPrompt, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		cfg.Temperature = &temp
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Result{}, fmt.Errorf("no candidates in google response")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	return Result{Text: text.String(), FinishReason: mapGoogleFinishReason(resp.Candidates[0].FinishReason)}, nil
}

func mapGoogleFinishReason(reason genai.FinishReason) FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	default:
		return FinishOther
	}
}
