package llmclient

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"corpusrag/internal/config"
)

type openAIBackend struct {
	sdk   sdk.Client
	model string
}

func newOpenAIBackend(cfg config.LLMProviderConfig) *openAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = sdk.ChatModelGPT4o
	}
	return &openAIBackend{sdk: sdk.NewClient(opts...), model: model}
}

func (b *openAIBackend) name() string { return "openai" }

func (b *openAIBackend) complete(ctx context.Context, req Request) (Result, error) {
	var messages []sdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, sdk.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, sdk.UserMessage(req.UserPrompt))

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(b.model),
		Messages: messages,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.Stop.OfStringArray = req.Stop
	}

	comp, err := b.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return Result{}, err
	}
	if len(comp.Choices) == 0 {
		return Result{}, nil
	}
	choice := comp.Choices[0]
	return Result{Text: choice.Message.Content, FinishReason: mapOpenAIFinishReason(choice.FinishReason)}, nil
}

func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	default:
		return FinishOther
	}
}
