package model

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIModel adapts the official OpenAI Go SDK to ChatModel.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates an adapter for the given API key and model id
// (e.g. "gpt-4o-mini").
func NewOpenAIModel(apiKey, model string) *OpenAIModel {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIModel{client: &client, model: model}
}

// Name implements ChatModel.
func (p *OpenAIModel) Name() string { return "openai/" + p.model }

// Chat implements ChatModel.
func (p *OpenAIModel) Chat(ctx context.Context, req ChatRequest) (ChatOut, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Text))
		default:
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatOut{}, classifyError("openai", err)
	}
	if len(completion.Choices) == 0 {
		return ChatOut{}, classifyError("openai", errors.New("empty choices in completion"))
	}
	return ChatOut{
		Text:             completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		Model:            p.model,
	}, nil
}
