package model

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicModel adapts the official anthropic-sdk-go client to ChatModel.
// Safe for concurrent use after creation.
type AnthropicModel struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicModel creates an adapter for the given API key and model id
// (e.g. "claude-3-5-haiku-20241022").
func NewAnthropicModel(apiKey, model string) *AnthropicModel {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicModel{client: &client, model: model}
}

// Name implements ChatModel.
func (a *AnthropicModel) Name() string { return "anthropic/" + a.model }

func (a *AnthropicModel) params(req ChatRequest) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return params
}

// Chat implements ChatModel.
func (a *AnthropicModel) Chat(ctx context.Context, req ChatRequest) (ChatOut, error) {
	message, err := a.client.Messages.New(ctx, a.params(req))
	if err != nil {
		return ChatOut{}, classifyError("anthropic", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return ChatOut{
		Text:             text,
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
		Model:            a.model,
	}, nil
}

// ChatStream implements Streamer using the SDK's SSE stream, accumulating
// the final message for usage accounting.
func (a *AnthropicModel) ChatStream(ctx context.Context, req ChatRequest, fn func(Chunk) error) (ChatOut, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(req))

	var accumulated anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := accumulated.Accumulate(event); err != nil {
			return ChatOut{}, classifyError("anthropic", err)
		}
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := fn(Chunk{Text: delta.Text}); err != nil {
					return ChatOut{}, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return ChatOut{}, classifyError("anthropic", err)
	}
	if err := fn(Chunk{Done: true}); err != nil {
		return ChatOut{}, err
	}

	var text string
	for _, block := range accumulated.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return ChatOut{
		Text:             text,
		PromptTokens:     int(accumulated.Usage.InputTokens),
		CompletionTokens: int(accumulated.Usage.OutputTokens),
		Model:            a.model,
	}, nil
}
