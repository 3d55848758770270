package model

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel adapts the generative-ai-go Gemini client to ChatModel.
type GoogleModel struct {
	client *genai.Client
	model  string
}

// NewGoogleModel creates an adapter for the given API key and model id
// (e.g. "gemini-1.5-flash"). The client holds a connection; call Close
// when done.
func NewGoogleModel(ctx context.Context, apiKey, model string) (*GoogleModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GoogleModel{client: client, model: model}, nil
}

// Close releases the underlying client.
func (g *GoogleModel) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Name implements ChatModel.
func (g *GoogleModel) Name() string { return "google/" + g.model }

// Chat implements ChatModel. History is replayed through a chat session;
// Gemini uses "model" for the assistant role.
func (g *GoogleModel) Chat(ctx context.Context, req ChatRequest) (ChatOut, error) {
	if len(req.Messages) == 0 {
		return ChatOut{}, classifyError("google", fmt.Errorf("empty message list"))
	}

	gm := g.client.GenerativeModel(g.model)
	if req.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		gm.SetTemperature(float32(req.Temperature))
	}
	if len(req.Stop) > 0 {
		gm.StopSequences = req.Stop
	}

	session := gm.StartChat()
	history := req.Messages[:len(req.Messages)-1]
	last := req.Messages[len(req.Messages)-1]
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Text)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(last.Text))
	if err != nil {
		return ChatOut{}, classifyError("google", err)
	}

	var text string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	out := ChatOut{Text: text, Model: g.model}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
