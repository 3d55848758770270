// Package model defines the chat-model abstraction and the concrete
// adapters for Anthropic, OpenAI, and Google Gemini. The gateway in the
// parent package layers budget, retry, breaker, and failover on top.
package model

import "context"

// Role identifies the author of a chat message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of chat history sent to a model.
type Message struct {
	Role Role
	Text string
}

// ChatRequest is a provider-independent completion request.
type ChatRequest struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// ChatOut is the completed response plus usage accounting.
type ChatOut struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Chunk is one streamed fragment of a response.
type Chunk struct {
	Text string
	Done bool
}

// ChatModel is a single provider+model pairing.
type ChatModel interface {
	// Name identifies the adapter for logging, metrics, and pricing lookup.
	Name() string

	Chat(ctx context.Context, req ChatRequest) (ChatOut, error)
}

// Streamer is implemented by adapters that support incremental output.
// Callers must not assume it: the gateway falls back to emitting a single
// chunk from Chat when the adapter does not stream.
type Streamer interface {
	ChatStream(ctx context.Context, req ChatRequest, fn func(Chunk) error) (ChatOut, error)
}
