package model

import (
	"context"
	"sync"
)

// MockModel is a scripted ChatModel for tests. Each call consumes the next
// scripted step; when the script runs out, the last step repeats.
type MockModel struct {
	ModelName string
	Script    []MockStep

	mu    sync.Mutex
	calls int
}

// MockStep is one scripted response or error.
type MockStep struct {
	Out ChatOut
	Err error
	// Delayed, when set, blocks until the context is done and then
	// returns the context error. Simulates a hung provider.
	Delayed bool
}

// Name implements ChatModel.
func (m *MockModel) Name() string {
	if m.ModelName == "" {
		return "mock"
	}
	return m.ModelName
}

// Calls returns how many times Chat ran.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Chat implements ChatModel.
func (m *MockModel) Chat(ctx context.Context, _ ChatRequest) (ChatOut, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	m.mu.Unlock()

	if idx < 0 {
		return ChatOut{Text: "ok", Model: m.Name()}, nil
	}
	step := m.Script[idx]
	if step.Delayed {
		<-ctx.Done()
		return ChatOut{}, classifyError(m.Name(), ctx.Err())
	}
	if step.Err != nil {
		return ChatOut{}, step.Err
	}
	out := step.Out
	if out.Model == "" {
		out.Model = m.Name()
	}
	return out, nil
}
