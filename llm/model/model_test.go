package model

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"auth 401", errors.New("POST 401 unauthorized"), "invalid_api_key", false},
		{"rate limit", errors.New("429 too many requests"), "rate_limited", true},
		{"quota", errors.New("insufficient_quota for account"), "quota_exceeded", false},
		{"server", errors.New("503 service unavailable"), "server_error", true},
		{"overloaded", errors.New("overloaded_error: try again"), "server_error", true},
		{"network", errors.New("connection reset by peer"), "network_error", true},
		{"unknown", errors.New("something odd"), "api_error", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError("test", tc.err)
			var me *ModelError
			if !errors.As(got, &me) {
				t.Fatalf("expected ModelError, got %v", got)
			}
			if me.Code != tc.code {
				t.Errorf("code = %q, want %q", me.Code, tc.code)
			}
			if me.Retryable != tc.retryable {
				t.Errorf("retryable = %v, want %v", me.Retryable, tc.retryable)
			}
		})
	}
}

func TestClassifyError_ContextPassthrough(t *testing.T) {
	got := classifyError("test", context.Canceled)
	if !errors.Is(got, context.Canceled) {
		t.Errorf("canceled context should pass through, got %v", got)
	}

	got = classifyError("test", context.DeadlineExceeded)
	var me *ModelError
	if !errors.As(got, &me) || me.Code != "timeout" || !me.Retryable {
		t.Errorf("deadline should map to retryable timeout, got %v", got)
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(errors.New("plain")) {
		t.Error("plain error should not be retryable")
	}
	if !Retryable(&ModelError{Code: "server_error", Retryable: true}) {
		t.Error("retryable ModelError not recognized")
	}
}

func TestMockModel_Script(t *testing.T) {
	mock := &MockModel{
		ModelName: "mock/a",
		Script: []MockStep{
			{Err: &ModelError{Code: "server_error", Retryable: true}},
			{Out: ChatOut{Text: "segunda", PromptTokens: 10, CompletionTokens: 5}},
		},
	}

	_, err := mock.Chat(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("first call should fail")
	}

	out, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil || out.Text != "segunda" {
		t.Fatalf("second call: %v %v", out, err)
	}

	// Script exhausted: last step repeats.
	out, _ = mock.Chat(context.Background(), ChatRequest{})
	if out.Text != "segunda" {
		t.Errorf("exhausted script should repeat last step, got %q", out.Text)
	}
	if mock.Calls() != 3 {
		t.Errorf("calls = %d", mock.Calls())
	}
}

func TestMockModel_Delayed(t *testing.T) {
	mock := &MockModel{Script: []MockStep{{Delayed: true}}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mock.Chat(ctx, ChatRequest{})
	var me *ModelError
	if !errors.As(err, &me) || me.Code != "timeout" {
		t.Errorf("delayed call should time out, got %v", err)
	}
}
