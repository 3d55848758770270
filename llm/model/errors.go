package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ModelError classifies a provider failure for retry and breaker logic.
type ModelError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether err is worth retrying against the same or
// another adapter.
func Retryable(err error) bool {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// classifyError maps raw SDK errors to ModelError. The SDKs expose errors
// mostly as strings, so classification is by message shape.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ModelError{Code: "timeout", Message: provider + " request timed out", Retryable: true}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "api key") || strings.Contains(msg, "api_key") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication"):
		return &ModelError{Code: "invalid_api_key", Message: provider + " authentication failed", Retryable: false}

	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") || strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource_exhausted"):
		return &ModelError{Code: "rate_limited", Message: provider + " rate limit exceeded", Retryable: true}

	case strings.Contains(msg, "insufficient_quota") || strings.Contains(msg, "quota") ||
		strings.Contains(msg, "billing"):
		return &ModelError{Code: "quota_exceeded", Message: provider + " quota exceeded", Retryable: false}

	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") || strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "overloaded"):
		return &ModelError{Code: "server_error", Message: fmt.Sprintf("%s server error: %v", provider, err), Retryable: true}

	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return &ModelError{Code: "network_error", Message: fmt.Sprintf("%s network error: %v", provider, err), Retryable: true}
	}

	return &ModelError{Code: "api_error", Message: fmt.Sprintf("%s error: %v", provider, err), Retryable: false}
}
