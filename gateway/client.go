package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrSendRejected is a permanent send failure (4xx other than 429):
// retrying the same payload will not help.
var ErrSendRejected = errors.New("gateway rejected send")

// SendResult is the gateway's acknowledgment of an outbound message.
type SendResult struct {
	GatewayMsgID string `json:"id"`
}

// Button is one quick-reply option.
type Button struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Client sends outbound WhatsApp messages through a gateway instance.
// Every send carries an idempotency key of the form
// "{conversation_id}:{turn_id}:{seq}" so gateway-side retries dedupe.
type Client interface {
	SendText(ctx context.Context, instance, toJid, text, idempotencyKey string) (SendResult, error)
	SendButtons(ctx context.Context, instance, toJid, text string, buttons []Button, idempotencyKey string) (SendResult, error)
	SendMedia(ctx context.Context, instance, toJid, mediaURL, caption, idempotencyKey string) (SendResult, error)
}

// HTTPClient is the production Client against the gateway's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for the gateway at baseURL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SendText implements Client.
func (c *HTTPClient) SendText(ctx context.Context, instance, toJid, text, idempotencyKey string) (SendResult, error) {
	return c.post(ctx, fmt.Sprintf("/message/sendText/%s", instance), map[string]interface{}{
		"number": toJid,
		"text":   text,
	}, idempotencyKey)
}

// SendButtons implements Client.
func (c *HTTPClient) SendButtons(ctx context.Context, instance, toJid, text string, buttons []Button, idempotencyKey string) (SendResult, error) {
	return c.post(ctx, fmt.Sprintf("/message/sendButtons/%s", instance), map[string]interface{}{
		"number":  toJid,
		"text":    text,
		"buttons": buttons,
	}, idempotencyKey)
}

// SendMedia implements Client.
func (c *HTTPClient) SendMedia(ctx context.Context, instance, toJid, mediaURL, caption, idempotencyKey string) (SendResult, error) {
	return c.post(ctx, fmt.Sprintf("/message/sendMedia/%s", instance), map[string]interface{}{
		"number":   toJid,
		"mediaUrl": mediaURL,
		"caption":  caption,
	}, idempotencyKey)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload map[string]interface{}, idempotencyKey string) (SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return SendResult{}, fmt.Errorf("gateway send: transient status %d", resp.StatusCode)
	default:
		return SendResult{}, fmt.Errorf("%w: status %d", ErrSendRejected, resp.StatusCode)
	}

	var result SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SendResult{}, fmt.Errorf("gateway send: decode: %w", err)
	}
	return result, nil
}

// FakeClient records sends for tests. Sends are idempotent by key.
type FakeClient struct {
	mu    sync.Mutex
	Sends []FakeSend
	byKey map[string]SendResult
	// FailTimes makes the next N sends fail with a transient error.
	FailTimes int
}

// FakeSend is one recorded outbound message.
type FakeSend struct {
	Instance       string
	ToJid          string
	Text           string
	Kind           string
	IdempotencyKey string
	At             time.Time
}

// NewFakeClient creates an empty fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{byKey: make(map[string]SendResult)}
}

func (f *FakeClient) send(instance, toJid, text, kind, key string) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTimes > 0 {
		f.FailTimes--
		return SendResult{}, errors.New("gateway send: transient status 503")
	}
	if existing, ok := f.byKey[key]; ok {
		return existing, nil
	}
	result := SendResult{GatewayMsgID: fmt.Sprintf("wamid-%d", len(f.Sends)+1)}
	f.Sends = append(f.Sends, FakeSend{
		Instance: instance, ToJid: toJid, Text: text, Kind: kind,
		IdempotencyKey: key, At: time.Now(),
	})
	if key != "" {
		f.byKey[key] = result
	}
	return result, nil
}

// SendText implements Client.
func (f *FakeClient) SendText(_ context.Context, instance, toJid, text, key string) (SendResult, error) {
	return f.send(instance, toJid, text, "text", key)
}

// SendButtons implements Client.
func (f *FakeClient) SendButtons(_ context.Context, instance, toJid, text string, _ []Button, key string) (SendResult, error) {
	return f.send(instance, toJid, text, "buttons", key)
}

// SendMedia implements Client.
func (f *FakeClient) SendMedia(_ context.Context, instance, toJid, mediaURL, caption, key string) (SendResult, error) {
	return f.send(instance, toJid, mediaURL+" "+caption, "media", key)
}

// SentTexts returns the delivered texts in order.
func (f *FakeClient) SentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Sends))
	for i, s := range f.Sends {
		out[i] = s.Text
	}
	return out
}
