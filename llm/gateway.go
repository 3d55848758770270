// Package llm provides the model gateway: a single entry point for chat
// completions that layers daily budget enforcement, bounded retries,
// per-adapter circuit breakers, and ordered failover over the concrete
// provider adapters in llm/model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dmaraujo/recepcionista/llm/model"
	"github.com/dmaraujo/recepcionista/metrics"
)

// ErrNoAdapterAvailable is returned when every adapter is open, exhausted,
// or failed permanently.
var ErrNoAdapterAvailable = errors.New("no llm adapter available")

// Request is a gateway completion request.
type Request struct {
	System      string
	Messages    []model.Message
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Usage is the settled accounting for one gateway call.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostBRL          float64
	Latency          time.Duration
}

// Response is a completed gateway call.
type Response struct {
	Text  string
	Usage Usage
}

// RetryPolicy bounds per-adapter retry behavior.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64
	WallClock   time.Duration
}

// DefaultRetryPolicy retries up to 3 attempts per adapter with exponential
// backoff from 250ms and an 8s overall ceiling.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   250 * time.Millisecond,
	Factor:      2,
	Jitter:      0.2,
	WallClock:   8 * time.Second,
}

// Gateway fronts an ordered list of adapters. The first adapter is the
// primary; later ones are failover targets tried in order.
type Gateway struct {
	adapters []model.ChatModel
	breakers map[string]*gobreaker.CircuitBreaker
	budget   *Budget
	retry    RetryPolicy
	logger   *slog.Logger
	metrics  *metrics.Metrics
	sleep    func(context.Context, time.Duration) error
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option { return func(g *Gateway) { g.retry = p } }

// WithMetrics wires usage and breaker metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gateway) { g.logger = l } }

// NewGateway builds a gateway over the given adapters in failover order.
func NewGateway(budget *Budget, adapters []model.ChatModel, opts ...Option) (*Gateway, error) {
	if len(adapters) == 0 {
		return nil, errors.New("gateway needs at least one adapter")
	}
	g := &Gateway{
		adapters: adapters,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(adapters)),
		budget:   budget,
		retry:    DefaultRetryPolicy,
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	for _, adapter := range adapters {
		g.breakers[adapter.Name()] = g.newBreaker(adapter.Name())
	}
	return g, nil
}

func (g *Gateway) newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRate >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("llm breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			if g.metrics != nil {
				g.metrics.BreakerTransition(name, to.String())
			}
		},
	})
}

// Chat runs the request against the adapter chain and returns the first
// successful response.
func (g *Gateway) Chat(ctx context.Context, req Request) (Response, error) {
	return g.run(ctx, req, nil)
}

// Stream runs the request and delivers incremental chunks to fn when the
// serving adapter supports streaming; otherwise the full response arrives
// as a single chunk followed by a done marker.
func (g *Gateway) Stream(ctx context.Context, req Request, fn func(model.Chunk) error) (Response, error) {
	return g.run(ctx, req, fn)
}

func (g *Gateway) run(ctx context.Context, req Request, streamFn func(model.Chunk) error) (Response, error) {
	reservation, err := g.reserve(req)
	if err != nil {
		if g.metrics != nil {
			g.metrics.BudgetRejected()
		}
		return Response{}, err
	}

	var lastErr error
	for _, adapter := range g.adapters {
		resp, err := g.tryAdapter(ctx, adapter, req, streamFn)
		if err == nil {
			reservation.Commit(resp.Usage.CostBRL)
			if g.metrics != nil {
				g.metrics.LLMUsage(resp.Usage.Model, resp.Usage.PromptTokens,
					resp.Usage.CompletionTokens, resp.Usage.CostBRL, resp.Usage.Latency)
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.logger.Warn("llm adapter failed, trying next",
			"adapter", adapter.Name(), "error", err)
	}

	reservation.Cancel()
	if lastErr == nil {
		lastErr = ErrNoAdapterAvailable
	}
	return Response{}, fmt.Errorf("%w: %v", ErrNoAdapterAvailable, lastErr)
}

func (g *Gateway) reserve(req Request) (*Reservation, error) {
	promptChars := len(req.System)
	for _, m := range req.Messages {
		promptChars += len(m.Text)
	}
	estimate := EstimateCostBRL(modelID(g.adapters[0].Name()), promptChars, req.MaxTokens)
	return g.budget.Reserve(estimate)
}

// tryAdapter runs the bounded retry loop for one adapter behind its breaker.
func (g *Gateway) tryAdapter(ctx context.Context, adapter model.ChatModel, req Request, streamFn func(model.Chunk) error) (Response, error) {
	breaker := g.breakers[adapter.Name()]
	deadline := time.Now().Add(g.retry.WallClock)

	var lastErr error
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, g.backoff(attempt)); err != nil {
				return Response{}, err
			}
		}
		if time.Now().After(deadline) {
			break
		}

		start := time.Now()
		result, err := breaker.Execute(func() (interface{}, error) {
			return g.invoke(ctx, adapter, req, streamFn)
		})
		if err == nil {
			out := result.(model.ChatOut)
			return Response{
				Text: out.Text,
				Usage: Usage{
					Model:            out.Model,
					PromptTokens:     out.PromptTokens,
					CompletionTokens: out.CompletionTokens,
					CostBRL:          CostBRL(out.Model, out.PromptTokens, out.CompletionTokens),
					Latency:          time.Since(start),
				},
			}, nil
		}

		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, err
		}
		if !model.Retryable(err) {
			return Response{}, err
		}
	}
	if lastErr == nil {
		lastErr = context.DeadlineExceeded
	}
	return Response{}, lastErr
}

func (g *Gateway) invoke(ctx context.Context, adapter model.ChatModel, req Request, streamFn func(model.Chunk) error) (model.ChatOut, error) {
	chatReq := model.ChatRequest{
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if streamFn != nil {
		if streamer, ok := adapter.(model.Streamer); ok {
			return streamer.ChatStream(ctx, chatReq, streamFn)
		}
	}
	out, err := adapter.Chat(ctx, chatReq)
	if err != nil {
		return model.ChatOut{}, err
	}
	if streamFn != nil {
		if err := streamFn(model.Chunk{Text: out.Text}); err != nil {
			return model.ChatOut{}, err
		}
		if err := streamFn(model.Chunk{Done: true}); err != nil {
			return model.ChatOut{}, err
		}
	}
	return out, nil
}

func (g *Gateway) backoff(attempt int) time.Duration {
	delay := float64(g.retry.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= g.retry.Factor
	}
	jitter := 1 + g.retry.Jitter*(2*rand.Float64()-1)
	return time.Duration(delay * jitter)
}

// modelID strips the provider prefix from an adapter name for pricing
// lookup ("anthropic/claude-3-5-haiku-20241022" -> "claude-3-5-haiku-...").
func modelID(adapterName string) string {
	if idx := strings.IndexByte(adapterName, '/'); idx >= 0 {
		return adapterName[idx+1:]
	}
	return adapterName
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
