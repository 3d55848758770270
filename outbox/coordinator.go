package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dmaraujo/recepcionista/gateway"
	"github.com/dmaraujo/recepcionista/metrics"
)

// ErrInstanceNotAllowed is a hard delivery error: the entry targets a
// WhatsApp instance outside the allow-list. Never retried.
var ErrInstanceNotAllowed = errors.New("instance not in allow-list")

// CoordinatorConfig tunes the delivery loop.
type CoordinatorConfig struct {
	Workers     int
	MaxAttempts int
	RetryBase   time.Duration
	RetryFactor float64
	RetryJitter float64
	// Wall bounds the total retry time for one entry.
	Wall time.Duration
	// Gap is the minimum pause between consecutive messages of one
	// conversation, so multi-part replies read naturally.
	Gap time.Duration
}

// DefaultCoordinatorConfig matches production settings.
var DefaultCoordinatorConfig = CoordinatorConfig{
	Workers:     4,
	MaxAttempts: 5,
	RetryBase:   time.Second,
	RetryFactor: 2,
	RetryJitter: 0.2,
	Wall:        60 * time.Second,
	Gap:         250 * time.Millisecond,
}

// Coordinator drains ready outbox entries to the gateway. Entries of one
// conversation are delivered strictly in order with at most one in-flight
// message; different conversations deliver concurrently across the worker
// pool.
type Coordinator struct {
	store     Store
	client    gateway.Client
	allowed   map[string]bool
	cfg       CoordinatorConfig
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sleep     func(context.Context, time.Duration) error

	jobs    chan job
	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu        sync.Mutex
	convLocks map[string]*sync.Mutex

	stopOnce sync.Once
	stopped  chan struct{}
}

type job struct {
	conversationID string
	entries        []Entry
}

// NewCoordinator creates a coordinator. allowedInstances is the closed set
// of instances this deployment may send through.
func NewCoordinator(store Store, client gateway.Client, allowedInstances []string, cfg CoordinatorConfig, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg = DefaultCoordinatorConfig
	}
	allowed := make(map[string]bool, len(allowedInstances))
	for _, inst := range allowedInstances {
		allowed[inst] = true
	}
	c := &Coordinator{
		store:     store,
		client:    client,
		allowed:   allowed,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		sleep:     sleepCtx,
		jobs:      make(chan job, 256),
		convLocks: make(map[string]*sync.Mutex),
		stopped:   make(chan struct{}),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "whatsapp-gateway",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("gateway breaker state change", "from", from.String(), "to", to.String())
			if m != nil {
				m.BreakerTransition(name, to.String())
			}
		},
	})
	return c
}

// Start launches the worker pool.
func (c *Coordinator) Start(ctx context.Context) {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
}

// Stop closes intake and waits for in-flight jobs.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		close(c.jobs)
	})
	c.wg.Wait()
}

// Drain blocks until every submitted job finished. Test helper and
// shutdown aid; new submissions during Drain extend the wait.
func (c *Coordinator) Drain() { c.pending.Wait() }

// Submit queues admitted entries for delivery, grouped per conversation.
// Entries must already be in the ready state (MarkReady ran).
func (c *Coordinator) Submit(entries []Entry) {
	grouped := make(map[string][]Entry)
	var order []string
	for _, e := range entries {
		if e.State != StateReady && e.State != StateInFlight {
			continue
		}
		if _, ok := grouped[e.ConversationID]; !ok {
			order = append(order, e.ConversationID)
		}
		grouped[e.ConversationID] = append(grouped[e.ConversationID], e)
	}
	for _, id := range order {
		select {
		case <-c.stopped:
			return
		default:
		}
		c.pending.Add(1)
		c.jobs <- job{conversationID: id, entries: grouped[id]}
	}
}

// Recover re-submits entries that were ready or in flight when the
// process died. Run once at startup before accepting webhooks.
func (c *Coordinator) Recover(ctx context.Context) error {
	entries, err := c.store.ListReady(ctx, 0)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		c.logger.Info("recovering undelivered outbox entries", "count", len(entries))
		c.Submit(entries)
	}
	return nil
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for j := range c.jobs {
		c.deliverConversation(ctx, j)
		c.pending.Done()
	}
}

func (c *Coordinator) lockFor(conversationID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.convLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.convLocks[conversationID] = lock
	}
	return lock
}

// deliverConversation sends one conversation's entries in seq order. The
// per-conversation lock keeps a single in-flight message even when two
// jobs for the same conversation land on different workers.
func (c *Coordinator) deliverConversation(ctx context.Context, j job) {
	lock := c.lockFor(j.conversationID)
	lock.Lock()
	defer lock.Unlock()

	for i, entry := range j.entries {
		if i > 0 && c.cfg.Gap > 0 {
			if err := c.sleep(ctx, c.cfg.Gap); err != nil {
				return
			}
		}
		if !c.deliverEntry(ctx, entry) {
			// Terminal failure dropped the rest of the turn.
			return
		}
	}
}

func (c *Coordinator) deliverEntry(ctx context.Context, entry Entry) bool {
	if !c.allowed[entry.Instance] {
		c.logger.Error("outbox entry targets unknown instance",
			"entry", entry.ID, "instance", entry.Instance)
		if c.metrics != nil {
			c.metrics.InstanceViolation()
		}
		_ = c.store.MarkFailed(ctx, entry.ID, ErrInstanceNotAllowed.Error(), true)
		return false
	}

	deadline := time.Now().Add(c.cfg.Wall)
	start := time.Now()
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return false
			}
			if time.Now().After(deadline) {
				break
			}
		}

		if err := c.store.MarkInFlight(ctx, entry.ID); err != nil {
			c.logger.Error("failed to mark entry in flight", "entry", entry.ID, "error", err)
			return false
		}
		result, err := c.send(ctx, entry)
		if err == nil {
			if err := c.store.MarkDelivered(ctx, entry.ID, result.GatewayMsgID); err != nil {
				c.logger.Error("failed to mark entry delivered", "entry", entry.ID, "error", err)
			}
			if c.metrics != nil {
				c.metrics.OutboxDelivered(time.Since(start))
			}
			return true
		}

		if errors.Is(err, gateway.ErrSendRejected) {
			_ = c.store.MarkFailed(ctx, entry.ID, err.Error(), true)
			if c.metrics != nil {
				c.metrics.OutboxFailed()
			}
			return false
		}
		c.logger.Warn("outbox send failed", "entry", entry.ID, "attempt", attempt+1, "error", err)
		_ = c.store.MarkFailed(ctx, entry.ID, err.Error(), false)
	}

	_ = c.store.MarkFailed(ctx, entry.ID, "retries exhausted", true)
	if c.metrics != nil {
		c.metrics.OutboxFailed()
	}
	return false
}

func (c *Coordinator) send(ctx context.Context, entry Entry) (gateway.SendResult, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		key := entry.IdempotencyKey()
		switch entry.Kind {
		case KindButtons:
			var payload struct {
				Text    string           `json:"text"`
				Buttons []gateway.Button `json:"buttons"`
			}
			if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
				return nil, err
			}
			return c.client.SendButtons(ctx, entry.Instance, entry.ToJid, payload.Text, payload.Buttons, key)
		case KindMedia:
			var payload struct {
				MediaURL string `json:"media_url"`
				Caption  string `json:"caption"`
			}
			if err := json.Unmarshal([]byte(entry.Payload), &payload); err != nil {
				return nil, err
			}
			return c.client.SendMedia(ctx, entry.Instance, entry.ToJid, payload.MediaURL, payload.Caption, key)
		default:
			return c.client.SendText(ctx, entry.Instance, entry.ToJid, entry.Payload, key)
		}
	})
	if err != nil {
		return gateway.SendResult{}, err
	}
	return result.(gateway.SendResult), nil
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.RetryBase)
	for i := 1; i < attempt; i++ {
		delay *= c.cfg.RetryFactor
	}
	jitter := 1 + c.cfg.RetryJitter*(2*rand.Float64()-1)
	return time.Duration(delay * jitter)
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
