package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmaraujo/recepcionista/metrics"
	"github.com/dmaraujo/recepcionista/preprocess"
)

const (
	// mailboxDepth bounds queued turns per conversation. When full the
	// oldest pending turn is discarded so the newest user message wins.
	mailboxDepth = 8

	// turnDeadline bounds one turn end to end, including LLM calls.
	turnDeadline = 20 * time.Second
)

// Mailboxes serializes turn processing per conversation: one goroutine
// per active conversation drains its queue in arrival order, so two
// webhooks for the same chat can never interleave.
type Mailboxes struct {
	engine   *Engine
	metrics  *metrics.Metrics
	logger   *slog.Logger
	depth    int
	deadline time.Duration

	mu        sync.Mutex
	boxes     map[string]*mailbox
	wg        sync.WaitGroup
	closed    bool
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

type mailbox struct {
	queue   []preprocess.AcceptedTurn
	running bool
}

// NewMailboxes creates the dispatcher. Start is implicit; Stop drains.
func NewMailboxes(engine *Engine, m *metrics.Metrics, logger *slog.Logger) *Mailboxes {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mailboxes{
		engine:    engine,
		metrics:   m,
		logger:    logger,
		depth:     mailboxDepth,
		deadline:  turnDeadline,
		boxes:     make(map[string]*mailbox),
		baseCtx:   ctx,
		cancelAll: cancel,
	}
}

// WithLimits overrides the queue depth and turn deadline. Call before
// the first Enqueue.
func (mb *Mailboxes) WithLimits(depth int, deadline time.Duration) *Mailboxes {
	if depth > 0 {
		mb.depth = depth
	}
	if deadline > 0 {
		mb.deadline = deadline
	}
	return mb
}

// Enqueue queues an accepted turn for its conversation. A full mailbox
// drops its oldest pending turn rather than rejecting the new one.
func (mb *Mailboxes) Enqueue(turn preprocess.AcceptedTurn) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return errors.New("mailboxes stopped")
	}

	box, ok := mb.boxes[turn.ConversationID]
	if !ok {
		box = &mailbox{}
		mb.boxes[turn.ConversationID] = box
	}
	if len(box.queue) >= mb.depth {
		box.queue = box.queue[1:]
		mb.metrics.QueueOverflow()
		mb.logger.Warn("mailbox overflow, oldest turn dropped", "conversation_id", turn.ConversationID)
	}
	box.queue = append(box.queue, turn)

	if !box.running {
		box.running = true
		mb.wg.Add(1)
		go mb.drain(turn.ConversationID, box)
	}
	return nil
}

// Stop refuses new turns and waits for in-flight ones to finish.
func (mb *Mailboxes) Stop() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	mb.wg.Wait()
	mb.cancelAll()
}

func (mb *Mailboxes) drain(conversationID string, box *mailbox) {
	defer mb.wg.Done()
	for {
		mb.mu.Lock()
		if len(box.queue) == 0 {
			box.running = false
			delete(mb.boxes, conversationID)
			mb.mu.Unlock()
			return
		}
		turn := box.queue[0]
		box.queue = box.queue[1:]
		mb.mu.Unlock()

		mb.process(turn)
	}
}

func (mb *Mailboxes) process(turn preprocess.AcceptedTurn) {
	ctx, cancel := context.WithTimeout(mb.baseCtx, mb.deadline)
	defer cancel()

	err := mb.engine.RunTurn(ctx, turn)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		mb.metrics.TurnExpired()
		mb.metrics.TurnOutcome("expired")
		mb.logger.Error("turn deadline exceeded", "conversation_id", turn.ConversationID, "turn_id", turn.MessageID)
		mb.apologize(turn)
	default:
		mb.logger.Error("turn failed", "conversation_id", turn.ConversationID, "turn_id", turn.MessageID, "error", err)
	}
}

// apologize sends the canned delay apology for an expired turn. A short
// fresh context keeps the apology itself from hanging.
func (mb *Mailboxes) apologize(turn preprocess.AcceptedTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mb.engine.SendExpired(ctx, turn); err != nil {
		mb.logger.Error("expired-turn apology failed", "conversation_id", turn.ConversationID, "error", err)
	}
}
