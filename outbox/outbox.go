// Package outbox implements exactly-once ordered delivery of assistant
// messages. A turn's emissions are enqueued atomically as planned entries,
// admitted for delivery exactly once through the handoff gate, and then
// delivered in sequence by the coordinator with at most one in-flight
// message per conversation.
package outbox

import (
	"context"
	"errors"
	"time"
)

// Entry states.
const (
	StatePlanned   = "planned"
	StateReady     = "ready"
	StateInFlight  = "in_flight"
	StateDelivered = "delivered"
	StateFailed    = "failed"
	StateDropped   = "dropped"
)

// Kinds of outbound payloads.
const (
	KindText    = "text"
	KindButtons = "buttons"
	KindMedia   = "media"
)

// Errors.
var (
	// ErrAlreadyHandedOff means MarkReady ran twice for a turn. The
	// handoff gate admits a turn's entries exactly once.
	ErrAlreadyHandedOff = errors.New("turn already handed off to outbox")

	// ErrNotFound means no entry or turn matched.
	ErrNotFound = errors.New("outbox entry not found")
)

// Entry is one outbound message. Seq numbers a turn's entries 1..N.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	TurnID         string    `json:"turn_id"`
	Seq            int       `json:"seq"`
	Kind           string    `json:"kind"`
	Payload        string    `json:"payload"`
	Instance       string    `json:"instance"`
	ToJid          string    `json:"to_jid"`
	CreatedAt      time.Time `json:"created_at"`
	State          string    `json:"state"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"last_error,omitempty"`
	GatewayMsgID   string    `json:"gateway_msg_id,omitempty"`
}

// IdempotencyKey is the gateway dedupe key for this entry.
func (e Entry) IdempotencyKey() string {
	return e.ConversationID + ":" + e.TurnID + ":" + itoa(e.Seq)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Draft is the enqueue-time shape of an entry.
type Draft struct {
	Kind    string
	Payload string
}

// Store persists outbox entries.
//
// EnqueueTurn is atomic and idempotent per (conversation, turn): a
// replayed turn neither duplicates nor reorders entries. MarkReady is the
// handoff gate; the second call for the same turn fails with
// ErrAlreadyHandedOff.
type Store interface {
	EnqueueTurn(ctx context.Context, conversationID, turnID, instance, toJid string, drafts []Draft) ([]Entry, error)
	MarkReady(ctx context.Context, conversationID, turnID string) ([]Entry, error)

	// MarkInFlight transitions a ready entry before the send attempt.
	MarkInFlight(ctx context.Context, entryID string) error
	// MarkDelivered finalizes a successful send.
	MarkDelivered(ctx context.Context, entryID, gatewayMsgID string) error
	// MarkFailed records a failed attempt; terminal failures also drop
	// the turn's later entries so order is never violated.
	MarkFailed(ctx context.Context, entryID, reason string, terminal bool) error

	// ListReady returns ready and in_flight entries ordered by
	// (conversation, turn, seq) for crash recovery. In-flight entries
	// are re-sent; the gateway idempotency key absorbs the duplicate.
	ListReady(ctx context.Context, limit int) ([]Entry, error)
}
