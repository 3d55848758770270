package conv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// ErrStaleVersion is returned when a mutation raced a newer commit.
// Callers retry once; if still stale, the newer turn wins and the older is
// dropped with a metric.
var ErrStaleVersion = errors.New("stale conversation version")

// ErrStorageUnavailable is returned when the backing store cannot be
// reached. Callers treat it as a transient dependency error.
var ErrStorageUnavailable = errors.New("conversation storage unavailable")

// Store persists conversations and their checkpoints.
//
// All state mutation goes through Mutate, which is write-ahead: the
// checkpoint is durable before any side effect visible outside the process
// (notably outbox delivery) proceeds. Concurrent Mutate calls on the same
// conversation are serialized; losers receive ErrStaleVersion.
type Store interface {
	// Load returns the conversation, or ErrNotFound.
	Load(ctx context.Context, conversationID string) (Conversation, error)

	// LoadOrCreate returns the conversation, creating a fresh one at the
	// greeting stage when absent.
	LoadOrCreate(ctx context.Context, conversationID, peerID, instance string) (Conversation, error)

	// Mutate applies fn to the current state under the conversation's
	// write lock. On success the invariants are re-checked, Version is
	// incremented, and a checkpoint with the given reason is written
	// durably. Returns the committed snapshot.
	Mutate(ctx context.Context, conversationID, reason string, fn func(*Conversation) error) (Conversation, error)

	// ListCheckpoints returns up to limit checkpoints, newest first.
	ListCheckpoints(ctx context.Context, conversationID string, limit int) ([]Checkpoint, error)

	// Restore replaces the conversation state with the given checkpoint's
	// payload and returns the restored snapshot. The restore itself is
	// checkpointed with reason "restore".
	Restore(ctx context.Context, conversationID, checkpointID string) (Conversation, error)

	// PruneCheckpoints deletes checkpoints created before cutoff and
	// returns how many were removed. Run by the retention job.
	PruneCheckpoints(ctx context.Context, cutoff time.Time) (int, error)
}
