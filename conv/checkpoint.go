package conv

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is a durable, versioned snapshot of a Conversation sufficient
// to resume after a restart.
//
// Checkpoints are written by Store.Mutate on every accepted turn, after the
// new state is produced and before the outbox hands anything to the
// gateway. They are pruned by the retention job.
type Checkpoint struct {
	ConversationID string    `json:"conversation_id"`
	CheckpointID   string    `json:"checkpoint_id"`
	CreatedAt      time.Time `json:"created_at"`
	Stage          Stage     `json:"stage"`

	// Payload is the versioned JSON serialization of the Conversation.
	Payload []byte `json:"payload"`

	// Reason records why the checkpoint was written, e.g. "turn:MSG123",
	// "expired:MSG123", "restore".
	Reason string `json:"reason"`

	// IdempotencyKey is "sha256:" + hex hash over (conversation_id,
	// version, payload). Identical state commits produce identical keys,
	// so duplicate checkpoint writes are detectable.
	IdempotencyKey string `json:"idempotency_key"`
}

// NewCheckpoint serializes conv into a checkpoint with the given reason.
func NewCheckpoint(c Conversation, checkpointID, reason string, now time.Time) (Checkpoint, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to serialize conversation %s: %w", c.ID, err)
	}
	return Checkpoint{
		ConversationID: c.ID,
		CheckpointID:   checkpointID,
		CreatedAt:      now,
		Stage:          c.Stage,
		Payload:        payload,
		Reason:         reason,
		IdempotencyKey: checkpointKey(c.ID, c.Version, payload),
	}, nil
}

// Restore deserializes the checkpoint payload back into a Conversation.
func (cp Checkpoint) Restore() (Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(cp.Payload, &c); err != nil {
		return Conversation{}, fmt.Errorf("failed to restore checkpoint %s: %w", cp.CheckpointID, err)
	}
	return c, nil
}

// checkpointKey computes the deterministic idempotency key for a state
// commit: sha256 over conversation ID, version (8-byte big-endian), and
// the serialized payload.
func checkpointKey(conversationID string, version int64, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(conversationID))

	versionBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(versionBytes, uint64(version))
	h.Write(versionBytes)

	h.Write(payload)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
