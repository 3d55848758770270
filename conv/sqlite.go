package conv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file Store implementation.
//
// Suitable for single-replica deployments and local development with zero
// setup. WAL mode keeps reads concurrent with the single writer; the
// optimistic version check in Mutate turns write races into
// ErrStaleVersion.
//
// Use ":memory:" as the path for throwaway test databases.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	peer_id    TEXT NOT NULL,
	instance   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS conversation_checkpoints (
	conversation_id TEXT NOT NULL,
	checkpoint_id   TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	stage           TEXT NOT NULL,
	payload         BLOB NOT NULL,
	reason          TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	PRIMARY KEY (conversation_id, checkpoint_id)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created
	ON conversation_checkpoints (created_at);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping verifies the database handle. Used by the registry health check.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (Conversation, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM conversations WHERE id = ?", conversationID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return decodeConversation(payload)
}

// LoadOrCreate implements Store.
func (s *SQLiteStore) LoadOrCreate(ctx context.Context, conversationID, peerID, instance string) (Conversation, error) {
	existing, err := s.Load(ctx, conversationID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Conversation{}, err
	}

	created := New(conversationID, peerID, instance, s.now())
	payload, err := json.Marshal(created)
	if err != nil {
		return Conversation{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, peer_id, instance, payload, version, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		conversationID, peerID, instance, payload, s.now())
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// Re-load in case a concurrent writer won the insert race.
	return s.Load(ctx, conversationID)
}

// Mutate implements Store. The update and its checkpoint commit in one
// transaction; the WHERE version guard converts lost races into
// ErrStaleVersion.
func (s *SQLiteStore) Mutate(ctx context.Context, conversationID, reason string, fn func(*Conversation) error) (Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	var version int64
	err = tx.QueryRowContext(ctx,
		"SELECT payload, version FROM conversations WHERE id = ?", conversationID,
	).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	working, err := decodeConversation(payload)
	if err != nil {
		return Conversation{}, err
	}
	if err := fn(&working); err != nil {
		return Conversation{}, err
	}
	if err := working.CheckInvariants(); err != nil {
		return Conversation{}, err
	}
	working.Version = version + 1

	updated, err := json.Marshal(working)
	if err != nil {
		return Conversation{}, err
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE conversations SET payload = ?, version = ?, updated_at = ? WHERE id = ? AND version = ?",
		updated, working.Version, s.now(), conversationID, version)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return Conversation{}, ErrStaleVersion
	}

	checkpoint, err := NewCheckpoint(working, uuid.NewString(), reason, s.now())
	if err != nil {
		return Conversation{}, err
	}
	if err := insertCheckpoint(ctx, tx, checkpoint); err != nil {
		return Conversation{}, err
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return working, nil
}

// ListCheckpoints implements Store.
func (s *SQLiteStore) ListCheckpoints(ctx context.Context, conversationID string, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id, checkpoint_id, created_at, stage, payload, reason, idempotency_key
		 FROM conversation_checkpoints
		 WHERE conversation_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var stage string
		if err := rows.Scan(&cp.ConversationID, &cp.CheckpointID, &cp.CreatedAt,
			&stage, &cp.Payload, &cp.Reason, &cp.IdempotencyKey); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		cp.Stage = Stage(stage)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Restore implements Store.
func (s *SQLiteStore) Restore(ctx context.Context, conversationID, checkpointID string) (Conversation, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM conversation_checkpoints WHERE conversation_id = ? AND checkpoint_id = ?",
		conversationID, checkpointID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	restored, err := decodeConversation(payload)
	if err != nil {
		return Conversation{}, err
	}

	return s.Mutate(ctx, conversationID, "restore", func(current *Conversation) error {
		*current = restored
		return nil
	})
}

// PruneCheckpoints implements Store.
func (s *SQLiteStore) PruneCheckpoints(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_checkpoints WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func insertCheckpoint(ctx context.Context, tx *sql.Tx, cp Checkpoint) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_checkpoints
		 (conversation_id, checkpoint_id, created_at, stage, payload, reason, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ConversationID, cp.CheckpointID, cp.CreatedAt, string(cp.Stage),
		cp.Payload, cp.Reason, cp.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func decodeConversation(payload []byte) (Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(payload, &c); err != nil {
		return Conversation{}, fmt.Errorf("failed to decode conversation payload: %w", err)
	}
	return c, nil
}
