package conv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLStore is a Store backed by MySQL, for multi-replica deployments.
//
// Same schema shape as SQLiteStore; the optimistic version guard in Mutate
// provides the serialized-mutation contract across replicas.
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id         VARCHAR(64) PRIMARY KEY,
		peer_id    VARCHAR(128) NOT NULL,
		instance   VARCHAR(128) NOT NULL,
		payload    JSON NOT NULL,
		version    BIGINT NOT NULL,
		updated_at TIMESTAMP(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_checkpoints (
		conversation_id VARCHAR(64) NOT NULL,
		checkpoint_id   VARCHAR(64) NOT NULL,
		created_at      TIMESTAMP(6) NOT NULL,
		stage           VARCHAR(32) NOT NULL,
		payload         JSON NOT NULL,
		reason          VARCHAR(128) NOT NULL,
		idempotency_key VARCHAR(80) NOT NULL,
		PRIMARY KEY (conversation_id, checkpoint_id),
		INDEX idx_checkpoints_created (created_at)
	)`,
}

// NewMySQLStore connects using the given DSN (parseTime=true required).
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	for _, ddl := range mysqlSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return &MySQLStore{db: db, now: time.Now}, nil
}

// Close releases the connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// Ping verifies connectivity. Used by the registry health check.
func (s *MySQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Load implements Store.
func (s *MySQLStore) Load(ctx context.Context, conversationID string) (Conversation, error) {
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
func (s *MySQLStore) LoadOrCreate(ctx context.Context, conversationID, peerID, instance string) (Conversation, error) {
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
		 ON DUPLICATE KEY UPDATE id = id`,
		conversationID, peerID, instance, payload, s.now())
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return s.Load(ctx, conversationID)
}

// Mutate implements Store.
func (s *MySQLStore) Mutate(ctx context.Context, conversationID, reason string, fn func(*Conversation) error) (Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	var version int64
	err = tx.QueryRowContext(ctx,
		"SELECT payload, version FROM conversations WHERE id = ? FOR UPDATE", conversationID,
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
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_checkpoints
		 (conversation_id, checkpoint_id, created_at, stage, payload, reason, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		checkpoint.ConversationID, checkpoint.CheckpointID, checkpoint.CreatedAt,
		string(checkpoint.Stage), checkpoint.Payload, checkpoint.Reason, checkpoint.IdempotencyKey)
	if err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return working, nil
}

// ListCheckpoints implements Store.
func (s *MySQLStore) ListCheckpoints(ctx context.Context, conversationID string, limit int) ([]Checkpoint, error) {
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
func (s *MySQLStore) Restore(ctx context.Context, conversationID, checkpointID string) (Conversation, error) {
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
func (s *MySQLStore) PruneCheckpoints(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM conversation_checkpoints WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}
