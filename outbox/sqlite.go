package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the outbox so planned and ready entries survive a
// restart. Same single-writer configuration as the conversation store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outbox_entries (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	turn_id         TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	instance        TEXT NOT NULL,
	to_jid          TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	state           TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	gateway_msg_id  TEXT NOT NULL DEFAULT '',
	UNIQUE (conversation_id, turn_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_outbox_state ON outbox_entries (state);

CREATE TABLE IF NOT EXISTS outbox_handoffs (
	conversation_id TEXT NOT NULL,
	turn_id         TEXT NOT NULL,
	handed_at       TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, turn_id)
);`

// NewSQLiteStore opens (or creates) the outbox database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
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

// Ping verifies the handle. Used by the registry health check.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnqueueTurn implements Store. The whole turn lands in one transaction;
// a replay returns the previously stored entries untouched.
func (s *SQLiteStore) EnqueueTurn(ctx context.Context, conversationID, turnID, instance, toJid string, drafts []Draft) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_entries WHERE conversation_id = ? AND turn_id = ?",
		conversationID, turnID).Scan(&existing)
	if err != nil {
		return nil, err
	}
	if existing > 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return s.turnEntries(ctx, conversationID, turnID)
	}

	createdAt := s.now()
	for i, draft := range drafts {
		seq := i + 1
		id := fmt.Sprintf("%s:%s:%d", conversationID, turnID, seq)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox_entries
			 (id, conversation_id, turn_id, seq, kind, payload, instance, to_jid, created_at, state)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, conversationID, turnID, seq, draft.Kind, draft.Payload, instance, toJid, createdAt, StatePlanned)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.turnEntries(ctx, conversationID, turnID)
}

// MarkReady implements Store. The handoff row is the single-admission
// guard: its primary key makes the second insert fail.
func (s *SQLiteStore) MarkReady(ctx context.Context, conversationID, turnID string) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_entries WHERE conversation_id = ? AND turn_id = ?",
		conversationID, turnID).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	result, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO outbox_handoffs (conversation_id, turn_id, handed_at) VALUES (?, ?, ?)",
		conversationID, turnID, s.now())
	if err != nil {
		return nil, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, ErrAlreadyHandedOff
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE outbox_entries SET state = ? WHERE conversation_id = ? AND turn_id = ? AND state = ?",
		StateReady, conversationID, turnID, StatePlanned)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.turnEntries(ctx, conversationID, turnID)
}

// MarkInFlight implements Store.
func (s *SQLiteStore) MarkInFlight(ctx context.Context, entryID string) error {
	return s.exec(ctx,
		"UPDATE outbox_entries SET state = ?, attempts = attempts + 1 WHERE id = ?",
		StateInFlight, entryID)
}

// MarkDelivered implements Store.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, entryID, gatewayMsgID string) error {
	return s.exec(ctx,
		"UPDATE outbox_entries SET state = ?, gateway_msg_id = ? WHERE id = ?",
		StateDelivered, gatewayMsgID, entryID)
}

// MarkFailed implements Store.
func (s *SQLiteStore) MarkFailed(ctx context.Context, entryID, reason string, terminal bool) error {
	if !terminal {
		return s.exec(ctx,
			"UPDATE outbox_entries SET state = ?, last_error = ? WHERE id = ?",
			StateReady, reason, entryID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var conversationID, turnID string
	var seq int
	err = tx.QueryRowContext(ctx,
		"SELECT conversation_id, turn_id, seq FROM outbox_entries WHERE id = ?", entryID,
	).Scan(&conversationID, &turnID, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE outbox_entries SET state = ?, last_error = ? WHERE id = ?",
		StateFailed, reason, entryID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_entries SET state = ?
		 WHERE conversation_id = ? AND turn_id = ? AND seq > ? AND state != ?`,
		StateDropped, conversationID, turnID, seq, StateDelivered); err != nil {
		return err
	}
	return tx.Commit()
}

// ListReady implements Store.
func (s *SQLiteStore) ListReady(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, turn_id, seq, kind, payload, instance, to_jid,
		        created_at, state, attempts, last_error, gateway_msg_id
		 FROM outbox_entries
		 WHERE state IN (?, ?)
		 ORDER BY conversation_id, created_at, seq
		 LIMIT ?`,
		StateReady, StateInFlight, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) turnEntries(ctx context.Context, conversationID, turnID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, turn_id, seq, kind, payload, instance, to_jid,
		        created_at, state, attempts, last_error, gateway_msg_id
		 FROM outbox_entries
		 WHERE conversation_id = ? AND turn_id = ?
		 ORDER BY seq`,
		conversationID, turnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.TurnID, &e.Seq, &e.Kind, &e.Payload,
			&e.Instance, &e.ToJid, &e.CreatedAt, &e.State, &e.Attempts, &e.LastError, &e.GatewayMsgID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
