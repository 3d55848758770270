package conv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_CreateMutateLoad(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	_, err := store.LoadOrCreate(ctx, "c-1", "peer", "inst-a")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	committed, err := store.Mutate(ctx, "c-1", "turn:MSG1", func(c *Conversation) error {
		c.Collected.ParentName = "Maria"
		return c.AppendMessage(Message{Role: RoleUser, Text: "Maria", TS: time.Now().UTC(), MessageID: "MSG1"})
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if committed.Version != 1 {
		t.Errorf("version = %d, want 1", committed.Version)
	}

	loaded, err := store.Load(ctx, "c-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Collected.ParentName != "Maria" {
		t.Errorf("parent name = %q", loaded.Collected.ParentName)
	}
	if loaded.Metrics.MessageCount != 1 {
		t.Errorf("message count = %d", loaded.Metrics.MessageCount)
	}
}

func TestSQLiteStore_CheckpointWrittenBeforeVisible(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	_, _ = store.LoadOrCreate(ctx, "c-1", "peer", "inst-a")

	_, err := store.Mutate(ctx, "c-1", "turn:MSG1", func(c *Conversation) error {
		return c.AppendMessage(Message{Role: RoleUser, Text: "Oi", TS: time.Now().UTC(), MessageID: "MSG1"})
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	// The committed state and its checkpoint land in one transaction, so a
	// checkpoint must exist for every committed mutation.
	checkpoints, err := store.ListCheckpoints(ctx, "c-1", 10)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(checkpoints) != 1 {
		t.Fatalf("checkpoints = %d, want 1", len(checkpoints))
	}
	restored, err := checkpoints[0].Restore()
	if err != nil {
		t.Fatalf("Restore payload: %v", err)
	}
	if restored.Metrics.MessageCount != 1 {
		t.Errorf("checkpoint does not capture committed state: %+v", restored.Metrics)
	}
}

func TestSQLiteStore_RestoreFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)
	_, _ = store.LoadOrCreate(ctx, "c-1", "peer", "inst-a")

	_, _ = store.Mutate(ctx, "c-1", "turn:MSG1", func(c *Conversation) error {
		c.Collected.ParentName = "Maria"
		return nil
	})
	checkpoints, _ := store.ListCheckpoints(ctx, "c-1", 1)

	_, _ = store.Mutate(ctx, "c-1", "turn:MSG2", func(c *Conversation) error {
		c.Collected.ParentName = "Outro"
		return nil
	})

	restored, err := store.Restore(ctx, "c-1", checkpoints[0].CheckpointID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Collected.ParentName != "Maria" {
		t.Errorf("restored parent name = %q, want Maria", restored.Collected.ParentName)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
