package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/dmaraujo/recepcionista/gateway"
)

func fastConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Workers:     4,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
		RetryFactor: 2,
		RetryJitter: 0,
		Wall:        time.Second,
		Gap:         time.Millisecond,
	}
}

func startCoordinator(t *testing.T, store Store, client gateway.Client) *Coordinator {
	t.Helper()
	c := NewCoordinator(store, client, []string{"inst-a"}, fastConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	t.Cleanup(func() {
		c.Stop()
		cancel()
	})
	return c
}

func enqueueReady(t *testing.T, store Store, convID, turnID string, texts ...string) []Entry {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnqueueTurn(ctx, convID, turnID, "inst-a", "jid", drafts(texts...)); err != nil {
		t.Fatalf("EnqueueTurn: %v", err)
	}
	ready, err := store.MarkReady(ctx, convID, turnID)
	if err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	return ready
}

func TestCoordinator_DeliversInOrder(t *testing.T) {
	store := NewMemStore()
	client := gateway.NewFakeClient()
	c := startCoordinator(t, store, client)

	ready := enqueueReady(t, store, "c-1", "t-1", "primeira", "segunda", "terceira")
	c.Submit(ready)
	c.Drain()

	texts := client.SentTexts()
	if len(texts) != 3 || texts[0] != "primeira" || texts[1] != "segunda" || texts[2] != "terceira" {
		t.Fatalf("sent = %v", texts)
	}
	for _, entry := range ready {
		got, _ := store.Entry(entry.ID)
		if got.State != StateDelivered || got.GatewayMsgID == "" {
			t.Errorf("entry %s = %+v", entry.ID, got)
		}
	}
}

func TestCoordinator_ExactlyOnceOnResubmit(t *testing.T) {
	store := NewMemStore()
	client := gateway.NewFakeClient()
	c := startCoordinator(t, store, client)

	ready := enqueueReady(t, store, "c-1", "t-1", "oi")
	c.Submit(ready)
	c.Drain()

	// A duplicate submit finds no ready entries; even a forced re-send
	// would be absorbed by the gateway idempotency key.
	c.Submit(ready)
	c.Drain()

	if len(client.Sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(client.Sends))
	}
	if client.Sends[0].IdempotencyKey != "c-1:t-1:0" {
		t.Errorf("key = %q", client.Sends[0].IdempotencyKey)
	}
}

func TestCoordinator_RetriesTransientFailure(t *testing.T) {
	store := NewMemStore()
	client := gateway.NewFakeClient()
	client.FailTimes = 2
	c := startCoordinator(t, store, client)

	ready := enqueueReady(t, store, "c-1", "t-1", "oi")
	c.Submit(ready)
	c.Drain()

	if len(client.Sends) != 1 {
		t.Fatalf("sends = %d", len(client.Sends))
	}
	got, _ := store.Entry(ready[0].ID)
	if got.State != StateDelivered || got.Attempts != 3 {
		t.Errorf("entry = %+v", got)
	}
}

func TestCoordinator_ExhaustedRetriesFailTerminal(t *testing.T) {
	store := NewMemStore()
	client := gateway.NewFakeClient()
	client.FailTimes = 100
	c := startCoordinator(t, store, client)

	ready := enqueueReady(t, store, "c-1", "t-1", "oi", "tchau")
	c.Submit(ready)
	c.Drain()

	first, _ := store.Entry(ready[0].ID)
	second, _ := store.Entry(ready[1].ID)
	if first.State != StateFailed {
		t.Errorf("first = %s", first.State)
	}
	if second.State != StateDropped {
		t.Errorf("second = %s, want dropped to preserve order", second.State)
	}
}

func TestCoordinator_InstanceViolationHardError(t *testing.T) {
	store := NewMemStore()
	client := gateway.NewFakeClient()
	c := startCoordinator(t, store, client)

	ctx := context.Background()
	_, _ = store.EnqueueTurn(ctx, "c-1", "t-1", "inst-rogue", "jid", drafts("oi"))
	ready, _ := store.MarkReady(ctx, "c-1", "t-1")
	c.Submit(ready)
	c.Drain()

	if len(client.Sends) != 0 {
		t.Fatalf("sends = %d, want 0", len(client.Sends))
	}
	got, _ := store.Entry(ready[0].ID)
	if got.State != StateFailed || got.Attempts != 0 {
		t.Errorf("entry = %+v", got)
	}
}

func TestCoordinator_RecoverResubmitsReady(t *testing.T) {
	store := NewMemStore()
	enqueueReady(t, store, "c-1", "t-1", "pendente")

	// New coordinator instance, as after a crash.
	client := gateway.NewFakeClient()
	c := startCoordinator(t, store, client)
	if err := c.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	c.Drain()

	if texts := client.SentTexts(); len(texts) != 1 || texts[0] != "pendente" {
		t.Errorf("sent = %v", texts)
	}
}

func TestCoordinator_ConversationsDeliverConcurrently(t *testing.T) {
	store := NewMemStore()
	client := gateway.NewFakeClient()
	c := startCoordinator(t, store, client)

	var all []Entry
	for _, conv := range []string{"c-1", "c-2", "c-3", "c-4"} {
		all = append(all, enqueueReady(t, store, conv, "t-1", "a", "b")...)
	}
	c.Submit(all)
	c.Drain()

	if len(client.Sends) != 8 {
		t.Fatalf("sends = %d", len(client.Sends))
	}
	// Per-conversation order must hold regardless of interleaving.
	seen := make(map[string]int)
	for _, send := range client.Sends {
		conv := send.IdempotencyKey[:3]
		if send.Text == "a" && seen[conv] != 0 {
			t.Errorf("conversation %s out of order", conv)
		}
		seen[conv]++
	}
}
