package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and single-process development.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*Entry   // id -> entry
	byTurn  map[string][]string // conversation:turn -> entry ids in seq order
	handed  map[string]bool     // conversation:turn -> handoff done
	now     func() time.Time
}

// NewMemStore creates an empty in-memory outbox.
func NewMemStore() *MemStore {
	return &MemStore{
		entries: make(map[string]*Entry),
		byTurn:  make(map[string][]string),
		handed:  make(map[string]bool),
		now:     time.Now,
	}
}

func turnKey(conversationID, turnID string) string {
	return conversationID + ":" + turnID
}

// EnqueueTurn implements Store.
func (s *MemStore) EnqueueTurn(_ context.Context, conversationID, turnID, instance, toJid string, drafts []Draft) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := turnKey(conversationID, turnID)
	if ids, ok := s.byTurn[key]; ok {
		return s.snapshot(ids), nil
	}

	ids := make([]string, 0, len(drafts))
	for i, draft := range drafts {
		seq := i + 1
		entry := &Entry{
			ID:             fmt.Sprintf("%s:%d", key, seq),
			ConversationID: conversationID,
			TurnID:         turnID,
			Seq:            seq,
			Kind:           draft.Kind,
			Payload:        draft.Payload,
			Instance:       instance,
			ToJid:          toJid,
			CreatedAt:      s.now(),
			State:          StatePlanned,
		}
		s.entries[entry.ID] = entry
		ids = append(ids, entry.ID)
	}
	s.byTurn[key] = ids
	return s.snapshot(ids), nil
}

// MarkReady implements Store.
func (s *MemStore) MarkReady(_ context.Context, conversationID, turnID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := turnKey(conversationID, turnID)
	ids, ok := s.byTurn[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.handed[key] {
		return nil, ErrAlreadyHandedOff
	}
	s.handed[key] = true
	for _, id := range ids {
		if s.entries[id].State == StatePlanned {
			s.entries[id].State = StateReady
		}
	}
	return s.snapshot(ids), nil
}

// MarkInFlight implements Store.
func (s *MemStore) MarkInFlight(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	entry.State = StateInFlight
	entry.Attempts++
	return nil
}

// MarkDelivered implements Store.
func (s *MemStore) MarkDelivered(_ context.Context, entryID, gatewayMsgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	entry.State = StateDelivered
	entry.GatewayMsgID = gatewayMsgID
	return nil
}

// MarkFailed implements Store.
func (s *MemStore) MarkFailed(_ context.Context, entryID, reason string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	entry.LastError = reason
	if !terminal {
		entry.State = StateReady
		return nil
	}
	entry.State = StateFailed
	// Later entries of the same turn can never be sent without breaking
	// order; drop them.
	key := turnKey(entry.ConversationID, entry.TurnID)
	for _, id := range s.byTurn[key] {
		sibling := s.entries[id]
		if sibling.Seq > entry.Seq && sibling.State != StateDelivered {
			sibling.State = StateDropped
		}
	}
	return nil
}

// ListReady implements Store.
func (s *MemStore) ListReady(_ context.Context, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, entry := range s.entries {
		if entry.State == StateReady || entry.State == StateInFlight {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConversationID != out[j].ConversationID {
			return out[i].ConversationID < out[j].ConversationID
		}
		if out[i].TurnID != out[j].TurnID {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Entry returns a copy of one entry, for tests.
func (s *MemStore) Entry(entryID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

func (s *MemStore) snapshot(ids []string) []Entry {
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.entries[id])
	}
	return out
}
