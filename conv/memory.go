package conv

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store.
//
// Designed for tests and single-process development. Mutations are
// serialized with a per-conversation lock, so ErrStaleVersion cannot occur
// here; the SQL-backed stores surface it under real concurrency.
type MemStore struct {
	mu          sync.RWMutex
	convs       map[string]Conversation
	checkpoints map[string][]Checkpoint // conversationID -> newest last
	locks       map[string]*sync.Mutex
	now         func() time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		convs:       make(map[string]Conversation),
		checkpoints: make(map[string][]Checkpoint),
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

func (m *MemStore) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}

// Load implements Store.
func (m *MemStore) Load(_ context.Context, conversationID string) (Conversation, error) {
	m.mu.RLock()
	stored, ok := m.convs[conversationID]
	m.mu.RUnlock()
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return stored.Clone()
}

// LoadOrCreate implements Store.
func (m *MemStore) LoadOrCreate(ctx context.Context, conversationID, peerID, instance string) (Conversation, error) {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	stored, ok := m.convs[conversationID]
	m.mu.RUnlock()
	if ok {
		return stored.Clone()
	}

	created := New(conversationID, peerID, instance, m.now())
	m.mu.Lock()
	m.convs[conversationID] = created
	m.mu.Unlock()
	return created.Clone()
}

// Mutate implements Store.
func (m *MemStore) Mutate(ctx context.Context, conversationID, reason string, fn func(*Conversation) error) (Conversation, error) {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	stored, ok := m.convs[conversationID]
	m.mu.RUnlock()
	if !ok {
		return Conversation{}, ErrNotFound
	}

	working, err := stored.Clone()
	if err != nil {
		return Conversation{}, err
	}
	if err := fn(&working); err != nil {
		return Conversation{}, err
	}
	if err := working.CheckInvariants(); err != nil {
		return Conversation{}, err
	}
	working.Version = stored.Version + 1

	checkpoint, err := NewCheckpoint(working, uuid.NewString(), reason, m.now())
	if err != nil {
		return Conversation{}, err
	}

	m.mu.Lock()
	m.convs[conversationID] = working
	m.checkpoints[conversationID] = append(m.checkpoints[conversationID], checkpoint)
	m.mu.Unlock()

	return working.Clone()
}

// ListCheckpoints implements Store. Newest first.
func (m *MemStore) ListCheckpoints(_ context.Context, conversationID string, limit int) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.checkpoints[conversationID]
	out := make([]Checkpoint, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Restore implements Store.
func (m *MemStore) Restore(ctx context.Context, conversationID, checkpointID string) (Conversation, error) {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	var found *Checkpoint
	for i := range m.checkpoints[conversationID] {
		if m.checkpoints[conversationID][i].CheckpointID == checkpointID {
			found = &m.checkpoints[conversationID][i]
			break
		}
	}
	m.mu.RUnlock()
	if found == nil {
		return Conversation{}, ErrNotFound
	}

	restored, err := found.Restore()
	if err != nil {
		return Conversation{}, err
	}

	checkpoint, err := NewCheckpoint(restored, uuid.NewString(), "restore", m.now())
	if err != nil {
		return Conversation{}, err
	}

	m.mu.Lock()
	m.convs[conversationID] = restored
	m.checkpoints[conversationID] = append(m.checkpoints[conversationID], checkpoint)
	m.mu.Unlock()

	return restored.Clone()
}

// PruneCheckpoints implements Store.
func (m *MemStore) PruneCheckpoints(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id, list := range m.checkpoints {
		kept := list[:0]
		for _, cp := range list {
			if cp.CreatedAt.Before(cutoff) {
				pruned++
				continue
			}
			kept = append(kept, cp)
		}
		m.checkpoints[id] = kept
	}
	return pruned, nil
}
