package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeCalendar is an in-memory Calendar for tests and development. Slots
// are seeded explicitly; bookings are idempotent by key.
type FakeCalendar struct {
	mu       sync.Mutex
	slots    map[string]Slot
	booked   map[string]Booking // slotID -> booking
	byKey    map[string]Booking // idempotencyKey -> booking
	FailNext error              // next BookSlot returns this once
}

// NewFakeCalendar creates an empty fake.
func NewFakeCalendar(slots ...Slot) *FakeCalendar {
	f := &FakeCalendar{
		slots:  make(map[string]Slot),
		booked: make(map[string]Booking),
		byKey:  make(map[string]Booking),
	}
	for _, s := range slots {
		f.slots[s.ID] = s
	}
	return f
}

// AddSlot seeds an open slot.
func (f *FakeCalendar) AddSlot(s Slot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[s.ID] = s
}

// ListFreeSlots implements Calendar.
func (f *FakeCalendar) ListFreeSlots(_ context.Context, from, to time.Time) ([]Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Slot
	for id, s := range f.slots {
		if _, taken := f.booked[id]; taken {
			continue
		}
		if s.Start.Before(from) || s.End.After(to) {
			continue
		}
		out = append(out, s)
	}
	sortSlots(out)
	return out, nil
}

// BookSlot implements Calendar.
func (f *FakeCalendar) BookSlot(_ context.Context, slotID string, _ Attendee, idempotencyKey string) (Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return Booking{}, err
	}
	if existing, ok := f.byKey[idempotencyKey]; ok {
		return existing, nil
	}
	slot, ok := f.slots[slotID]
	if !ok {
		return Booking{}, ErrSlotTaken
	}
	if _, taken := f.booked[slotID]; taken {
		return Booking{}, ErrSlotTaken
	}

	booking := Booking{
		ConfirmationID: fmt.Sprintf("conf-%d", len(f.booked)+1),
		Slot:           slot,
		CreatedAt:      time.Now().UTC(),
	}
	f.booked[slotID] = booking
	if idempotencyKey != "" {
		f.byKey[idempotencyKey] = booking
	}
	return booking, nil
}

func sortSlots(slots []Slot) {
	for i := 1; i < len(slots); i++ {
		for j := i; j > 0 && slots[j].Start.Before(slots[j-1].Start); j-- {
			slots[j], slots[j-1] = slots[j-1], slots[j]
		}
	}
}
