package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFakeCalendar_BookIdempotent(t *testing.T) {
	ctx := context.Background()
	slot := Slot{ID: "s1", Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	fake := NewFakeCalendar(slot)

	first, err := fake.BookSlot(ctx, "s1", Attendee{Name: "Maria", Email: "maria@example.com"}, "key-1")
	if err != nil {
		t.Fatalf("BookSlot: %v", err)
	}

	// Same key returns the same booking instead of a conflict.
	again, err := fake.BookSlot(ctx, "s1", Attendee{Name: "Maria", Email: "maria@example.com"}, "key-1")
	if err != nil || again.ConfirmationID != first.ConfirmationID {
		t.Errorf("idempotent rebook: %+v %v", again, err)
	}

	// A different caller gets the conflict.
	_, err = fake.BookSlot(ctx, "s1", Attendee{Name: "João"}, "key-2")
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("err = %v, want ErrSlotTaken", err)
	}
}

func TestFakeCalendar_ListExcludesBooked(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	fake := NewFakeCalendar(
		Slot{ID: "s2", Start: from.Add(14 * time.Hour), End: from.Add(15 * time.Hour)},
		Slot{ID: "s1", Start: from.Add(9 * time.Hour), End: from.Add(10 * time.Hour)},
	)

	_, _ = fake.BookSlot(ctx, "s1", Attendee{Name: "Maria"}, "k")
	open, err := fake.ListFreeSlots(ctx, from, to)
	if err != nil {
		t.Fatalf("ListFreeSlots: %v", err)
	}
	if len(open) != 1 || open[0].ID != "s2" {
		t.Errorf("open = %+v", open)
	}
}

func TestHTTPCalendar_ListAndBook(t *testing.T) {
	slot := Slot{ID: "s1", Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/slots":
			_ = json.NewEncoder(w).Encode(map[string][]Slot{"slots": {slot}})
		case r.Method == http.MethodPost && r.URL.Path == "/bookings":
			if r.Header.Get("Idempotency-Key") == "" {
				t.Error("booking without idempotency key")
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Booking{ConfirmationID: "conf-9", Slot: slot, CreatedAt: time.Now().UTC()})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	cal := NewHTTPCalendar(server.URL, "secret")
	slots, err := cal.ListFreeSlots(context.Background(), slot.Start.Add(-time.Hour), slot.End.Add(time.Hour))
	if err != nil || len(slots) != 1 {
		t.Fatalf("ListFreeSlots: %v %v", slots, err)
	}

	booking, err := cal.BookSlot(context.Background(), "s1", Attendee{Name: "Maria", Email: "maria@example.com"}, "key-1")
	if err != nil || booking.ConfirmationID != "conf-9" {
		t.Fatalf("BookSlot: %+v %v", booking, err)
	}
}

func TestHTTPCalendar_ConflictMapsToSlotTaken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	cal := NewHTTPCalendar(server.URL, "")
	_, err := cal.BookSlot(context.Background(), "s1", Attendee{}, "k")
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("err = %v, want ErrSlotTaken", err)
	}
}

func TestHTTPCalendar_DownMapsToUnavailable(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close()

	cal := NewHTTPCalendar(server.URL, "")
	_, err := cal.ListFreeSlots(context.Background(), time.Now(), time.Now().Add(time.Hour))
	if !errors.Is(err, ErrCalendarUnavailable) {
		t.Errorf("err = %v, want ErrCalendarUnavailable", err)
	}
}
