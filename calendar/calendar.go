// Package calendar abstracts the scheduling backend used to offer and
// book diagnostic-assessment slots.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors surfaced by Calendar implementations.
var (
	// ErrSlotTaken means the slot was booked by someone else between
	// listing and booking. The caller should re-list and offer again.
	ErrSlotTaken = errors.New("slot no longer available")

	// ErrCalendarUnavailable means the backend could not be reached.
	ErrCalendarUnavailable = errors.New("calendar backend unavailable")
)

// Slot is one bookable interval.
type Slot struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Attendee identifies who the booking is for.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Booking is a confirmed appointment.
type Booking struct {
	ConfirmationID string    `json:"confirmation_id"`
	Slot           Slot      `json:"slot"`
	CreatedAt      time.Time `json:"created_at"`
}

// Calendar lists availability and books appointments.
type Calendar interface {
	// ListFreeSlots returns open slots between from and to, earliest first.
	ListFreeSlots(ctx context.Context, from, to time.Time) ([]Slot, error)

	// BookSlot books the slot for the attendee. idempotencyKey dedupes
	// retried bookings on the backend side.
	BookSlot(ctx context.Context, slotID string, attendee Attendee, idempotencyKey string) (Booking, error)
}

// NullCalendar has no availability. Used when scheduling is not configured;
// the scheduling stage then routes to human follow-up.
type NullCalendar struct{}

// ListFreeSlots implements Calendar.
func (NullCalendar) ListFreeSlots(context.Context, time.Time, time.Time) ([]Slot, error) {
	return nil, nil
}

// BookSlot implements Calendar.
func (NullCalendar) BookSlot(context.Context, string, Attendee, string) (Booking, error) {
	return Booking{}, ErrCalendarUnavailable
}

// HTTPCalendar talks to a JSON scheduling service.
type HTTPCalendar struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPCalendar creates a client for the scheduling service at baseURL.
func NewHTTPCalendar(baseURL, apiKey string) *HTTPCalendar {
	return &HTTPCalendar{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// ListFreeSlots implements Calendar.
func (c *HTTPCalendar) ListFreeSlots(ctx context.Context, from, to time.Time) ([]Slot, error) {
	url := fmt.Sprintf("%s/slots?from=%s&to=%s", c.baseURL,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCalendarUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrCalendarUnavailable, resp.StatusCode)
	}

	var decoded struct {
		Slots []Slot `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrCalendarUnavailable, err)
	}
	return decoded.Slots, nil
}

// BookSlot implements Calendar.
func (c *HTTPCalendar) BookSlot(ctx context.Context, slotID string, attendee Attendee, idempotencyKey string) (Booking, error) {
	body, err := json.Marshal(struct {
		SlotID   string   `json:"slot_id"`
		Attendee Attendee `json:"attendee"`
	}{SlotID: slotID, Attendee: attendee})
	if err != nil {
		return Booking{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return Booking{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Booking{}, fmt.Errorf("%w: %v", ErrCalendarUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		return Booking{}, ErrSlotTaken
	default:
		return Booking{}, fmt.Errorf("%w: status %d", ErrCalendarUnavailable, resp.StatusCode)
	}

	var booking Booking
	if err := json.NewDecoder(resp.Body).Decode(&booking); err != nil {
		return Booking{}, fmt.Errorf("%w: decode: %v", ErrCalendarUnavailable, err)
	}
	return booking, nil
}

func (c *HTTPCalendar) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
