package llm

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned when a request's estimated cost would push
// daily spend over the ceiling.
var ErrBudgetExceeded = errors.New("daily llm budget exceeded")

// Budget enforces a daily spending ceiling in BRL. Reservations hold the
// estimated cost of in-flight calls; Commit settles a reservation to the
// actual cost. The ledger resets at local midnight.
type Budget struct {
	ceiling float64
	loc     *time.Location
	now     func() time.Time

	mu       sync.Mutex
	day      string
	spent    float64
	reserved float64
}

// NewBudget creates a budget with the given daily ceiling. A zero or
// negative ceiling disables enforcement.
func NewBudget(ceilingBRL float64, loc *time.Location) *Budget {
	if loc == nil {
		loc = time.UTC
	}
	return &Budget{ceiling: ceilingBRL, loc: loc, now: time.Now}
}

// Reservation is a held estimate that must be settled with Commit or
// released with Cancel.
type Reservation struct {
	budget *Budget
	amount float64
	day    string
	done   bool
}

func (b *Budget) currentDay() string {
	return b.now().In(b.loc).Format("2006-01-02")
}

// rollover must be called with the lock held.
func (b *Budget) rollover() {
	day := b.currentDay()
	if day != b.day {
		b.day = day
		b.spent = 0
		b.reserved = 0
	}
}

// Reserve holds estimate BRL against today's ledger.
func (b *Budget) Reserve(estimate float64) (*Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	if b.ceiling > 0 && b.spent+b.reserved+estimate > b.ceiling {
		return nil, fmt.Errorf("%w: spent %.4f + reserved %.4f + estimate %.4f > ceiling %.2f",
			ErrBudgetExceeded, b.spent, b.reserved, estimate, b.ceiling)
	}
	b.reserved += estimate
	return &Reservation{budget: b, amount: estimate, day: b.day}, nil
}

// Commit settles the reservation to the actual cost.
func (r *Reservation) Commit(actual float64) {
	b := r.budget
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	b.rollover()
	// A reservation from a previous day has already been zeroed by the
	// rollover; only settle same-day holds.
	if r.day == b.day {
		b.reserved -= r.amount
		if b.reserved < 0 {
			b.reserved = 0
		}
		b.spent += actual
	}
}

// Cancel releases the hold without spending.
func (r *Reservation) Cancel() { r.Commit(0) }

// SpentToday returns today's settled spend in BRL.
func (b *Budget) SpentToday() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.spent
}
