package flow

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/metrics"
)

func TestMailboxes_ProcessesTurnsInOrder(t *testing.T) {
	f := newFixture(t)
	boxes := NewMailboxes(f.engine, metrics.NewMetrics(prometheus.NewRegistry()),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, text := range []string{"Olá", "Meu nome é Maria", "É para minha filha"} {
		if err := boxes.Enqueue(f.turn(text)); err != nil {
			t.Fatalf("Enqueue(%q): %v", text, err)
		}
	}
	boxes.Stop()

	c, err := f.store.Load(context.Background(), "c-test")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Stage != conv.StageQualification || c.Step != conv.StepCollectChildName {
		t.Fatalf("stage=%s step=%s", c.Stage, c.Step)
	}
	// The user messages must appear in arrival order.
	var userTexts []string
	for _, msg := range c.Messages {
		if msg.Role == conv.RoleUser {
			userTexts = append(userTexts, msg.Text)
		}
	}
	if len(userTexts) != 3 || userTexts[0] != "Olá" || userTexts[2] != "É para minha filha" {
		t.Errorf("user messages = %v", userTexts)
	}
}

func TestMailboxes_RejectsAfterStop(t *testing.T) {
	f := newFixture(t)
	boxes := NewMailboxes(f.engine, metrics.NewMetrics(prometheus.NewRegistry()), nil)
	boxes.Stop()
	if err := boxes.Enqueue(f.turn("Olá")); err == nil {
		t.Fatal("Enqueue after Stop succeeded")
	}
}
