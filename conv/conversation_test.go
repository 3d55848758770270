package conv

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func testConversation() Conversation {
	c := New("c-1", "5551999999999@s.whatsapp.net", "inst-a", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	return c
}

func TestAppendMessage_CountMatchesLen(t *testing.T) {
	c := testConversation()

	for i, id := range []string{"MSG1", "MSG2", "MSG3"} {
		err := c.AppendMessage(Message{Role: RoleUser, Text: "oi", TS: time.Now(), MessageID: id})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if c.Metrics.MessageCount != len(c.Messages) {
		t.Errorf("message_count = %d, len(messages) = %d", c.Metrics.MessageCount, len(c.Messages))
	}
	if err := c.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestAppendMessage_RejectsDuplicateID(t *testing.T) {
	c := testConversation()
	_ = c.AppendMessage(Message{Role: RoleUser, Text: "oi", TS: time.Now(), MessageID: "MSG1"})

	err := c.AppendMessage(Message{Role: RoleUser, Text: "oi de novo", TS: time.Now(), MessageID: "MSG1"})
	var violation *InvariantViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
	if violation.Which != "duplicate_message_id" {
		t.Errorf("which = %q", violation.Which)
	}
}

func TestAppendMessage_TerminalStageAllowsSingleClosing(t *testing.T) {
	c := testConversation()
	c.Stage = StageHandoff
	c.Step = StepEscalated

	if err := c.AppendMessage(Message{Role: RoleAssistant, Text: "encaminhando", TS: time.Now(), MessageID: "A1"}); err != nil {
		t.Fatalf("closing message should be allowed: %v", err)
	}
	c.ClosingSent = true

	err := c.AppendMessage(Message{Role: RoleAssistant, Text: "mais uma", TS: time.Now(), MessageID: "A2"})
	if err == nil {
		t.Fatal("second assistant emission after closing should be rejected")
	}

	// User messages still append after handoff.
	if err := c.AppendMessage(Message{Role: RoleUser, Text: "ok", TS: time.Now(), MessageID: "U1"}); err != nil {
		t.Errorf("user message should still append: %v", err)
	}
}

func TestCheckInvariants_SlotRequiresEmail(t *testing.T) {
	c := testConversation()
	c.Collected.SelectedSlot = &Slot{Start: time.Now(), End: time.Now().Add(time.Hour)}

	err := c.CheckInvariants()
	var violation *InvariantViolation
	if !errors.As(err, &violation) || violation.Which != "slot_without_email" {
		t.Fatalf("expected slot_without_email violation, got %v", err)
	}

	c.Collected.ContactEmail = "maria@example.com"
	if err := c.CheckInvariants(); err != nil {
		t.Errorf("invariants with email: %v", err)
	}
}

func TestRecordCapture_ResetsCounters(t *testing.T) {
	c := testConversation()
	c.Metrics.FailedAttempts = 4
	c.Metrics.ConsecutiveConfusion = 2

	c.RecordCapture()

	if c.Metrics.FailedAttempts != 0 || c.Metrics.ConsecutiveConfusion != 0 {
		t.Errorf("counters not reset: %+v", c.Metrics)
	}
}

func TestPushDecision_Bounded(t *testing.T) {
	c := testConversation()
	for i := 0; i < decisionTrailCap+10; i++ {
		c.PushDecision(Decision{TurnID: "t", Node: "greeting", At: time.Now()})
	}
	if len(c.DecisionTrail) != decisionTrailCap {
		t.Errorf("trail len = %d, want %d", len(c.DecisionTrail), decisionTrailCap)
	}
}

func TestConversation_SerializationRoundTrip(t *testing.T) {
	c := testConversation()
	_ = c.AppendMessage(Message{Role: RoleUser, Text: "Oi", TS: time.Date(2026, 3, 2, 9, 1, 0, 0, time.UTC), MessageID: "MSG1"})
	_ = c.AppendMessage(Message{Role: RoleAssistant, Text: "Olá!", TS: time.Date(2026, 3, 2, 9, 1, 5, 0, time.UTC), MessageID: "A1"})
	c.Collected.ParentName = "Maria"
	c.Collected.ProgramsOfInterest = []string{"matemática"}
	c.PushDecision(Decision{TurnID: "MSG1", Node: "greeting", Intent: "greeting", Confidence: 0.95, At: time.Date(2026, 3, 2, 9, 1, 5, 0, time.UTC)})
	c.Version = 7

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Conversation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(c, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, c)
	}
}

func TestClone_Independent(t *testing.T) {
	c := testConversation()
	_ = c.AppendMessage(Message{Role: RoleUser, Text: "Oi", TS: time.Now().UTC(), MessageID: "MSG1"})

	clone, err := c.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	clone.Messages[0].Text = "mutated"
	clone.Collected.ParentName = "X"

	if c.Messages[0].Text != "Oi" || c.Collected.ParentName != "" {
		t.Error("clone shares memory with original")
	}
}
