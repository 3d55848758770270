package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_TextMode(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		ConversationID: "c-1",
		TurnID:         "MSG1",
		Stage:          "greeting",
		Node:           "greeting",
		Msg:            "node_end",
	})

	out := buf.String()
	if !strings.HasPrefix(out, "[node_end]") {
		t.Errorf("expected [node_end] prefix, got %q", out)
	}
	if !strings.Contains(out, "conv=c-1") || !strings.Contains(out, "turn=MSG1") {
		t.Errorf("missing correlation fields: %q", out)
	}
}

func TestLogEmitter_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		ConversationID: "c-2",
		TurnID:         "MSG2",
		Msg:            "turn_dropped",
		Meta:           map[string]interface{}{"reason": "rate_limited"},
	})

	var decoded struct {
		ConversationID string                 `json:"conversation_id"`
		TurnID         string                 `json:"turn_id"`
		Msg            string                 `json:"msg"`
		Meta           map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%q)", err, buf.String())
	}
	if decoded.ConversationID != "c-2" || decoded.Msg != "turn_dropped" {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
	if decoded.Meta["reason"] != "rate_limited" {
		t.Errorf("expected meta reason, got %v", decoded.Meta)
	}
}

func TestNullEmitter_Discards(t *testing.T) {
	emitter := NewNullEmitter()
	// Must not panic on arbitrary events.
	emitter.Emit(Event{Msg: "anything"})
	emitter.Emit(Event{})
}
