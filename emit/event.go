// Package emit provides structured observability events for the receptionist.
//
// Every turn through the conversation engine emits events describing node
// execution, routing decisions, validator verdicts, and outbox outcomes.
// Events are delivered to an Emitter, which can log them, forward them to
// OpenTelemetry, or discard them.
package emit

// Event is a single observability record correlated to a conversation turn.
type Event struct {
	// ConversationID identifies the conversation this event belongs to.
	ConversationID string

	// TurnID identifies the inbound turn being processed.
	// Empty for events not tied to a specific turn (startup, pruning).
	TurnID string

	// Stage is the conversation stage at the time of the event.
	Stage string

	// Node identifies which workflow node emitted this event.
	// Empty for turn-level events.
	Node string

	// Msg is a short machine-oriented event name, e.g. "node_end",
	// "turn_dropped", "outbox_delivered", "validator_verdict".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "duration_ms": execution duration
	//   - "error": error details
	//   - "intent", "confidence": classifier output
	//   - "tokens", "cost_brl": LLM usage
	//   - "stage_from", "stage_to": transitions
	Meta map[string]interface{}
}
