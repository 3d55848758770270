// Package conv defines the canonical per-conversation state model and the
// durable checkpoint store that permits crash recovery and replay.
//
// A Conversation is the only shared mutable state in the system. All
// mutations go through Store.Mutate, which enforces the model invariants,
// bumps the version, and writes a checkpoint before any externally visible
// side effect proceeds.
package conv

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is bumped whenever the serialized Conversation layout
// changes in a way that needs migration.
const SchemaVersion = 1

// decisionTrailCap bounds the audit ring of recent routing decisions.
const decisionTrailCap = 16

// Stage is the coarse location in the conversation state machine.
type Stage string

// Conversation stages. Completed and Handoff are terminal.
const (
	StageGreeting      Stage = "greeting"
	StageQualification Stage = "qualification"
	StageInformation   Stage = "information"
	StageScheduling    Stage = "scheduling"
	StageConfirmation  Stage = "confirmation"
	StageValidation    Stage = "validation"
	StageCompleted     Stage = "completed"
	StageHandoff       Stage = "handoff"
	StageFallback      Stage = "fallback"
)

// Terminal reports whether the stage accepts no further workflow advances.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageHandoff
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageGreeting, StageQualification, StageInformation, StageScheduling,
		StageConfirmation, StageValidation, StageCompleted, StageHandoff, StageFallback:
		return true
	}
	return false
}

// Step is the fine-grained location within a stage.
type Step string

// Stage-specific steps.
const (
	StepWelcome           Step = "WELCOME"
	StepCollectParentName Step = "COLLECT_PARENT_NAME"
	StepIdentifyStudent   Step = "IDENTIFY_STUDENT"
	StepCollectChildName  Step = "COLLECT_CHILD_NAME"
	StepCollectChildAge   Step = "COLLECT_CHILD_AGE"
	StepAnswerQuestions   Step = "ANSWER_QUESTIONS"
	StepOfferSlots        Step = "OFFER_SLOTS"
	StepCollectEmail      Step = "COLLECT_EMAIL"
	StepConfirmBooking    Step = "CONFIRM_BOOKING"
	StepClarify           Step = "CLARIFY"
	StepMenu              Step = "MENU"
	StepEscalated         Step = "ESCALATED"
	StepDone              Step = "DONE"
)

// Role identifies a message sender.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the append-only conversation transcript.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	TS        time.Time `json:"ts"`
	MessageID string    `json:"message_id"`
}

// Slot is an agreed appointment interval, recorded once the user selects
// one of the offered scheduling options.
type Slot struct {
	SlotID         string    `json:"slot_id,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	ConfirmationID string    `json:"confirmation_id,omitempty"`
}

// CollectedData is the sparse mapping of business-domain facts captured
// during qualification and scheduling.
type CollectedData struct {
	ParentName         string   `json:"parent_name,omitempty"`
	ParentGender       string   `json:"parent_gender,omitempty"`
	SelfStudent        bool     `json:"self_student,omitempty"`
	ChildName          string   `json:"child_name,omitempty"`
	ChildAge           int      `json:"child_age,omitempty"`
	EducationLevel     string   `json:"education_level,omitempty"`
	ProgramsOfInterest []string `json:"programs_of_interest,omitempty"`
	ContactEmail       string   `json:"contact_email,omitempty"`
	DatePreferences    []string `json:"date_preferences,omitempty"`

	// OfferedSlots are the options presented in the last scheduling turn,
	// kept so a later "option 2" reply resolves deterministically.
	OfferedSlots []Slot `json:"offered_slots,omitempty"`

	// PendingSlot is the user's pick before the contact email arrives.
	// It graduates to SelectedSlot only together with the email, keeping
	// the slot-requires-email invariant intact.
	PendingSlot  *Slot `json:"pending_slot,omitempty"`
	SelectedSlot *Slot `json:"selected_slot,omitempty"`
}

// Metrics are the per-conversation counters driving escalation thresholds.
type Metrics struct {
	MessageCount         int       `json:"message_count"`
	FailedAttempts       int       `json:"failed_attempts"`
	ConsecutiveConfusion int       `json:"consecutive_confusion"`
	SameQuestionCount    int       `json:"same_question_count"`
	CreatedAt            time.Time `json:"created_at"`
	LastActivity         time.Time `json:"last_activity"`
}

// Validation is the most recent validator verdict recorded on the state.
type Validation struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// Decision is one audit record in the bounded routing trail.
type Decision struct {
	TurnID     string    `json:"turn_id"`
	Node       string    `json:"node"`
	Edge       string    `json:"edge,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

// Conversation is the canonical state for one chat identity.
//
// Exactly one Stage/Step pair holds at rest. Messages are append-only and
// deduplicated by MessageID. Version increases monotonically on every
// committed mutation; concurrent writers lose with ErrStaleVersion.
type Conversation struct {
	ID       string `json:"id"`
	PeerID   string `json:"peer_id"`
	Instance string `json:"instance"`

	Stage Stage `json:"stage"`
	Step  Step  `json:"step"`

	Messages      []Message     `json:"messages"`
	Collected     CollectedData `json:"collected_data"`
	Metrics       Metrics       `json:"metrics"`
	Validation    Validation    `json:"validation"`
	DecisionTrail []Decision    `json:"decision_trail,omitempty"`

	// PendingDeletion marks an LGPD data-deletion request. While set, the
	// engine refuses further interaction on this conversation.
	PendingDeletion bool `json:"pending_deletion,omitempty"`

	// ClosingSent records that the single allowed closing message of a
	// terminal stage has been emitted.
	ClosingSent bool `json:"closing_sent,omitempty"`

	Version       int64 `json:"version"`
	SchemaVersion int   `json:"schema_version"`
}

// New creates a fresh conversation at the greeting stage.
func New(id, peerID, instance string, now time.Time) Conversation {
	return Conversation{
		ID:            id,
		PeerID:        peerID,
		Instance:      instance,
		Stage:         StageGreeting,
		Step:          StepWelcome,
		Messages:      []Message{},
		Metrics:       Metrics{CreatedAt: now, LastActivity: now},
		SchemaVersion: SchemaVersion,
	}
}

// Clone returns an independent deep copy via JSON round-trip.
// The Conversation type is designed to survive this losslessly; the
// serialization round-trip law in the tests keeps it honest.
func (c Conversation) Clone() (Conversation, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to marshal conversation: %w", err)
	}
	var copied Conversation
	if err := json.Unmarshal(data, &copied); err != nil {
		return Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return copied, nil
}

// AppendMessage appends msg to the transcript, enforcing MessageID
// uniqueness and the terminal-stage closing rule, and keeps
// Metrics.MessageCount consistent with len(Messages).
func (c *Conversation) AppendMessage(msg Message) error {
	if msg.MessageID == "" {
		return &InvariantViolation{Which: "message_id_empty"}
	}
	for _, existing := range c.Messages {
		if existing.MessageID == msg.MessageID {
			return &InvariantViolation{Which: "duplicate_message_id"}
		}
	}
	if msg.Role == RoleAssistant && c.Stage.Terminal() && c.ClosingSent {
		return &InvariantViolation{Which: "terminal_stage_closed"}
	}
	c.Messages = append(c.Messages, msg)
	c.Metrics.MessageCount = len(c.Messages)
	if msg.TS.After(c.Metrics.LastActivity) {
		c.Metrics.LastActivity = msg.TS
	}
	return nil
}

// PushDecision appends a routing decision to the bounded audit ring.
func (c *Conversation) PushDecision(d Decision) {
	c.DecisionTrail = append(c.DecisionTrail, d)
	if len(c.DecisionTrail) > decisionTrailCap {
		c.DecisionTrail = c.DecisionTrail[len(c.DecisionTrail)-decisionTrailCap:]
	}
}

// RecordCapture resets the failure counters after a successful user-data
// capture, per the state-model invariants.
func (c *Conversation) RecordCapture() {
	c.Metrics.FailedAttempts = 0
	c.Metrics.ConsecutiveConfusion = 0
}

// HasMessage reports whether a message with the given ID is already in the
// transcript. Used for inbound idempotency re-checks.
func (c *Conversation) HasMessage(messageID string) bool {
	for _, msg := range c.Messages {
		if msg.MessageID == messageID {
			return true
		}
	}
	return false
}

// CheckInvariants validates the at-rest invariants of the state model.
func (c *Conversation) CheckInvariants() error {
	if !c.Stage.Valid() {
		return &InvariantViolation{Which: "unknown_stage"}
	}
	if c.Metrics.MessageCount != len(c.Messages) {
		return &InvariantViolation{Which: "message_count_mismatch"}
	}
	if c.Collected.SelectedSlot != nil && c.Collected.ContactEmail == "" {
		return &InvariantViolation{Which: "slot_without_email"}
	}
	seen := make(map[string]struct{}, len(c.Messages))
	for _, msg := range c.Messages {
		if _, dup := seen[msg.MessageID]; dup {
			return &InvariantViolation{Which: "duplicate_message_id"}
		}
		seen[msg.MessageID] = struct{}{}
	}
	return nil
}

// InvariantViolation reports a broken state-model invariant.
type InvariantViolation struct {
	Which string
}

func (e *InvariantViolation) Error() string {
	return "conversation invariant violated: " + e.Which
}
