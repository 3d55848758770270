package flow

import "github.com/dmaraujo/recepcionista/conv"

// Delta is the declarative state change a node proposes for one turn.
// The engine applies it inside a single Mutate so the stage transition,
// captured data, and assistant messages commit atomically.
type Delta struct {
	Stage conv.Stage // zero value means unchanged
	Step  conv.Step  // zero value means unchanged

	ParentName     string
	ParentGender   string
	SelfStudent    *bool
	ChildName      string
	ChildAge       int
	EducationLevel string
	AddPrograms    []string
	ContactEmail   string

	OfferedSlots []conv.Slot
	PendingSlot  *conv.Slot
	SelectedSlot *conv.Slot
	ClearPending bool

	// CaptureMade resets the failure counters; FailedAttempt and
	// Confused increment them. A delta sets at most one side.
	CaptureMade   bool
	FailedAttempt bool
	Confused      bool

	PendingDeletion bool
	ClosingSent     bool
}

// ApplyDelta folds a delta into the conversation. Only set fields move;
// the reducer never clears captured data except through ClearPending.
func ApplyDelta(c *conv.Conversation, d Delta) {
	if d.Stage != "" {
		c.Stage = d.Stage
	}
	if d.Step != "" {
		c.Step = d.Step
	}

	if d.ParentName != "" {
		c.Collected.ParentName = d.ParentName
	}
	if d.ParentGender != "" {
		c.Collected.ParentGender = d.ParentGender
	}
	if d.SelfStudent != nil {
		c.Collected.SelfStudent = *d.SelfStudent
	}
	if d.ChildName != "" {
		c.Collected.ChildName = d.ChildName
	}
	if d.ChildAge > 0 {
		c.Collected.ChildAge = d.ChildAge
	}
	if d.EducationLevel != "" {
		c.Collected.EducationLevel = d.EducationLevel
	}
	for _, program := range d.AddPrograms {
		if !containsString(c.Collected.ProgramsOfInterest, program) {
			c.Collected.ProgramsOfInterest = append(c.Collected.ProgramsOfInterest, program)
		}
	}
	if d.ContactEmail != "" {
		c.Collected.ContactEmail = d.ContactEmail
	}

	// Clearing runs first so a reoffer can clear the stale pick and set
	// fresh options in the same delta.
	if d.ClearPending {
		c.Collected.PendingSlot = nil
		c.Collected.OfferedSlots = nil
	}
	if len(d.OfferedSlots) > 0 {
		c.Collected.OfferedSlots = d.OfferedSlots
	}
	if d.PendingSlot != nil {
		c.Collected.PendingSlot = d.PendingSlot
	}
	if d.SelectedSlot != nil {
		c.Collected.SelectedSlot = d.SelectedSlot
	}

	if d.CaptureMade {
		c.RecordCapture()
	}
	if d.FailedAttempt {
		c.Metrics.FailedAttempts++
	}
	if d.Confused {
		c.Metrics.ConsecutiveConfusion++
	} else if !d.FailedAttempt && !d.CaptureMade {
		// Any coherent advance breaks a confusion streak.
		if d.Stage != "" || d.Step != "" {
			c.Metrics.ConsecutiveConfusion = 0
		}
	}

	if d.PendingDeletion {
		c.PendingDeletion = true
	}
	if d.ClosingSent {
		c.ClosingSent = true
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
