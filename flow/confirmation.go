package flow

import (
	"context"
	"errors"

	"github.com/dmaraujo/recepcionista/calendar"
	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
)

// confirmationNode books the selected slot once the user confirms, or
// returns to scheduling when they back out.
func confirmationNode(svc *Services) Node {
	return NodeFunc{NodeName: "confirmation", Fn: func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
		switch tc.Intent.Label {
		case intent.ConfirmationYes:
			return bookSelected(ctx, svc, c, tc)
		case intent.ConfirmationNo, intent.SchedulingRequest:
			return offerSlots(ctx, svc, c, tc)
		}
		if isInfoIntent(tc.Intent.Label) {
			return answerInformation(ctx, svc, c, tc)
		}
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:confirmation:message:default", c, tc.Now, nil))},
		}
	}}
}

func bookSelected(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	slot := c.Collected.SelectedSlot
	if slot == nil || c.Collected.ContactEmail == "" {
		return offerSlots(ctx, svc, c, tc)
	}
	attendee := calendar.Attendee{
		Name:  c.Collected.ParentName,
		Email: c.Collected.ContactEmail,
		Phone: c.PeerID,
	}
	// The booking key is stable per turn so a retried turn cannot create
	// a second appointment.
	key := c.ID + ":" + tc.Turn.MessageID

	booking, err := svc.Calendar.BookSlot(ctx, slot.SlotID, attendee, key)
	if errors.Is(err, calendar.ErrSlotTaken) {
		svc.Logger.Info("slot taken, reoffering", "conversation_id", c.ID, "slot_id", slot.SlotID)
		result := offerSlots(ctx, svc, c, tc)
		result.Delta.ClearPending = true
		return result
	}
	if err != nil {
		// One retry covers transient backend blips; a second failure
		// escalates so the staff can finish the booking by hand.
		booking, err = svc.Calendar.BookSlot(ctx, slot.SlotID, attendee, key)
		if err != nil {
			svc.Logger.Error("booking failed", "conversation_id", c.ID, "error", err)
			return NodeResult{
				Delta: Delta{
					Stage:       conv.StageHandoff,
					Step:        conv.StepEscalated,
					ClosingSent: true,
				},
				Emissions: []Emission{textEmission(svc.render(ctx, "kumon:handoff:message:closing", c, tc.Now, nil))},
			}
		}
	}

	confirmed := *slot
	confirmed.ConfirmationID = booking.ConfirmationID
	after := c
	after.Collected.SelectedSlot = &confirmed
	return NodeResult{
		Delta: Delta{
			Stage:        conv.StageCompleted,
			Step:         conv.StepDone,
			SelectedSlot: &confirmed,
			ClearPending: true,
			CaptureMade:  true,
			ClosingSent:  true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:confirmation:message:booked", after, tc.Now, nil))},
	}
}
