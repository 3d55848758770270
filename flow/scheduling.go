package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
	"github.com/dmaraujo/recepcionista/template"
)

const (
	slotLookahead = 7 * 24 * time.Hour
	maxOffered    = 3
)

var (
	slotOrdinal  = regexp.MustCompile(`(?i)^\s*(?:op(?:ç|c)(?:ã|a)o\s*)?([1-3])\b`)
	slotSpelled  = regexp.MustCompile(`(?i)\b(primeir|segund|terceir)`)
	emailAddress = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// schedulingNode offers evaluation slots, records the pick, and collects
// the contact email before the booking is confirmed.
func schedulingNode(svc *Services) Node {
	return NodeFunc{NodeName: "scheduling", Fn: func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
		if isInfoIntent(tc.Intent.Label) {
			return answerInformation(ctx, svc, c, tc)
		}

		switch {
		case c.Step == conv.StepCollectEmail:
			return collectEmail(ctx, svc, c, tc)
		case tc.Intent.Label == intent.SlotSelection && len(c.Collected.OfferedSlots) > 0:
			return selectSlot(ctx, svc, c, tc)
		case tc.Intent.Label == intent.SchedulingRequest, len(c.Collected.OfferedSlots) == 0:
			return offerSlots(ctx, svc, c, tc)
		}
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:scheduling:message:default", c, tc.Now, nil))},
		}
	}}
}

// offerSlots lists the next week's availability, keeps only slots inside
// the business-hour windows, and presents up to three numbered options.
func offerSlots(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	free, err := svc.Calendar.ListFreeSlots(ctx, tc.Now, tc.Now.Add(slotLookahead))
	if err != nil {
		svc.Logger.Warn("slot listing failed", "conversation_id", c.ID, "error", err)
		return scheduleHandoff(ctx, svc, c, tc)
	}

	var offered []conv.Slot
	var lines []string
	for _, slot := range free {
		if !svc.Rules.SlotAllowed(slot.Start, slot.End) {
			continue
		}
		offered = append(offered, conv.Slot{SlotID: slot.ID, Start: slot.Start, End: slot.End})
		lines = append(lines, fmt.Sprintf("%d) %s", len(offered), template.FormatSlot(slot.Start)))
		if len(offered) == maxOffered {
			break
		}
	}
	if len(offered) == 0 {
		return scheduleHandoff(ctx, svc, c, tc)
	}

	return NodeResult{
		Delta: Delta{
			Stage:        conv.StageScheduling,
			Step:         conv.StepOfferSlots,
			OfferedSlots: offered,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:scheduling:message:offer_slots", c, tc.Now,
			map[string]string{"slots": strings.Join(lines, "\n")}))},
	}
}

// scheduleHandoff is the no-availability path: apologize and escalate so
// the unit staff can arrange a time manually.
func scheduleHandoff(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	return NodeResult{
		Delta: Delta{
			Stage:       conv.StageHandoff,
			Step:        conv.StepEscalated,
			ClosingSent: true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:scheduling:message:no_slots", c, tc.Now, nil))},
	}
}

func selectSlot(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	idx := parseSlotChoice(tc.Turn.NormalizedText)
	if idx < 0 || idx >= len(c.Collected.OfferedSlots) {
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:scheduling:message:default", c, tc.Now, nil))},
		}
	}
	picked := c.Collected.OfferedSlots[idx]

	// The pick only becomes the selected slot once the email arrives.
	if c.Collected.ContactEmail != "" {
		after := c
		after.Collected.SelectedSlot = &picked
		return NodeResult{
			Delta: Delta{
				Stage:        conv.StageConfirmation,
				Step:         conv.StepConfirmBooking,
				SelectedSlot: &picked,
				ClearPending: true,
				CaptureMade:  true,
			},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:confirmation:message:confirm", after, tc.Now, nil))},
		}
	}
	return NodeResult{
		Delta: Delta{
			Step:        conv.StepCollectEmail,
			PendingSlot: &picked,
			CaptureMade: true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:scheduling:message:ask_email", c, tc.Now, nil))},
	}
}

func collectEmail(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	email := emailAddress.FindString(tc.Turn.NormalizedText)
	if email == "" {
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:scheduling:message:ask_email", c, tc.Now, nil))},
		}
	}
	if c.Collected.PendingSlot == nil {
		// Email arrived with nothing picked yet; store it and restart the offer.
		result := offerSlots(ctx, svc, c, tc)
		result.Delta.ContactEmail = strings.ToLower(email)
		return result
	}

	selected := *c.Collected.PendingSlot
	after := c
	after.Collected.ContactEmail = strings.ToLower(email)
	after.Collected.SelectedSlot = &selected
	return NodeResult{
		Delta: Delta{
			Stage:        conv.StageConfirmation,
			Step:         conv.StepConfirmBooking,
			ContactEmail: strings.ToLower(email),
			SelectedSlot: &selected,
			ClearPending: true,
			CaptureMade:  true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:confirmation:message:confirm", after, tc.Now, nil))},
	}
}

func parseSlotChoice(text string) int {
	if m := slotOrdinal.FindStringSubmatch(text); m != nil {
		return int(m[1][0]-'0') - 1
	}
	if m := slotSpelled.FindStringSubmatch(strings.ToLower(text)); m != nil {
		switch m[1] {
		case "primeir":
			return 0
		case "segund":
			return 1
		case "terceir":
			return 2
		}
	}
	return -1
}
