package flow

import (
	"context"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
)

// fallbackLevel1 asks the user to rephrase and counts the confusion.
func fallbackLevel1(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	return NodeResult{
		Delta:     Delta{Confused: true},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:fallback:message:level1", c, tc.Now, nil))},
	}
}

// fallbackLevel2 offers the human handoff explicitly. The next confused
// turn crosses the escalation threshold.
func fallbackLevel2(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	return NodeResult{
		Delta:     Delta{Confused: true, Stage: conv.StageFallback, Step: conv.StepMenu},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:fallback:message:level2", c, tc.Now, nil))},
	}
}

// escalate moves the conversation to the terminal handoff stage with its
// single closing message.
func escalate(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	return NodeResult{
		Delta: Delta{
			Stage:       conv.StageHandoff,
			Step:        conv.StepEscalated,
			ClosingSent: true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:handoff:message:closing", c, tc.Now, nil))},
	}
}

// fallbackNode serves conversations already parked at the fallback stage:
// one more coherent turn resumes the flow, anything else escalates.
func fallbackNode(svc *Services) Node {
	return NodeFunc{NodeName: "fallback", Fn: func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
		if isInfoIntent(tc.Intent.Label) {
			result := answerInformation(ctx, svc, c, tc)
			result.Delta.Stage = conv.StageInformation
			if result.Delta.Step == "" {
				result.Delta.Step = conv.StepAnswerQuestions
			}
			return result
		}
		switch tc.Intent.Label {
		case intent.SchedulingRequest, intent.SlotSelection, intent.ConfirmationYes:
			return offerSlots(ctx, svc, c, tc)
		}
		return escalate(ctx, svc, c, tc)
	}}
}
