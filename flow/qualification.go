package flow

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
)

var (
	selfStudentPattern  = regexp.MustCompile(`(?i)\b(para mim|pra mim|sou eu|eu mesm[oa]|para eu)\b`)
	otherStudentPattern = regexp.MustCompile(`(?i)\b(meu filho|minha filha|meu neto|minha neta|para (o|a|meu|minha)|pro meu|pra minha|outra pessoa)\b`)
	ageDigitsPattern    = regexp.MustCompile(`\b(\d{1,2})\b`)
)

// qualificationNode walks the identify-student / child-name / child-age
// capture sequence, then hands the conversation to the information stage.
func qualificationNode(svc *Services) Node {
	return NodeFunc{NodeName: "qualification", Fn: func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
		// Questions asked mid-qualification still get answered; the
		// capture sequence resumes on the next turn.
		if isInfoIntent(tc.Intent.Label) {
			return answerInformation(ctx, svc, c, tc)
		}
		if tc.Intent.Label == intent.SchedulingRequest {
			return offerSlots(ctx, svc, c, tc)
		}

		switch c.Step {
		case conv.StepIdentifyStudent:
			return identifyStudent(ctx, svc, c, tc)
		case conv.StepCollectChildName:
			return collectChildName(ctx, svc, c, tc)
		case conv.StepCollectChildAge:
			return collectChildAge(ctx, svc, c, tc)
		}
		return NodeResult{
			Delta:     Delta{Step: conv.StepIdentifyStudent},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:ask_student", c, tc.Now, nil))},
		}
	}}
}

func identifyStudent(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	text := tc.Turn.NormalizedText
	switch {
	case selfStudentPattern.MatchString(text):
		yes := true
		return NodeResult{
			Delta: Delta{
				Stage:       conv.StageInformation,
				Step:        conv.StepAnswerQuestions,
				SelfStudent: &yes,
				CaptureMade: true,
			},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:information:message:default", c, tc.Now, nil))},
		}
	case otherStudentPattern.MatchString(text):
		no := false
		return NodeResult{
			Delta: Delta{
				Step:        conv.StepCollectChildName,
				SelfStudent: &no,
				CaptureMade: true,
			},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:ask_child_name", c, tc.Now, nil))},
		}
	}
	return NodeResult{
		Delta:     Delta{FailedAttempt: true},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:default", c, tc.Now, nil))},
	}
}

func collectChildName(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	name, _ := extractPersonName(tc.Turn.NormalizedText)
	if name == "" {
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:ask_child_name", c, tc.Now, nil))},
		}
	}
	after := c
	after.Collected.ChildName = name
	return NodeResult{
		Delta: Delta{
			Step:        conv.StepCollectChildAge,
			ChildName:   name,
			CaptureMade: true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:ask_child_age", after, tc.Now, nil))},
	}
}

func collectChildAge(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	age := parseAge(tc.Turn.NormalizedText)
	if age <= 0 || age > 99 {
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:ask_child_age", c, tc.Now, nil))},
		}
	}
	return NodeResult{
		Delta: Delta{
			Stage:       conv.StageInformation,
			Step:        conv.StepAnswerQuestions,
			ChildAge:    age,
			CaptureMade: true,
		},
		Emissions: []Emission{textEmission(svc.render(ctx, "kumon:information:message:default", c, tc.Now, nil))},
	}
}

func parseAge(text string) int {
	if m := ageDigitsPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n
		}
	}
	spelled := map[string]int{
		"um": 1, "dois": 2, "duas": 2, "três": 3, "tres": 3, "quatro": 4,
		"cinco": 5, "seis": 6, "sete": 7, "oito": 8, "nove": 9, "dez": 10,
		"onze": 11, "doze": 12, "treze": 13, "quatorze": 14, "catorze": 14, "quinze": 15,
	}
	for word, n := range spelled {
		if strings.Contains(strings.ToLower(text), word) {
			return n
		}
	}
	return 0
}

func isInfoIntent(label intent.Label) bool {
	switch label {
	case intent.InfoMethod, intent.InfoProgram, intent.InfoPricing:
		return true
	}
	return false
}
