package flow

import (
	"context"
	"regexp"
	"strings"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	namePrefixPattern = regexp.MustCompile(`(?i)^(oi|ol[áa])?[,.!\s]*(meu nome (é|e)|me chamo|aqui (é|e)|sou|eu sou)\s+`)
	femaleMarker      = regexp.MustCompile(`(?i)\b(sou a|aqui (é|e) a|me chamo\s+\S+a\b)`)
	maleMarker        = regexp.MustCompile(`(?i)\b(sou o|aqui (é|e) o)\b`)

	titleCaser = cases.Title(language.BrazilianPortuguese)
)

// greetingNode welcomes new contacts and captures the parent's name.
func greetingNode(svc *Services) Node {
	return NodeFunc{NodeName: "greeting", Fn: func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
		// A returning contact skips straight to questions.
		if c.Collected.ParentName != "" && c.Step == conv.StepWelcome {
			return NodeResult{
				Delta:     Delta{Stage: conv.StageInformation, Step: conv.StepAnswerQuestions},
				Emissions: []Emission{textEmission(svc.render(ctx, "kumon:greeting:message:welcome_back", c, tc.Now, nil))},
			}
		}

		if name, gender := extractPersonName(tc.Turn.NormalizedText); name != "" &&
			(tc.Intent.Label == intent.ProvideName || tc.Intent.Label == intent.Greeting || tc.Intent.Label == intent.Unclear) {
			after := c
			after.Collected.ParentName = name
			return NodeResult{
				Delta: Delta{
					Stage:        conv.StageQualification,
					Step:         conv.StepIdentifyStudent,
					ParentName:   name,
					ParentGender: gender,
					CaptureMade:  true,
				},
				Emissions: []Emission{textEmission(svc.render(ctx, "kumon:qualification:message:ask_student", after, tc.Now, nil))},
			}
		}

		if c.Step == conv.StepCollectParentName {
			return NodeResult{
				Delta:     Delta{FailedAttempt: true},
				Emissions: []Emission{textEmission(svc.render(ctx, "kumon:greeting:message:default", c, tc.Now, nil))},
			}
		}
		return NodeResult{
			Delta:     Delta{Step: conv.StepCollectParentName},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:greeting:message:welcome", c, tc.Now, nil))},
		}
	}}
}

// extractPersonName pulls a plausible first name (plus optional surname)
// out of a self-introduction. Returns the inferred gender marker when the
// phrasing gives one away ("sou a Maria").
func extractPersonName(text string) (name, gender string) {
	switch {
	case femaleMarker.MatchString(text):
		gender = "f"
	case maleMarker.MatchString(text):
		gender = "m"
	}

	candidate := namePrefixPattern.ReplaceAllString(text, "")
	candidate = strings.Trim(candidate, " .,!?")
	if candidate == "" {
		return "", ""
	}
	words := strings.Fields(candidate)
	// "sou a Maria" leaves the article in front of the name.
	if len(words) > 1 {
		switch strings.ToLower(words[0]) {
		case "a", "o":
			words = words[1:]
		}
	}
	if len(words) > 3 {
		return "", ""
	}
	for _, w := range words {
		if !isNameWord(w) {
			return "", ""
		}
	}
	// Bare greetings are not names even though they pass the shape check.
	lower := strings.ToLower(words[0])
	switch lower {
	case "oi", "olá", "ola", "bom", "boa", "sim", "não", "nao", "a", "o":
		return "", ""
	}
	return titleCaser.String(strings.Join(words, " ")), gender
}

func isNameWord(w string) bool {
	for _, r := range w {
		if !isLetter(r) && r != '\'' && r != '-' {
			return false
		}
	}
	return len(w) >= 2
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r >= 0x00C0
}
