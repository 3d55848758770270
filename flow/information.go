package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
	"github.com/dmaraujo/recepcionista/llm"
	"github.com/dmaraujo/recepcionista/llm/model"
)

const answerSystemPrompt = `Você é a recepcionista virtual de uma unidade Kumon no Brasil.
Responda em português brasileiro, em tom caloroso e profissional, em no máximo três frases.
Use somente as informações do contexto fornecido. Nunca invente valores, descontos ou promoções.
Se a pergunta fugir do assunto Kumon, diga educadamente que só pode ajudar com a unidade.`

// informationNode answers questions about the method, programs, pricing
// and hours, and hands off to scheduling when the user asks for it.
func informationNode(svc *Services) Node {
	return NodeFunc{NodeName: "information", Fn: func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
		switch tc.Intent.Label {
		case intent.SchedulingRequest, intent.ConfirmationYes:
			// "sim" right after the menu means "yes, let's schedule".
			return offerSlots(ctx, svc, c, tc)
		case intent.OffTopic:
			return NodeResult{
				Delta:     Delta{Confused: true},
				Emissions: []Emission{textEmission(svc.render(ctx, "kumon:system:message:out_of_scope", c, tc.Now, nil))},
			}
		}
		return answerInformation(ctx, svc, c, tc)
	}}
}

// answerInformation produces the reply for an informational turn. Pricing
// and hours come straight from templates so the numbers can never drift;
// open questions go through retrieval plus the model.
func answerInformation(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	switch tc.Intent.Label {
	case intent.InfoPricing:
		return NodeResult{
			Delta:     Delta{Step: stepUnlessQualifying(c)},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:information:message:pricing", c, tc.Now, nil))},
		}
	case intent.InfoMethod:
		return NodeResult{
			Delta:     Delta{Step: stepUnlessQualifying(c)},
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:information:message:method", c, tc.Now, nil))},
		}
	}
	return composedAnswer(ctx, svc, c, tc)
}

// composedAnswer retrieves unit knowledge and asks the model to write the
// reply. Retrieval is fail-soft; a degraded or empty result falls back to
// the canned degraded template instead of letting the model improvise.
func composedAnswer(ctx context.Context, svc *Services, c conv.Conversation, tc *TurnContext) NodeResult {
	question := tc.Turn.NormalizedText
	result, _ := svc.RAG.Retrieve(ctx, question, 3)
	if result.Degraded || len(result.Snippets) == 0 {
		return NodeResult{
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:information:message:degraded", c, tc.Now, nil))},
		}
	}

	var contextBlock strings.Builder
	for i, snippet := range result.Snippets {
		fmt.Fprintf(&contextBlock, "[%d] %s\n", i+1, snippet.Text)
	}
	ask := func(ctx context.Context, hint string) (string, error) {
		user := fmt.Sprintf("Contexto:\n%s\nPergunta do responsável: %s", contextBlock.String(), question)
		if hint != "" {
			user += "\n\nAjuste obrigatório: " + hint
		}
		resp, err := svc.LLM.Chat(ctx, llm.Request{
			System:      answerSystemPrompt,
			Messages:    []model.Message{{Role: model.RoleUser, Text: user}},
			MaxTokens:   300,
			Temperature: 0.4,
		})
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Text), nil
	}

	text, err := ask(ctx, "")
	if err != nil || text == "" {
		svc.Logger.Warn("composed answer degraded to template", "conversation_id", c.ID, "error", err)
		return NodeResult{
			Emissions: []Emission{textEmission(svc.render(ctx, "kumon:information:message:degraded", c, tc.Now, nil))},
		}
	}
	return NodeResult{
		Emissions: []Emission{{Kind: "text", Text: text, Regen: ask}},
	}
}

// stepUnlessQualifying keeps the current capture step alive when an info
// question interrupts qualification, and otherwise parks the conversation
// at ANSWER_QUESTIONS.
func stepUnlessQualifying(c conv.Conversation) conv.Step {
	if c.Stage == conv.StageQualification {
		return ""
	}
	return conv.StepAnswerQuestions
}
