package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dmaraujo/recepcionista/llm"
	"github.com/dmaraujo/recepcionista/llm/model"
)

// Chatter is the slice of the llm gateway the classifier needs.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (llm.Response, error)
}

// ModelClassifier escalates to the LLM gateway when the rule classifier
// is not confident. It asks for a strict JSON verdict over the fixed
// label set.
type ModelClassifier struct {
	gateway Chatter
	rules   *RuleClassifier
	// escalateBelow is the rule-confidence floor under which the model
	// is consulted.
	escalateBelow float64
}

// NewModelClassifier layers the gateway over the rule classifier.
func NewModelClassifier(gateway Chatter) *ModelClassifier {
	return &ModelClassifier{
		gateway:       gateway,
		rules:         NewRuleClassifier(),
		escalateBelow: 0.70,
	}
}

const classifySystem = `Você classifica mensagens recebidas por uma recepcionista virtual de uma unidade Kumon.
Responda APENAS com JSON no formato {"label":"...","confidence":0.0}.
Labels válidos: greeting, provide_name, qualification_answer, info_method, info_program, info_pricing, scheduling_request, slot_selection, provide_email, confirmation_yes, confirmation_no, human_request, data_deletion_request, off_topic, unclear.`

var validLabels = map[Label]bool{
	Greeting: true, ProvideName: true, QualificationAnswer: true,
	InfoMethod: true, InfoProgram: true, InfoPricing: true,
	SchedulingRequest: true, SlotSelection: true, ProvideEmail: true,
	ConfirmationYes: true, ConfirmationNo: true, HumanRequest: true,
	DataDeletionRequest: true, OffTopic: true, Unclear: true,
}

// Classify implements Classifier. Gateway failures degrade to the rule
// verdict rather than failing the turn.
func (c *ModelClassifier) Classify(ctx context.Context, text string, stage string) (Classification, error) {
	ruled, err := c.rules.Classify(ctx, text, stage)
	if err != nil {
		return Classification{}, err
	}
	if ruled.Confidence >= c.escalateBelow {
		return ruled, nil
	}

	resp, err := c.gateway.Chat(ctx, llm.Request{
		System: classifySystem,
		Messages: []model.Message{{
			Role: model.RoleUser,
			Text: fmt.Sprintf("Etapa atual: %s\nMensagem: %s", stage, text),
		}},
		MaxTokens:   64,
		Temperature: 0,
	})
	if err != nil {
		return ruled, nil
	}

	parsed, ok := parseVerdict(resp.Text)
	if !ok {
		return ruled, nil
	}
	parsed.Features = map[string]string{"model": resp.Usage.Model}
	return parsed, nil
}

func parseVerdict(raw string) (Classification, bool) {
	raw = strings.TrimSpace(raw)
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		if end := strings.LastIndexByte(raw, '}'); end > start {
			raw = raw[start : end+1]
		}
	}
	var verdict struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Classification{}, false
	}
	label := Label(verdict.Label)
	if !validLabels[label] || verdict.Confidence < 0 || verdict.Confidence > 1 {
		return Classification{}, false
	}
	return Classification{Label: label, Confidence: verdict.Confidence}, true
}
