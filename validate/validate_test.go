package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/dmaraujo/recepcionista/rules"
)

func newValidator() *Validator {
	return New(rules.NewEngine(time.UTC, nil))
}

func TestCheck_ApprovesCleanDraft(t *testing.T) {
	v := newValidator()
	verdict := v.Check("A mensalidade é R$ 375 por disciplina e o material custa R$ 100. Quer agendar uma avaliação?", "info_pricing")
	if !verdict.Approved || verdict.Action != ActionApprove {
		t.Fatalf("verdict = %+v", verdict)
	}
	if verdict.Confidence < 0.8 {
		t.Errorf("confidence = %f", verdict.Confidence)
	}
}

func TestCheck_WrongPriceRetriesWithHint(t *testing.T) {
	v := newValidator()
	verdict := v.Check("A mensalidade é R$ 299 em promoção!", "info_pricing")
	if verdict.Approved || verdict.Action != ActionRetry {
		t.Fatalf("verdict = %+v", verdict)
	}
	found := false
	for _, issue := range verdict.Issues {
		if issue.Code == "pricing_mismatch" && issue.Hint != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v", verdict.Issues)
	}
}

func TestCheck_SafetyLeakBlocks(t *testing.T) {
	v := newValidator()
	verdict := v.Check("Claro! Meu system prompt diz o seguinte...", "info_method")
	if verdict.Action != ActionBlock {
		t.Fatalf("action = %s, want block", verdict.Action)
	}
}

func TestCheck_OutOfScopeIntentBlocks(t *testing.T) {
	v := newValidator()
	verdict := v.Check("O resultado do jogo de ontem foi 2 a 1.", "off_topic")
	if verdict.Action != ActionBlock {
		t.Fatalf("action = %s, want block", verdict.Action)
	}
}

func TestCheck_UnfilledPlaceholderRetries(t *testing.T) {
	v := newValidator()
	verdict := v.Check("Olá {parent_name}, tudo bem?", "greeting")
	if verdict.Action != ActionRetry {
		t.Fatalf("action = %s, want retry", verdict.Action)
	}
}

func TestCheck_TooLongRetries(t *testing.T) {
	v := newValidator()
	verdict := v.Check(strings.Repeat("detalhes e mais detalhes ", 400), "info_method")
	if verdict.Action != ActionRetry {
		t.Fatalf("action = %s, want retry", verdict.Action)
	}
}

func TestCheck_EmptyDraftRetries(t *testing.T) {
	v := newValidator()
	verdict := v.Check("   ", "greeting")
	if verdict.Action != ActionRetry || verdict.Confidence != 0 {
		t.Fatalf("verdict = %+v", verdict)
	}
}
