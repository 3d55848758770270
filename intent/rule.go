package intent

import (
	"context"
	"regexp"
	"strings"
)

// RuleClassifier is the deterministic first-pass classifier. It matches
// common pt-BR phrasings and email/ordinal shapes; anything it cannot
// place confidently comes back as unclear with low confidence so the
// caller can escalate to the model classifier.
type RuleClassifier struct{}

// NewRuleClassifier creates the deterministic classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

var (
	emailPattern   = regexp.MustCompile(`\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	ordinalPattern = regexp.MustCompile(`^(op(ç|c)(ã|a)o\s*)?[1-3]\b|^(primeir|segund|terceir)`)
	agePattern     = regexp.MustCompile(`\b\d{1,2}\s*anos?\b`)
)

type rulePattern struct {
	label      Label
	confidence float64
	pattern    *regexp.Regexp
}

// rulePatterns is ordered: the first match wins, so more specific intents
// come before generic ones.
var rulePatterns = []rulePattern{
	{DataDeletionRequest, 0.97, regexp.MustCompile(`(apagar|excluir|deletar|remover)\s+(os\s+)?meus\s+dados|\blgpd\b`)},
	{HumanRequest, 0.95, regexp.MustCompile(`falar\s+com\s+(um\s+|uma\s+)?(atendente|humano|pessoa|alguem|algu(é|e)m)|\batendente\b`)},
	{SchedulingRequest, 0.92, regexp.MustCompile(`(agendar|marcar|agendamento)|avalia(ç|c)(ã|a)o\s+(diagn(ó|o)stica|gratuita)|\bvisita\b`)},
	{InfoPricing, 0.92, regexp.MustCompile(`(valor|valores|pre(ç|c)o|mensalidade|quanto\s+custa|custa\b)`)},
	{InfoMethod, 0.90, regexp.MustCompile(`m(é|e)todo|metodologia|como\s+funciona`)},
	{InfoProgram, 0.90, regexp.MustCompile(`matem(á|a)tica|portugu(ê|e)s|ingl(ê|e)s|disciplina|programa`)},
	{ConfirmationYes, 0.90, regexp.MustCompile(`^(sim|isso|pode\s+ser|confirmo|perfeito|fechado|ok|certo|claro|combinado)\b`)},
	{ConfirmationNo, 0.90, regexp.MustCompile(`^(n(ã|a)o|melhor\s+n(ã|a)o|cancelar?|deixa\s+pra\s+depois)\b`)},
	{Greeting, 0.92, regexp.MustCompile(`^(oi+|ol(á|a)|bom\s+dia|boa\s+tarde|boa\s+noite|e\s*a(í|i))\b`)},
	{ProvideName, 0.85, regexp.MustCompile(`^(meu\s+nome\s+(é|e)|me\s+chamo|sou\s+(a|o)\s+)`)},
}

// Classify implements Classifier. The stage biases ambiguous shapes:
// a bare ordinal is slot selection only while scheduling, and a short
// free-text answer counts as a qualification answer in that stage.
func (c *RuleClassifier) Classify(_ context.Context, text string, stage string) (Classification, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return result(Unclear, 0.1), nil
	}

	if emailPattern.MatchString(normalized) {
		return result(ProvideEmail, 0.96), nil
	}
	if stage == "scheduling" && ordinalPattern.MatchString(normalized) {
		return result(SlotSelection, 0.93), nil
	}

	for _, rp := range rulePatterns {
		if rp.pattern.MatchString(normalized) {
			return result(rp.label, rp.confidence), nil
		}
	}

	if stage == "qualification" {
		if agePattern.MatchString(normalized) {
			return result(QualificationAnswer, 0.88), nil
		}
		// Short free text during qualification is almost always the
		// answer to the pending question (a name, a level, a program).
		if len(strings.Fields(normalized)) <= 4 {
			return result(QualificationAnswer, 0.75), nil
		}
	}
	if stage == "greeting" && len(strings.Fields(normalized)) <= 3 {
		return result(ProvideName, 0.72), nil
	}

	return result(Unclear, 0.2), nil
}

func result(label Label, confidence float64) Classification {
	return Classification{
		Label:      label,
		Confidence: confidence,
		Features:   map[string]string{"model": "rules"},
	}
}
