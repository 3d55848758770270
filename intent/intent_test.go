package intent

import (
	"context"
	"reflect"
	"testing"

	"github.com/dmaraujo/recepcionista/kv"
	"github.com/dmaraujo/recepcionista/llm"
)

func TestRuleClassifier(t *testing.T) {
	ctx := context.Background()
	classifier := NewRuleClassifier()

	tests := []struct {
		name  string
		text  string
		stage string
		want  Label
	}{
		{"greeting", "Oi, tudo bem?", "greeting", Greeting},
		{"greeting bom dia", "bom dia", "greeting", Greeting},
		{"provide name explicit", "Meu nome é Maria", "greeting", ProvideName},
		{"bare name in greeting", "Maria Souza", "greeting", ProvideName},
		{"pricing", "Quanto custa a mensalidade?", "information", InfoPricing},
		{"method", "Como funciona o método?", "information", InfoMethod},
		{"program", "Vocês têm matemática?", "information", InfoProgram},
		{"scheduling", "Queria agendar uma avaliação diagnóstica", "information", SchedulingRequest},
		{"slot ordinal in scheduling", "opção 2", "scheduling", SlotSelection},
		{"ordinal outside scheduling is not slot", "2", "information", Unclear},
		{"email", "maria.souza@gmail.com", "scheduling", ProvideEmail},
		{"yes", "sim, pode ser", "confirmation", ConfirmationYes},
		{"no", "não, melhor não", "confirmation", ConfirmationNo},
		{"human", "quero falar com um atendente", "information", HumanRequest},
		{"deletion", "quero apagar meus dados", "information", DataDeletionRequest},
		{"age in qualification", "ela tem 7 anos", "qualification", QualificationAnswer},
		{"short answer in qualification", "fundamental 1", "qualification", QualificationAnswer},
		{"gibberish", "asdkjh qweoiu zxcmn lkasjd qpwoe ruty", "information", Unclear},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := classifier.Classify(ctx, tc.text, tc.stage)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Label != tc.want {
				t.Errorf("Classify(%q, %s) = %s (%.2f), want %s", tc.text, tc.stage, got.Label, got.Confidence, tc.want)
			}
			if got.Features["model"] != "rules" {
				t.Errorf("features = %v", got.Features)
			}
		})
	}
}

func TestRuleClassifier_Deterministic(t *testing.T) {
	ctx := context.Background()
	classifier := NewRuleClassifier()
	first, _ := classifier.Classify(ctx, "Quanto custa?", "information")
	for i := 0; i < 10; i++ {
		again, _ := classifier.Classify(ctx, "Quanto custa?", "information")
		if !reflect.DeepEqual(again, first) && again.Label != first.Label {
			t.Fatalf("classification drifted: %+v vs %+v", again, first)
		}
	}
}

func TestThresholds_BandFor(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		confidence float64
		want       Band
	}{
		{0.95, BandHigh},
		{0.85, BandHigh},
		{0.80, BandMedium},
		{0.70, BandMedium},
		{0.50, BandLow},
		{0.30, BandLow},
		{0.10, BandFloor},
	}
	for _, tc := range tests {
		if got := th.BandFor(tc.confidence); got != tc.want {
			t.Errorf("BandFor(%.2f) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

type scriptedChatter struct {
	text  string
	err   error
	calls int
}

func (s *scriptedChatter) Chat(context.Context, llm.Request) (llm.Response, error) {
	s.calls++
	if s.err != nil {
		return llm.Response{}, s.err
	}
	return llm.Response{Text: s.text, Usage: llm.Usage{Model: "mock"}}, nil
}

func TestModelClassifier_EscalatesOnlyWhenRulesUnsure(t *testing.T) {
	ctx := context.Background()
	chatter := &scriptedChatter{text: `{"label":"info_program","confidence":0.88}`}
	classifier := NewModelClassifier(chatter)

	// Confident rule hit does not reach the gateway.
	got, err := classifier.Classify(ctx, "quanto custa?", "information")
	if err != nil || got.Label != InfoPricing {
		t.Fatalf("rule path: %+v %v", got, err)
	}
	if chatter.calls != 0 {
		t.Errorf("gateway called on confident rule hit")
	}

	// Unclear text escalates.
	got, err = classifier.Classify(ctx, "aquela coisa que vocês fazem com as folhinhas", "information")
	if err != nil {
		t.Fatalf("model path: %v", err)
	}
	if got.Label != InfoProgram || got.Confidence != 0.88 {
		t.Errorf("got %+v", got)
	}
	if chatter.calls != 1 {
		t.Errorf("gateway calls = %d", chatter.calls)
	}
}

func TestModelClassifier_GatewayFailureDegradesToRules(t *testing.T) {
	chatter := &scriptedChatter{err: llm.ErrNoAdapterAvailable}
	classifier := NewModelClassifier(chatter)

	got, err := classifier.Classify(context.Background(), "hmmmm talvez sei lá", "information")
	if err != nil {
		t.Fatalf("degradation should not error: %v", err)
	}
	if got.Label != Unclear {
		t.Errorf("label = %s, want unclear rule verdict", got.Label)
	}
}

func TestModelClassifier_RejectsInvalidVerdict(t *testing.T) {
	chatter := &scriptedChatter{text: `{"label":"banana","confidence":0.99}`}
	classifier := NewModelClassifier(chatter)

	got, _ := classifier.Classify(context.Background(), "texto ambíguo qualquer coisa", "information")
	if got.Label != Unclear {
		t.Errorf("invalid verdict should fall back to rules, got %s", got.Label)
	}
}

func TestParseVerdict_ExtractsEmbeddedJSON(t *testing.T) {
	got, ok := parseVerdict("Claro! Aqui está: {\"label\":\"greeting\",\"confidence\":0.9} espero ter ajudado")
	if !ok || got.Label != Greeting || got.Confidence != 0.9 {
		t.Errorf("parseVerdict = %+v %v", got, ok)
	}
}

func TestCachedClassifier(t *testing.T) {
	ctx := context.Background()
	cache := kv.NewMemCache()
	chatter := &scriptedChatter{text: `{"label":"info_method","confidence":0.9}`}
	classifier := NewCachedClassifier(NewModelClassifier(chatter), cache)

	text := "me explica aquele negócio de autodidatismo aí por favor"
	first, err := classifier.Classify(ctx, text, "information")
	if err != nil || first.Label != InfoMethod {
		t.Fatalf("first: %+v %v", first, err)
	}
	if chatter.calls != 1 {
		t.Fatalf("calls = %d", chatter.calls)
	}

	second, err := classifier.Classify(ctx, text, "information")
	if err != nil || second.Label != InfoMethod {
		t.Fatalf("second: %+v %v", second, err)
	}
	if chatter.calls != 1 {
		t.Errorf("cache miss on repeat: calls = %d", chatter.calls)
	}
	if second.Features["cache"] != "hit" {
		t.Errorf("features = %v", second.Features)
	}

	// Different stage is a different key.
	_, _ = classifier.Classify(ctx, text, "scheduling")
	if chatter.calls != 2 {
		t.Errorf("stage not part of key: calls = %d", chatter.calls)
	}
}
