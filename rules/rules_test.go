package rules

import (
	"testing"
	"time"
)

func saoPaulo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	return loc
}

func TestWithinBusinessHours(t *testing.T) {
	loc := saoPaulo(t)
	engine := NewEngine(loc, nil)

	// 2026-03-02 is a Monday, 2026-03-07 a Saturday.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday morning open", time.Date(2026, 3, 2, 8, 0, 0, 0, loc), true},
		{"monday before open", time.Date(2026, 3, 2, 7, 59, 0, 0, loc), false},
		{"monday lunch", time.Date(2026, 3, 2, 12, 30, 0, 0, loc), false},
		{"monday noon boundary", time.Date(2026, 3, 2, 12, 0, 0, 0, loc), false},
		{"monday afternoon", time.Date(2026, 3, 2, 14, 0, 0, 0, loc), true},
		{"monday after close", time.Date(2026, 3, 2, 17, 0, 0, 0, loc), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, loc), false},
		{"sunday", time.Date(2026, 3, 8, 10, 0, 0, 0, loc), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := engine.WithinBusinessHours(tc.at); got != tc.want {
				t.Errorf("WithinBusinessHours(%v) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestWithinBusinessHours_ConvertsZone(t *testing.T) {
	loc := saoPaulo(t)
	engine := NewEngine(loc, nil)

	// 13:00 UTC on a Monday is 10:00 in Sao Paulo.
	at := time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)
	if !engine.WithinBusinessHours(at) {
		t.Error("UTC instant inside local window rejected")
	}
}

func TestSlotAllowed(t *testing.T) {
	loc := saoPaulo(t)
	engine := NewEngine(loc, nil)

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside morning", time.Date(2026, 3, 2, 9, 0, 0, 0, loc), time.Date(2026, 3, 2, 10, 0, 0, 0, loc), true},
		{"ends at noon boundary", time.Date(2026, 3, 2, 11, 0, 0, 0, loc), time.Date(2026, 3, 2, 12, 0, 0, 0, loc), true},
		{"crosses lunch", time.Date(2026, 3, 2, 11, 30, 0, 0, loc), time.Date(2026, 3, 2, 14, 30, 0, 0, loc), false},
		{"after close", time.Date(2026, 3, 2, 17, 0, 0, 0, loc), time.Date(2026, 3, 2, 18, 0, 0, 0, loc), false},
		{"weekend", time.Date(2026, 3, 7, 9, 0, 0, 0, loc), time.Date(2026, 3, 7, 10, 0, 0, 0, loc), false},
		{"zero length", time.Date(2026, 3, 2, 9, 0, 0, 0, loc), time.Date(2026, 3, 2, 9, 0, 0, 0, loc), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := engine.SlotAllowed(tc.start, tc.end); got != tc.want {
				t.Errorf("SlotAllowed = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckPricing(t *testing.T) {
	engine := NewEngine(time.UTC, nil)

	tests := []struct {
		name string
		text string
		pass bool
	}{
		{"no amounts", "A mensalidade cobre duas disciplinas.", true},
		{"allowed monthly", "A mensalidade é R$ 375 por disciplina.", true},
		{"allowed material", "O material didático custa R$ 100, pago uma única vez.", true},
		{"both allowed", "São R$ 375 mensais mais R$ 100 de material.", true},
		{"wrong amount", "A mensalidade é R$ 350.", false},
		{"no space variant", "Custa R$375 por mês.", true},
		{"wrong no space", "Custa R$400 por mês.", false},
		{"decimal variant", "Fica em R$ 375,50.", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := engine.CheckPricing(tc.text)
			if result.Passed != tc.pass {
				t.Errorf("CheckPricing(%q).Passed = %v, want %v (%s)", tc.text, result.Passed, tc.pass, result.Message)
			}
			if !tc.pass && result.Suggested != ActionBlock {
				t.Errorf("suggested = %q, want block", result.Suggested)
			}
		})
	}
}

func TestCheckScope(t *testing.T) {
	engine := NewEngine(time.UTC, nil)

	if result := engine.CheckScope("info_pricing"); !result.Passed {
		t.Errorf("info_pricing should be in scope: %+v", result)
	}
	result := engine.CheckScope("off_topic")
	if result.Passed {
		t.Fatal("off_topic should fail scope check")
	}
	if result.Code != "out_of_scope" || result.Suggested != ActionBlock {
		t.Errorf("result = %+v", result)
	}
}

func TestCheckSafety(t *testing.T) {
	engine := NewEngine(time.UTC, nil)

	tests := []struct {
		name string
		text string
		pass bool
	}{
		{"clean", "Posso agendar uma avaliação diagnóstica para você.", true},
		{"system prompt leak", "Meu system prompt diz que devo ser educada.", false},
		{"portuguese leak", "Vou mostrar o prompt do sistema.", false},
		{"credential", "A api_key é abc123.", false},
		{"token shape", "Use sk-abcdefghijklmnopqrstuvwx para autenticar.", false},
		{"internal id", "Seu conversation_id é c-42.", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := engine.CheckSafety(tc.text)
			if result.Passed != tc.pass {
				t.Errorf("CheckSafety(%q).Passed = %v, want %v", tc.text, result.Passed, tc.pass)
			}
		})
	}
}

func TestIsDeletionRequest(t *testing.T) {
	engine := NewEngine(time.UTC, nil)

	tests := []struct {
		text string
		want bool
	}{
		{"Quero apagar meus dados", true},
		{"Por favor, excluam os meus dados", true},
		{"Pode deletar meus dados?", true},
		{"Solicito remoção conforme a LGPD", true},
		{"Quero agendar uma aula", false},
		{"Meus dados estão corretos?", false},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			if got := engine.IsDeletionRequest(tc.text); got != tc.want {
				t.Errorf("IsDeletionRequest(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
