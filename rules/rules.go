// Package rules implements the business-rule checks: business hours,
// pricing, conversational scope, safety/PII, and LGPD data-deletion
// handling. The engine is stateless; it is invoked by the workflow at
// decision points and by the response validator on draft replies.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Action tells the caller how to react to a failed check.
type Action string

// Suggested actions.
const (
	ActionRetryWithHint Action = "retry_with_hint"
	ActionBlock         Action = "block"
	ActionEscalate      Action = "escalate"
)

// CheckResult is the outcome of a single rule check.
type CheckResult struct {
	Passed    bool
	Code      string
	Message   string
	Suggested Action
}

// Pass returns a passing result.
func Pass() CheckResult { return CheckResult{Passed: true} }

// Fail returns a failing result with the given diagnosis.
func Fail(code, message string, action Action) CheckResult {
	return CheckResult{Code: code, Message: message, Suggested: action}
}

// Window is one daily business-hours interval, minutes since midnight.
type Window struct {
	StartMin int
	EndMin   int
}

// Engine evaluates every rule family against a fixed configuration.
type Engine struct {
	loc     *time.Location
	windows []Window

	monthlyFee  string
	materialFee string
}

// DefaultWindows is the configured schedule: weekdays 08:00-12:00 and
// 14:00-17:00 local, no weekends.
var DefaultWindows = []Window{
	{StartMin: 8 * 60, EndMin: 12 * 60},
	{StartMin: 14 * 60, EndMin: 17 * 60},
}

// NewEngine creates a rules engine for the given local zone and hour
// windows. Empty windows fall back to DefaultWindows.
func NewEngine(loc *time.Location, windows []Window) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	return &Engine{
		loc:         loc,
		windows:     windows,
		monthlyFee:  "R$ 375",
		materialFee: "R$ 100",
	}
}

// MonthlyFee returns the only valid monthly price statement.
func (e *Engine) MonthlyFee() string { return e.monthlyFee }

// MaterialFee returns the only valid one-time material price statement.
func (e *Engine) MaterialFee() string { return e.materialFee }

// WithinBusinessHours reports whether t falls inside a configured window
// on a weekday, evaluated in the engine's local zone.
func (e *Engine) WithinBusinessHours(t time.Time) bool {
	local := t.In(e.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	for _, w := range e.windows {
		if minutes >= w.StartMin && minutes < w.EndMin {
			return true
		}
	}
	return false
}

// SlotAllowed reports whether an appointment interval lies entirely inside
// the business-hours windows. Used to filter calendar candidates so no
// assistant-proposed slot falls outside 08:00-12:00 / 14:00-17:00.
func (e *Engine) SlotAllowed(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	if !e.WithinBusinessHours(start) {
		return false
	}
	// End is exclusive: a slot ending exactly at a window boundary is fine.
	return e.WithinBusinessHours(end.Add(-time.Minute))
}

// currencyPattern matches any R$ amount, whitespace modulo.
var currencyPattern = regexp.MustCompile(`R\$\s*\d+(?:[.,]\d+)?`)

// CheckPricing verifies that every monetary amount in text is one of the
// two allowed statements: the monthly fee and the one-time material fee.
func (e *Engine) CheckPricing(text string) CheckResult {
	for _, match := range currencyPattern.FindAllString(text, -1) {
		normalized := "R$ " + strings.TrimSpace(strings.TrimPrefix(match, "R$"))
		if normalized != e.monthlyFee && normalized != e.materialFee {
			return Fail("pricing_mismatch",
				fmt.Sprintf("draft mentions %q; only %q and %q are allowed", match, e.monthlyFee, e.materialFee),
				ActionBlock)
		}
	}
	return Pass()
}

// inScopeLabels is the allow-list of conversational intents the assistant
// may act on. Everything else routes to a scoped refusal.
var inScopeLabels = map[string]bool{
	"greeting":              true,
	"provide_name":          true,
	"qualification_answer":  true,
	"info_method":           true,
	"info_program":          true,
	"info_pricing":          true,
	"info_hours":            true,
	"info_materials":        true,
	"scheduling_request":    true,
	"slot_selection":        true,
	"provide_email":         true,
	"confirmation_yes":      true,
	"confirmation_no":       true,
	"human_request":         true,
	"data_deletion_request": true,
	"unclear":               true,
}

// ScopeAllowed reports whether an intent label is within the assistant's
// allowed topics.
func (e *Engine) ScopeAllowed(label string) bool {
	return inScopeLabels[label]
}

// CheckScope fails for intents outside the allowed topics.
func (e *Engine) CheckScope(label string) CheckResult {
	if e.ScopeAllowed(label) {
		return Pass()
	}
	return Fail("out_of_scope", "topic outside the receptionist's scope", ActionBlock)
}

// leakPatterns flag drafts that would disclose internals: system prompts,
// credentials, or internal identifiers.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)system prompt`),
	regexp.MustCompile(`(?i)prompt do sistema`),
	regexp.MustCompile(`(?i)minhas instruç(?:õ|o)es`),
	regexp.MustCompile(`(?i)api[_\s-]?key`),
	regexp.MustCompile(`(?i)senha\s*[:=]`),
	regexp.MustCompile(`(?i)password\s*[:=]`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{16,}`),
	regexp.MustCompile(`(?i)conversation_id|turn_id|checkpoint`),
}

// CheckSafety fails for drafts leaking system prompts, credentials, or
// internal identifiers.
func (e *Engine) CheckSafety(text string) CheckResult {
	for _, pattern := range leakPatterns {
		if pattern.MatchString(text) {
			return Fail("safety_leak", "draft would disclose internal or sensitive data", ActionBlock)
		}
	}
	return Pass()
}

// deletionPatterns recognize LGPD data-deletion requests.
var deletionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)apag(?:ar|ue|uem)\s+(?:os\s+)?meus\s+dados`),
	regexp.MustCompile(`(?i)exclu(?:ir|a|am)\s+(?:os\s+)?meus\s+dados`),
	regexp.MustCompile(`(?i)delet(?:ar|e)\s+(?:os\s+)?meus\s+dados`),
	regexp.MustCompile(`(?i)remov(?:er|a)\s+(?:os\s+)?meus\s+dados`),
	regexp.MustCompile(`(?i)\blgpd\b`),
}

// IsDeletionRequest reports whether text is an LGPD data-deletion request.
// The workflow marks the conversation PendingDeletion and refuses further
// interaction until the request is resolved out-of-band.
func (e *Engine) IsDeletionRequest(text string) bool {
	for _, pattern := range deletionPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}
