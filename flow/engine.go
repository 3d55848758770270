package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/emit"
	"github.com/dmaraujo/recepcionista/intent"
	"github.com/dmaraujo/recepcionista/metrics"
	"github.com/dmaraujo/recepcionista/outbox"
	"github.com/dmaraujo/recepcionista/preprocess"
	"github.com/dmaraujo/recepcionista/template"
	"github.com/dmaraujo/recepcionista/validate"
)

const (
	// maxValidatorRounds bounds regeneration before falling back to a
	// canned reply.
	maxValidatorRounds = 3

	// escalation thresholds on the per-conversation counters.
	confusionLimit = 3
	failureLimit   = 5
)

var errDuplicateTurn = errors.New("turn already applied")

// Submitter is the slice of the outbox coordinator the engine uses.
type Submitter interface {
	Submit(entries []outbox.Entry)
}

// Engine runs one conversation turn end to end: classify, route to the
// stage node, validate the draft replies, commit the state delta, and
// hand the outbound messages to the outbox.
type Engine struct {
	store      conv.Store
	outbox     outbox.Store
	dispatch   Submitter
	classifier intent.Classifier
	validator  *validate.Validator
	svc        *Services
	thresholds intent.Thresholds
	emitter    emit.Emitter
	metrics    *metrics.Metrics

	nodes map[conv.Stage]Node
}

// NewEngine wires the turn pipeline.
func NewEngine(store conv.Store, ob outbox.Store, dispatch Submitter, classifier intent.Classifier,
	validator *validate.Validator, svc *Services, thresholds intent.Thresholds,
	emitter emit.Emitter, m *metrics.Metrics) *Engine {
	e := &Engine{
		store:      store,
		outbox:     ob,
		dispatch:   dispatch,
		classifier: classifier,
		validator:  validator,
		svc:        svc,
		thresholds: thresholds,
		emitter:    emitter,
		metrics:    m,
	}
	e.nodes = map[conv.Stage]Node{
		conv.StageGreeting:      greetingNode(svc),
		conv.StageQualification: qualificationNode(svc),
		conv.StageInformation:   informationNode(svc),
		conv.StageScheduling:    schedulingNode(svc),
		conv.StageConfirmation:  confirmationNode(svc),
		conv.StageFallback:      fallbackNode(svc),
	}
	return e
}

// RunTurn processes one accepted inbound turn. The turn ID is the inbound
// message ID, which keys idempotency everywhere downstream.
func (e *Engine) RunTurn(ctx context.Context, turn preprocess.AcceptedTurn) error {
	turnID := turn.MessageID
	started := turn.TS

	c, err := e.store.LoadOrCreate(ctx, turn.ConversationID, turn.PeerID, turn.Instance)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	if c.PendingDeletion {
		e.metrics.TurnOutcome("completed")
		return e.sendOnly(ctx, c, turn, turnID, "kumon:system:message:deletion_pending")
	}
	if c.Stage.Terminal() && c.ClosingSent {
		e.metrics.TurnOutcome("dropped")
		e.emitTurn(c, turnID, "turn_dropped", map[string]interface{}{"reason": "terminal_stage"})
		return nil
	}
	if c.HasMessage(turnID) {
		e.metrics.TurnOutcome("dropped")
		e.emitTurn(c, turnID, "turn_dropped", map[string]interface{}{"reason": "duplicate"})
		return nil
	}

	tc := &TurnContext{Turn: turn, Now: started}
	result, nodeName := e.route(ctx, c, tc)

	emissions, validation := e.validateEmissions(ctx, c, tc, result.Emissions)
	if turn.DeferredToHours {
		offHours := textEmission(e.svc.render(ctx, "kumon:system:message:off_hours", c, started, nil))
		emissions = append([]Emission{offHours}, emissions...)
	}

	committed, err := e.commit(ctx, c, tc, turnID, nodeName, result.Delta, emissions, validation)
	if errors.Is(err, errDuplicateTurn) {
		e.metrics.TurnOutcome("dropped")
		return nil
	}
	if errors.Is(err, conv.ErrStaleVersion) {
		e.metrics.StaleTurn()
		e.metrics.TurnOutcome("dropped")
		e.emitTurn(c, turnID, "turn_stale", nil)
		return nil
	}
	if err != nil {
		e.metrics.TurnOutcome("failed")
		return fmt.Errorf("commit turn: %w", err)
	}
	if committed.Stage != c.Stage {
		e.metrics.StageTransition(string(c.Stage), string(committed.Stage))
	}

	if err := e.handOff(ctx, committed, turnID, emissions); err != nil {
		return err
	}
	e.metrics.TurnOutcome("completed")
	e.emitTurn(committed, turnID, "turn_completed", map[string]interface{}{
		"node":     nodeName,
		"intent":   string(tc.Intent.Label),
		"messages": len(emissions),
	})
	return nil
}

// route picks the node for this turn. Security, deletion, escalation and
// confidence banding are resolved here, before any stage logic runs.
func (e *Engine) route(ctx context.Context, c conv.Conversation, tc *TurnContext) (NodeResult, string) {
	turn := tc.Turn

	if turn.SecurityFlagged {
		return NodeResult{
			Emissions: []Emission{textEmission(e.svc.render(ctx, "kumon:system:message:security", c, tc.Now, nil))},
		}, "security"
	}
	if e.svc.Rules.IsDeletionRequest(turn.NormalizedText) {
		return NodeResult{
			Delta:     Delta{PendingDeletion: true},
			Emissions: []Emission{textEmission(e.svc.render(ctx, "kumon:system:message:deletion_ack", c, tc.Now, nil))},
		}, "deletion"
	}

	cls, err := e.classifier.Classify(ctx, turn.NormalizedText, string(c.Stage))
	if err != nil {
		e.svc.Logger.Warn("classification failed", "conversation_id", c.ID, "error", err)
		cls = intent.Classification{Label: intent.Unclear, Confidence: 0}
	}
	tc.Intent = cls
	tc.Band = e.thresholds.BandFor(cls.Confidence)
	e.emitTurn(c, turn.MessageID, "intent_classified", map[string]interface{}{
		"intent":     string(cls.Label),
		"confidence": cls.Confidence,
		"band":       tc.Band.String(),
	})

	if cls.Label == intent.DataDeletionRequest {
		return NodeResult{
			Delta:     Delta{PendingDeletion: true},
			Emissions: []Emission{textEmission(e.svc.render(ctx, "kumon:system:message:deletion_ack", c, tc.Now, nil))},
		}, "deletion"
	}
	if cls.Label == intent.HumanRequest ||
		c.Metrics.ConsecutiveConfusion >= confusionLimit ||
		c.Metrics.FailedAttempts >= failureLimit {
		return escalate(ctx, e.svc, c, tc), "handoff"
	}

	switch tc.Band {
	case intent.BandFloor:
		return fallbackLevel2(ctx, e.svc, c, tc), "fallback_level2"
	case intent.BandLow:
		return fallbackLevel1(ctx, e.svc, c, tc), "fallback_level1"
	}

	node, ok := e.nodes[c.Stage]
	if !ok {
		node = e.nodes[conv.StageInformation]
	}
	result := node.Run(ctx, c, tc)
	if result.Err != nil {
		e.svc.Logger.Error("node failed", "node", node.Name(), "conversation_id", c.ID, "error", result.Err)
		return NodeResult{
			Delta:     Delta{FailedAttempt: true},
			Emissions: []Emission{textEmission(e.svc.render(ctx, "kumon:fallback:message:generic", c, tc.Now, nil))},
		}, node.Name()
	}
	return result, node.Name()
}

// validateEmissions runs every draft through the validator, regenerating
// model-sourced drafts with the corrective hint up to maxValidatorRounds.
// Drafts that never pass are replaced with a safe canned reply.
func (e *Engine) validateEmissions(ctx context.Context, c conv.Conversation, tc *TurnContext, emissions []Emission) ([]Emission, conv.Validation) {
	out := make([]Emission, 0, len(emissions))
	validation := conv.Validation{Score: 1}
	for _, emission := range emissions {
		verdict := e.validator.Check(emission.Text, string(tc.Intent.Label))
		for round := 1; !verdict.Approved && verdict.Action == validate.ActionRetry &&
			emission.Regen != nil && round <= maxValidatorRounds; round++ {
			e.metrics.ValidatorRetry()
			regenerated, err := emission.Regen(ctx, retryHint(verdict))
			if err != nil {
				break
			}
			emission.Text = regenerated
			verdict = e.validator.Check(emission.Text, string(tc.Intent.Label))
		}
		if !verdict.Approved {
			e.emitTurn(c, tc.Turn.MessageID, "validator_rejected", map[string]interface{}{
				"action": string(verdict.Action),
				"issues": issueCodes(verdict),
			})
			name := "kumon:fallback:message:generic"
			if verdict.Action == validate.ActionBlock {
				name = "kumon:system:message:out_of_scope"
			}
			emission = textEmission(e.svc.render(ctx, template.Name(name), c, tc.Now, nil))
		}
		if verdict.Confidence < validation.Score {
			validation.Score = verdict.Confidence
		}
		validation.Issues = append(validation.Issues, issueCodes(verdict)...)
		out = append(out, emission)
	}
	return out, validation
}

// commit applies the turn in one Mutate: user message, state delta,
// assistant messages, decision trail entry.
func (e *Engine) commit(ctx context.Context, before conv.Conversation, tc *TurnContext,
	turnID, nodeName string, delta Delta, emissions []Emission, validation conv.Validation) (conv.Conversation, error) {
	return e.store.Mutate(ctx, before.ID, "turn:"+turnID, func(c *conv.Conversation) error {
		if c.HasMessage(turnID) {
			return errDuplicateTurn
		}
		if err := c.AppendMessage(conv.Message{
			Role:      conv.RoleUser,
			Text:      tc.Turn.Text,
			TS:        tc.Turn.TS,
			MessageID: turnID,
		}); err != nil {
			return err
		}
		// ClosingSent is flipped after the closing message itself is
		// appended, or the append would trip the terminal-stage rule.
		closing := delta.ClosingSent
		delta.ClosingSent = false
		ApplyDelta(c, delta)
		for i, emission := range emissions {
			if err := c.AppendMessage(conv.Message{
				Role:      conv.RoleAssistant,
				Text:      emission.Text,
				TS:        tc.Now,
				MessageID: turnID + "-a" + strconv.Itoa(i),
			}); err != nil {
				return err
			}
		}
		if closing {
			c.ClosingSent = true
		}
		c.Validation = validation
		c.PushDecision(conv.Decision{
			TurnID:     turnID,
			Node:       nodeName,
			Edge:       string(c.Stage),
			Intent:     string(tc.Intent.Label),
			Confidence: tc.Intent.Confidence,
			At:         tc.Now,
		})
		return nil
	})
}

// handOff moves the turn's replies into the outbox and wakes the delivery
// coordinator. The handoff gate makes a duplicate call harmless.
func (e *Engine) handOff(ctx context.Context, c conv.Conversation, turnID string, emissions []Emission) error {
	if len(emissions) == 0 {
		return nil
	}
	drafts := make([]outbox.Draft, len(emissions))
	for i, emission := range emissions {
		drafts[i] = outbox.Draft{Kind: emission.Kind, Payload: emission.Text}
	}
	if _, err := e.outbox.EnqueueTurn(ctx, c.ID, turnID, c.Instance, c.PeerID, drafts); err != nil {
		return fmt.Errorf("enqueue outbox turn: %w", err)
	}
	e.metrics.OutboxEnqueued(len(drafts))

	ready, err := e.outbox.MarkReady(ctx, c.ID, turnID)
	if errors.Is(err, outbox.ErrAlreadyHandedOff) {
		e.metrics.HandoffViolation()
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark outbox ready: %w", err)
	}
	e.dispatch.Submit(ready)
	return nil
}

// SendExpired emits the delay apology for a turn that hit its deadline.
// The checkpoint reason records the expiry for the audit trail.
func (e *Engine) SendExpired(ctx context.Context, turn preprocess.AcceptedTurn) error {
	c, err := e.store.Load(ctx, turn.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if _, err := e.store.Mutate(ctx, c.ID, "expired:"+turn.MessageID, func(*conv.Conversation) error {
		return nil
	}); err != nil {
		e.svc.Logger.Warn("expired checkpoint failed", "conversation_id", c.ID, "error", err)
	}
	return e.sendOnly(ctx, c, turn, turn.MessageID, "kumon:system:message:expired")
}

// sendOnly emits a single canned reply without touching conversation
// state. Used for conversations frozen by a pending deletion.
func (e *Engine) sendOnly(ctx context.Context, c conv.Conversation, turn preprocess.AcceptedTurn, turnID string, name string) error {
	emission := textEmission(e.svc.render(ctx, template.Name(name), c, turn.TS, nil))
	return e.handOff(ctx, c, turnID, []Emission{emission})
}

func (e *Engine) emitTurn(c conv.Conversation, turnID, msg string, meta map[string]interface{}) {
	e.emitter.Emit(emit.Event{
		ConversationID: c.ID,
		TurnID:         turnID,
		Stage:          string(c.Stage),
		Msg:            msg,
		Meta:           meta,
	})
}

func retryHint(v validate.Verdict) string {
	for _, issue := range v.Issues {
		if issue.Blocking && issue.Hint != "" {
			return issue.Hint
		}
	}
	for _, issue := range v.Issues {
		if issue.Hint != "" {
			return issue.Hint
		}
	}
	return "Reescreva a resposta de forma curta, educada e dentro do escopo da unidade Kumon."
}

func issueCodes(v validate.Verdict) []string {
	codes := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		codes = append(codes, issue.Code)
	}
	return codes
}
