// Package flow is the conversation workflow: stage nodes, the turn
// engine that routes classified input through them, and the per
// conversation mailboxes that serialize turn processing.
package flow

import (
	"context"
	"time"

	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/intent"
	"github.com/dmaraujo/recepcionista/preprocess"
)

// Emission is one outbound message a node wants delivered this turn.
type Emission struct {
	Kind string // outbox kind: text, buttons, media
	Text string

	// Regen regenerates the text with a corrective hint when the
	// validator rejects it. Nil for template-sourced emissions.
	Regen func(ctx context.Context, hint string) (string, error)
}

// TurnContext carries the classified inbound turn through a node run.
type TurnContext struct {
	Turn   preprocess.AcceptedTurn
	Intent intent.Classification
	Band   intent.Band
	Now    time.Time
}

// NodeResult is a node's proposal for the turn: a state delta and the
// messages to send. Err aborts the turn without committing either.
type NodeResult struct {
	Delta     Delta
	Emissions []Emission
	Err       error
}

// Node handles the turns of one conversation stage.
type Node interface {
	Name() string
	Run(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult
}

// NodeFunc adapts a function to Node.
type NodeFunc struct {
	NodeName string
	Fn       func(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult
}

// Name implements Node.
func (n NodeFunc) Name() string { return n.NodeName }

// Run implements Node.
func (n NodeFunc) Run(ctx context.Context, c conv.Conversation, tc *TurnContext) NodeResult {
	return n.Fn(ctx, c, tc)
}

func textEmission(text string) Emission {
	return Emission{Kind: "text", Text: text}
}
