package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmaraujo/recepcionista/calendar"
	"github.com/dmaraujo/recepcionista/conv"
	"github.com/dmaraujo/recepcionista/llm"
	"github.com/dmaraujo/recepcionista/rag"
	"github.com/dmaraujo/recepcionista/rules"
	"github.com/dmaraujo/recepcionista/template"
)

// Chatter is the slice of the llm gateway the nodes use.
type Chatter interface {
	Chat(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Services bundles the shared dependencies the stage nodes draw on.
type Services struct {
	Templates template.Registry
	Rules     *rules.Engine
	LLM       Chatter
	RAG       rag.Retriever
	Calendar  calendar.Calendar
	Logger    *slog.Logger
}

// render resolves and renders a catalog template with the conversation's
// variables plus extras. Rendering never fails a turn: on error the
// generic fallback body is returned.
func (s *Services) render(ctx context.Context, name template.Name, c conv.Conversation, now time.Time, extra map[string]string) string {
	vars := template.Vars(c, now)
	vars["monthly_fee"] = s.Rules.MonthlyFee()
	vars["material_fee"] = s.Rules.MaterialFee()
	for k, v := range extra {
		vars[k] = v
	}

	tpl, err := s.Templates.Resolve(ctx, name)
	if err != nil {
		s.Logger.Error("template resolve failed", "name", string(name), "error", err)
		return genericFallbackBody
	}
	out, err := tpl.Render(vars)
	if err != nil {
		s.Logger.Error("template render failed", "name", string(tpl.Name), "error", err)
		generic, gerr := s.Templates.Resolve(ctx, "kumon:fallback:message:generic")
		if gerr != nil {
			return genericFallbackBody
		}
		out, gerr = generic.Render(nil)
		if gerr != nil {
			return genericFallbackBody
		}
	}
	return out
}

const genericFallbackBody = "Desculpe, não consegui processar sua mensagem. Pode tentar de novo?"
