package template

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmaraujo/recepcionista/conv"
)

// Vars builds the substitution map for a conversation. Gendered words use
// the collected parent gender when known and an inclusive neutral form
// otherwise.
func Vars(c conv.Conversation, now time.Time) map[string]string {
	vars := map[string]string{
		"parent_name": c.Collected.ParentName,
		"child_name":  c.Collected.ChildName,
		"email":       c.Collected.ContactEmail,
		"saudacao":    greeting(now),
	}

	switch strings.ToLower(c.Collected.ParentGender) {
	case "f", "female", "feminino":
		vars["artigo_crianca"] = "da"
		vars["tratamento"] = "a senhora"
	case "m", "male", "masculino":
		vars["artigo_crianca"] = "do"
		vars["tratamento"] = "o senhor"
	default:
		vars["artigo_crianca"] = "de"
		vars["tratamento"] = "você"
	}

	if c.Collected.ChildAge > 0 {
		vars["child_age"] = fmt.Sprintf("%d", c.Collected.ChildAge)
	}
	if slot := c.Collected.SelectedSlot; slot != nil {
		vars["slot_start"] = FormatSlot(slot.Start)
	}
	return vars
}

// FormatSlot renders a slot start for pt-BR chat output.
func FormatSlot(t time.Time) string {
	days := [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}
	return fmt.Sprintf("%s, %02d/%02d às %02d:%02d",
		days[int(t.Weekday())], t.Day(), int(t.Month()), t.Hour(), t.Minute())
}

func greeting(now time.Time) string {
	switch h := now.Hour(); {
	case h < 12:
		return "Bom dia!"
	case h < 18:
		return "Boa tarde!"
	default:
		return "Boa noite!"
	}
}
