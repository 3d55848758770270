// Package template holds the response catalog: named pt-BR message
// templates with {var} substitution, a bundled default catalog, and an
// optional remote registry cached in-process.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no template resolves for a name, even
// after walking the stage default chain.
var ErrNotFound = errors.New("template not found")

// Name is a catalog key of the form kumon:{stage}:{type}:{variant}.
type Name string

// ParseName validates the four-segment grammar.
func ParseName(raw string) (Name, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("template name %q: want kumon:{stage}:{type}:{variant}", raw)
	}
	for i, part := range parts {
		if part == "" {
			return "", fmt.Errorf("template name %q: empty segment %d", raw, i)
		}
	}
	if parts[0] != "kumon" {
		return "", fmt.Errorf("template name %q: unknown namespace %q", raw, parts[0])
	}
	return Name(raw), nil
}

// Stage returns the stage segment of the name.
func (n Name) Stage() string {
	parts := strings.Split(string(n), ":")
	if len(parts) != 4 {
		return ""
	}
	return parts[1]
}

// WithVariant returns the same name with the variant segment replaced.
func (n Name) WithVariant(variant string) Name {
	parts := strings.Split(string(n), ":")
	if len(parts) != 4 {
		return n
	}
	parts[3] = variant
	return Name(strings.Join(parts, ":"))
}

// Template is one catalog entry.
type Template struct {
	Name     Name     `json:"name"`
	Body     string   `json:"body"`
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Version  int      `json:"version"`
}

// RenderError reports a missing required variable during render.
type RenderError struct {
	Name Name
	Var  string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %s: missing required variable %q", e.Name, e.Var)
}

var varPattern = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// Render substitutes {var} placeholders from vars. Required variables must
// be present and non-empty; optional ones fall back to empty string.
// Placeholders not declared in Required or Optional are left untouched so
// literal braces survive.
func (t Template) Render(vars map[string]string) (string, error) {
	for _, required := range t.Required {
		if vars[required] == "" {
			return "", &RenderError{Name: t.Name, Var: required}
		}
	}

	declared := make(map[string]bool, len(t.Required)+len(t.Optional))
	for _, v := range t.Required {
		declared[v] = true
	}
	for _, v := range t.Optional {
		declared[v] = true
	}

	out := varPattern.ReplaceAllStringFunc(t.Body, func(match string) string {
		key := match[1 : len(match)-1]
		if !declared[key] {
			return match
		}
		return vars[key]
	})
	return collapseSpaces(out), nil
}

// collapseSpaces tidies runs of spaces left by empty optional variables.
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}
