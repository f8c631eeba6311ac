// Package template renders subject and HTML templates with {identifier} placeholders.
//
// A placeholder is '{' followed by one or more of [A-Za-z0-9_] and '}'.
// "{{" renders a literal '{' and "}}" a literal '}'. Any other brace is kept as is.
// Substituted values are written verbatim and never scanned again.
package template

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// ErrMissingVariable is matched by every *MissingVariableError.
var ErrMissingVariable = errors.New("missing template variable")

// MissingVariableError reports a placeholder without a value in the render data.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing required variable %q", e.Name)
}

// Is makes errors.Is(err, ErrMissingVariable) hold.
func (e *MissingVariableError) Is(target error) bool {
	return target == ErrMissingVariable
}

// ExtractVariables returns the distinct placeholder names in text, sorted.
func ExtractVariables(text string) []string {
	seen := make(map[string]struct{})
	walk(text, func(string) {}, func(name string) {
		seen[name] = struct{}{}
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Render substitutes every placeholder in text with its value from data.
// The first placeholder without a key in data yields *MissingVariableError;
// an empty value is a valid value.
func Render(text string, data map[string]string) (string, error) {
	var (
		out     = make([]byte, 0, len(text))
		missing string
	)
	walk(text, func(lit string) {
		out = append(out, lit...)
	}, func(name string) {
		value, ok := data[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return
		}
		out = append(out, value...)
	})

	if missing != "" {
		return "", &MissingVariableError{Name: missing}
	}
	return string(out), nil
}

// Missing returns the placeholder names in text that have no key in data, sorted.
func Missing(text string, data map[string]string) []string {
	var names []string
	for _, name := range ExtractVariables(text) {
		if _, ok := data[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

// walk splits text into literal runs and placeholder names, in order.
func walk(text string, literal, placeholder func(string)) {
	start := 0
	flush := func(end int) {
		if end > start {
			literal(text[start:end])
		}
	}

	for i := 0; i < len(text); {
		switch text[i] {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				flush(i)
				literal("{")
				i += 2
				start = i
				continue
			}
			j := i + 1
			for j < len(text) && isIdent(text[j]) {
				j++
			}
			if j > i+1 && j < len(text) && text[j] == '}' {
				flush(i)
				placeholder(text[i+1 : j])
				i = j + 1
				start = i
				continue
			}
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				flush(i)
				literal("}")
				i += 2
				start = i
				continue
			}
		}
		i++
	}
	flush(len(text))
}

func isIdent(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}
