package emailhtml

import (
	"regexp"
	"strings"
)

type declaration struct {
	prop  string
	value string
}

// parseStyle splits an inline style attribute into declarations. Semicolons
// inside parentheses or quotes (url(data:...;base64,...)) do not split.
func parseStyle(s string) []declaration {
	var (
		out   []declaration
		depth int
		quote rune
		start int
	)
	flush := func(end int) {
		part := s[start:end]
		start = end + 1
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			return
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(value)
		if prop == "" || value == "" {
			return
		}
		out = append(out, declaration{prop: prop, value: value})
	}
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ';' && depth == 0:
			flush(i)
		}
	}
	flush(len(s))
	return out
}

func formatStyle(decls []declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.prop+": "+d.value)
	}
	return strings.Join(parts, "; ")
}

// lookup returns the value of the last declaration of prop, as browsers do.
func lookup(decls []declaration, prop string) (string, bool) {
	for i := len(decls) - 1; i >= 0; i-- {
		if decls[i].prop == prop {
			return decls[i].value, true
		}
	}
	return "", false
}

var importantRe = regexp.MustCompile(`(?i)\s*!\s*important`)

func stripImportant(v string) string {
	return strings.TrimSpace(importantRe.ReplaceAllString(v, ""))
}

func important(prop, value string) declaration {
	return declaration{prop: prop, value: value + " !important"}
}
