// internal/model/recipient.go
package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// Recipient is one addressee of a campaign send. Fields holds any extra
// personalization values keyed by snake_case name.
type Recipient struct {
	Email     string            `json:"email"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Value returns the personalization value for key, or "" when absent.
func (r Recipient) Value(key string) string {
	switch key {
	case "email":
		return r.Email
	case "first_name":
		return r.FirstName
	case "last_name":
		return r.LastName
	}
	if v, ok := r.Fields[key]; ok {
		return v
	}
	if key == "full_name" {
		return strings.TrimSpace(r.FirstName + " " + r.LastName)
	}
	return ""
}

// UnmarshalJSON accepts both snake_case and camelCase keys and folds every
// other scalar value into Fields.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Recipient{}
	for k, v := range raw {
		key := snakeCase(k)
		if key == "fields" {
			if m, ok := v.(map[string]any); ok {
				for fk, fv := range m {
					r.Set(snakeCase(fk), fv)
				}
			}
			continue
		}
		r.Set(key, v)
	}
	return nil
}

// Set assigns a scalar value (string, number or bool) to key. Other values
// are ignored.
func (r *Recipient) Set(key string, v any) {
	s, ok := scalarString(v)
	if !ok {
		return
	}
	switch key {
	case "email":
		r.Email = strings.TrimSpace(s)
	case "first_name":
		r.FirstName = s
	case "last_name":
		r.LastName = s
	default:
		if r.Fields == nil {
			r.Fields = make(map[string]string)
		}
		r.Fields[key] = s
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// snakeCase turns firstName into first_name and customField1 into
// custom_field_1; keys that already contain an underscore are only lowercased.
func snakeCase(s string) string {
	if strings.Contains(s, "_") {
		return strings.ToLower(s)
	}
	var b strings.Builder
	var prev rune
	for i, r := range s {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsDigit(r) && unicode.IsLetter(prev):
			b.WriteByte('_')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}
