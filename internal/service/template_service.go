// internal/service/template_service.go
package service

import (
	"html"
	"regexp"
	"strings"

	"github.com/unclebandit/campaign-mailer/internal/model"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// defaultFallbacks is used when a recipient has no value for a known
// variable. An empty fallback still replaces the placeholder.
var defaultFallbacks = map[string]string{
	"first_name":     "there",
	"last_name":      "",
	"full_name":      "valued customer",
	"email":          "",
	"phone":          "",
	"company":        "your company",
	"job_title":      "",
	"industry":       "",
	"city":           "",
	"state":          "",
	"country":        "",
	"zip_code":       "",
	"created_at":     "",
	"last_contacted": "",
	"member_type":    "member",
	"status":         "",
	"custom_field_1": "",
	"custom_field_2": "",
	"custom_field_3": "",
}

// RenderTemplate replaces every {{name}} in template with the recipient's
// value, then the fallback, and leaves unknown placeholders untouched.
func RenderTemplate(template string, r model.Recipient) string {
	return render(template, r, func(s string) string { return s })
}

// RenderHTMLTemplate is RenderTemplate for markup: substituted values are
// escaped so contact data cannot inject elements.
func RenderHTMLTemplate(template string, r model.Recipient) string {
	return render(template, r, html.EscapeString)
}

func render(template string, r model.Recipient, escape func(string) string) string {
	if !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if v := r.Value(name); v != "" {
			return escape(v)
		}
		if v, ok := defaultFallbacks[name]; ok {
			return escape(v)
		}
		return match
	})
}

// ExtractVariables lists placeholder names in order of appearance,
// duplicates included.
func ExtractVariables(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSpace(m[1]))
	}
	return names
}

type VariableValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

var (
	nestedPattern = regexp.MustCompile(`\{\{[^}]*\{\{`)
	emptyPattern  = regexp.MustCompile(`\{\{\s*\}\}`)
)

// ValidateVariables reports syntax problems an author should fix before
// sending. It never blocks a send.
func ValidateVariables(text string) VariableValidation {
	errs := []string{}
	if strings.Count(text, "{{") != strings.Count(text, "}}") {
		errs = append(errs, "Unclosed variable tags found. Make sure all {{variables}} are properly closed.")
	}
	if nestedPattern.MatchString(text) {
		errs = append(errs, "Nested variables are not supported.")
	}
	if emptyPattern.MatchString(text) {
		errs = append(errs, "Empty variable tags found. Variables must have a name: {{field_name}}")
	}
	return VariableValidation{Valid: len(errs) == 0, Errors: errs}
}

type Variable struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

func AvailableVariables() []Variable {
	return []Variable{
		{"first_name", "First Name", "Contact Info"},
		{"last_name", "Last Name", "Contact Info"},
		{"full_name", "Full Name", "Contact Info"},
		{"email", "Email", "Contact Info"},
		{"phone", "Phone", "Contact Info"},
		{"company", "Company", "Organization"},
		{"job_title", "Job Title", "Organization"},
		{"industry", "Industry", "Organization"},
		{"city", "City", "Location"},
		{"state", "State", "Location"},
		{"country", "Country", "Location"},
		{"zip_code", "Zip Code", "Location"},
		{"created_at", "Signup Date", "Dates & Status"},
		{"last_contacted", "Last Contacted", "Dates & Status"},
		{"member_type", "Member Type", "Dates & Status"},
		{"status", "Status", "Dates & Status"},
		{"custom_field_1", "Custom Field 1", "Custom Fields"},
		{"custom_field_2", "Custom Field 2", "Custom Fields"},
		{"custom_field_3", "Custom Field 3", "Custom Fields"},
	}
}

// PreviewContact is the sample record used when previewing without a
// real recipient.
func PreviewContact() model.Recipient {
	return model.Recipient{
		Email:     "john.doe@example.com",
		FirstName: "John",
		LastName:  "Doe",
		Fields: map[string]string{
			"full_name":      "John Doe",
			"phone":          "+1 555-0123",
			"company":        "Acme Corporation",
			"job_title":      "Marketing Manager",
			"industry":       "Technology",
			"city":           "San Francisco",
			"state":          "California",
			"country":        "United States",
			"zip_code":       "94102",
			"created_at":     "January 15, 2024",
			"last_contacted": "February 20, 2024",
			"member_type":    "Premium",
			"status":         "Active",
			"custom_field_1": "Custom Value 1",
			"custom_field_2": "Custom Value 2",
			"custom_field_3": "Custom Value 3",
		},
	}
}
