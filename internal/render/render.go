// Package render substitutes {{variable}} placeholders in email content.
package render

import (
	"regexp"
	"strings"

	"github.com/itemize-cloud/campaign-engine/internal/domain"
)

// Variable names.
const (
	VarFirstName = "first_name"
	VarLastName  = "last_name"
	VarEmail     = "email"
	VarFullName  = "full_name"
	VarCompany   = "company"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Vars maps a lower-case variable name to its value.
type Vars map[string]string

// Render replaces every {{name}} token whose name (case-insensitive) is in
// vars. Unknown tokens are left untouched. Values are inserted as-is.
func Render(text string, vars Vars) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}

	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		match := tokenPattern.FindStringSubmatch(token)
		if len(match) < 2 {
			return token
		}
		value, ok := vars[strings.ToLower(match[1])]
		if !ok {
			return token
		}
		return value
	})
}

// RenderEmail personalizes subject and bodies.
func RenderEmail(content domain.EmailContent, vars Vars) domain.EmailContent {
	return domain.EmailContent{
		Subject: Render(content.Subject, vars),
		HTML:    Render(content.HTML, vars),
		Text:    Render(content.Text, vars),
	}
}

// LiveVariables are the values used for a real recipient.
func LiveVariables(r *domain.CampaignRecipient) Vars {
	if r == nil {
		return Vars{}
	}
	return Vars{
		VarFirstName: r.FirstName,
		VarLastName:  r.LastName,
		VarEmail:     r.Email,
		VarFullName:  r.FullName(),
	}
}

// TestVariables are the sample values used for a test send to address.
func TestVariables(address string) Vars {
	return Vars{
		VarFirstName: "Test",
		VarLastName:  "User",
		VarEmail:     address,
		VarFullName:  "Test User",
		VarCompany:   "Test Company",
	}
}
