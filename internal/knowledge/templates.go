package knowledge

import (
	"embed"
	"fmt"
)

//go:embed templates/*.md
var templatesFS embed.FS

// PolicyTemplate is a starter policy a merchant can edit.
type PolicyTemplate struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

var policyTemplates = []PolicyTemplate{
	{"ecommerce", "E-Commerce Service Policy"},
	{"healthcare_appointment", "Appointment & Cancellation Policy (Healthcare)"},
	{"spa_salon", "Spa/Salon Appointment Policy"},
	{"home_repair", "Home Repair Services Policy"},
	{"golf_club", "Golf Club Booking Policy"},
	{"hotel", "Hotel Reservation & Cancellation"},
	{"restaurant", "Restaurant Reservation Policy"},
	{"professional_services", "Professional Services Contract Policy"},
	{"saas", "SaaS Subscription & Cancellation"},
}

// DefaultDocName names a policy saved without a template.
const DefaultDocName = "customer_service_policy"

// Templates lists the built-in policy templates.
func Templates() []PolicyTemplate {
	out := make([]PolicyTemplate, len(policyTemplates))
	copy(out, policyTemplates)
	return out
}

// IsTemplate reports whether name is a built-in template.
func IsTemplate(name string) bool {
	for _, t := range policyTemplates {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Template returns the Markdown body of a built-in template.
func Template(name string) (string, error) {
	if !IsTemplate(name) {
		return "", fmt.Errorf("unknown policy template %q", name)
	}
	b, err := templatesFS.ReadFile("templates/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("reading policy template %q: %w", name, err)
	}
	return string(b), nil
}
