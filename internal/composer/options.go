package composer

import (
	"fmt"
	"strings"
)

// Variant selects which agent behavior a prompt is built for.
type Variant int

const (
	Sales Variant = iota
	Service
	Integrated
)

var variantNames = [...]string{
	Sales:      "sales",
	Service:    "service",
	Integrated: "integrated",
}

func (v Variant) String() string {
	if v < Sales || v > Integrated {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

// MarshalText encodes the variant by name.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText accepts the exact variant names, case-insensitively.
func (v *Variant) UnmarshalText(b []byte) error {
	parsed, err := ParseVariant(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseVariant parses an exact variant name ("sales", "service",
// "integrated"). Unlike VariantForProduct it does not guess.
func ParseVariant(s string) (Variant, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range variantNames {
		if n == name {
			return Variant(i), nil
		}
	}
	return Sales, fmt.Errorf("unknown variant %q", s)
}

// VariantForProduct maps a free-text product name or id to a Variant by
// case-insensitive substring match, checked in the order sales, service,
// integrated. The boolean is false when nothing matched and the Sales
// fallback was used.
func VariantForProduct(product string) (Variant, bool) {
	name := strings.ToLower(product)
	switch {
	case strings.Contains(name, "sales"):
		return Sales, true
	case strings.Contains(name, "service"):
		return Service, true
	case strings.Contains(name, "integrated"):
		return Integrated, true
	}
	return Sales, false
}

// Tone is the voice the agent is instructed to use.
type Tone string

const (
	ToneFriendly   Tone = "friendly"
	ToneFormal     Tone = "formal"
	ToneCasual     Tone = "casual"
	ToneEmpathetic Tone = "empathetic"
	TonePersuasive Tone = "persuasive"
	ToneTechnical  Tone = "technical"
)

// Tones lists every supported tone in display order.
var Tones = []Tone{ToneFriendly, ToneFormal, ToneCasual, ToneEmpathetic, TonePersuasive, ToneTechnical}

// ParseTone normalizes s to a known Tone. Unknown or empty values become
// ToneFriendly.
func ParseTone(s string) Tone {
	t := Tone(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tones {
		if t == known {
			return t
		}
	}
	return ToneFriendly
}

// FollowUpType is the concluding action the agent offers.
type FollowUpType string

const (
	FollowUpEmailSummary   FollowUpType = "email_summary"
	FollowUpCalendlyLink   FollowUpType = "calendly_link"
	FollowUpBookingForm    FollowUpType = "booking_form"
	FollowUpPhoneCall      FollowUpType = "phone_call"
	FollowUpGoogleMeets    FollowUpType = "google_meets"
	FollowUpZoomLink       FollowUpType = "zoom_link"
	FollowUpMicrosoftTeams FollowUpType = "microsoft_teams"
	FollowUpCustomMessage  FollowUpType = "custom_message"
)

// FollowUpTypes lists every supported follow-up type.
var FollowUpTypes = []FollowUpType{
	FollowUpEmailSummary,
	FollowUpCalendlyLink,
	FollowUpBookingForm,
	FollowUpPhoneCall,
	FollowUpGoogleMeets,
	FollowUpZoomLink,
	FollowUpMicrosoftTeams,
	FollowUpCustomMessage,
}

// ParseFollowUpType normalizes s to a known FollowUpType. Unknown or empty
// values become FollowUpEmailSummary.
func ParseFollowUpType(s string) FollowUpType {
	f := FollowUpType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range FollowUpTypes {
		if f == known {
			return f
		}
	}
	return FollowUpEmailSummary
}

// IsLink reports whether the follow-up is delivered as a URL the visitor
// clicks.
func (f FollowUpType) IsLink() bool {
	switch f {
	case FollowUpCalendlyLink, FollowUpBookingForm, FollowUpGoogleMeets, FollowUpZoomLink, FollowUpMicrosoftTeams:
		return true
	}
	return false
}

// Options are the merchant's agent settings. Every field is optional;
// Resolve fills in defaults.
type Options struct {
	PersonalizedGreeting string       `json:"personalized_greeting,omitempty"`
	Tone                 Tone         `json:"tone,omitempty"`
	Language             string       `json:"language,omitempty"`
	BusinessOverview     string       `json:"business_overview,omitempty"`
	BusinessHours        string       `json:"business_hours,omitempty"`
	WebsiteURL           string       `json:"website_url,omitempty"`
	ContactPhone         string       `json:"contact_phone,omitempty"`
	AdditionalFields     []string     `json:"additional_fields"`
	FollowUpType         FollowUpType `json:"follow_up_type,omitempty"`
	FollowUpData         string       `json:"follow_up_data,omitempty"`
}

// BusinessProfile supplies fallbacks for Options fields the merchant left
// empty.
type BusinessProfile struct {
	Name        string `json:"business_name,omitempty"`
	Email       string `json:"business_email,omitempty"`
	Description string `json:"business_description,omitempty"`
}

// SplitFields splits a comma-separated field list as typed into a form.
// Cleaning happens in Resolve.
func SplitFields(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}
