// Package composer turns a merchant's agent settings into the system prompt
// that drives their conversational agent.
package composer

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultBusinessName = "Our Company"
	defaultLanguage     = "en"
)

// Result is a generated prompt together with the fully defaulted options it
// was built from. Composing Result.Config again yields the same Prompt.
type Result struct {
	Variant Variant `json:"variant"`
	Config  Options `json:"config"`
	Prompt  string  `json:"prompt"`
}

// section is a titled block of the prompt. Empty bodies are dropped.
type section struct {
	title string
	body  string
}

// Compose builds the system prompt for variant v. It never fails: missing
// options are defaulted and unknown enum values are normalized.
func Compose(v Variant, opts Options, biz BusinessProfile) Result {
	if v < Sales || v > Integrated {
		v = Sales
	}
	spec := &variants[v]
	cfg := Resolve(v, opts, biz)
	business := businessName(biz)

	var sections []section
	sections = append(sections,
		section{body: fmt.Sprintf("I am the %s %s for %s.", cfg.Tone, spec.assistant, business)},
		section{title: "ABOUT " + strings.ToUpper(business), body: about(spec, cfg)},
		section{title: "YOUR ROLE", body: spec.role},
		section{title: "GREETING", body: cfg.PersonalizedGreeting},
		section{title: "TONE", body: ToneInstruction(cfg.Tone)},
	)
	sections = append(sections, spec.sections...)

	fields := collectedFields(spec, cfg.AdditionalFields)
	if spec.baseFields != nil {
		sections = append(sections, section{title: "INFORMATION TO COLLECT", body: bulletList(fields)})
	}
	guidanceTitle := ""
	if spec.baseFields == nil {
		guidanceTitle = "RULES"
	}
	sections = append(sections, section{title: guidanceTitle, body: strings.Join(spec.guidance, "\n")})

	if spec.policy {
		sections = append(sections, section{title: "POLICY REFERENCE", body: policyDirective})
	}
	sections = append(sections, section{title: "FOLLOW-UP", body: followUp(spec.followUp, cfg.FollowUpType, cfg.FollowUpData)})

	for _, m := range spec.markers {
		sections = append(sections, section{title: m.title, body: markerBlock(m, fields)})
	}
	sections = append(sections, section{title: "LANGUAGE", body: languageDirective(spec, cfg.Language)})

	return Result{Variant: v, Config: cfg, Prompt: render(sections)}
}

// ComposeForProduct dispatches on a free-text product name with
// VariantForProduct, falling back to Sales silently.
func ComposeForProduct(product string, opts Options, biz BusinessProfile) Result {
	v, _ := VariantForProduct(product)
	return Compose(v, opts, biz)
}

// Resolve returns opts with every default applied and every enum
// normalized. Resolve is idempotent.
func Resolve(v Variant, opts Options, biz BusinessProfile) Options {
	if v < Sales || v > Integrated {
		v = Sales
	}
	cfg := Options{
		PersonalizedGreeting: strings.TrimSpace(opts.PersonalizedGreeting),
		Tone:                 ParseTone(string(opts.Tone)),
		Language:             strings.ToLower(strings.TrimSpace(opts.Language)),
		BusinessOverview:     strings.TrimSpace(opts.BusinessOverview),
		BusinessHours:        strings.TrimSpace(opts.BusinessHours),
		WebsiteURL:           strings.TrimSpace(opts.WebsiteURL),
		ContactPhone:         strings.TrimSpace(opts.ContactPhone),
		AdditionalFields:     CleanFields(opts.AdditionalFields),
		FollowUpType:         ParseFollowUpType(string(opts.FollowUpType)),
		FollowUpData:         strings.TrimSpace(opts.FollowUpData),
	}
	if cfg.PersonalizedGreeting == "" {
		cfg.PersonalizedGreeting = variants[v].greeting(businessName(biz))
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.BusinessOverview == "" {
		cfg.BusinessOverview = strings.TrimSpace(biz.Description)
	}
	return cfg
}

// CleanFields trims, lower-cases and de-duplicates field names, joining
// inner whitespace with underscores and dropping blanks. The result is never
// nil.
func CleanFields(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, f := range raw {
		name := strings.Join(strings.Fields(strings.ToLower(f)), "_")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func businessName(biz BusinessProfile) string {
	if name := strings.TrimSpace(biz.Name); name != "" {
		return name
	}
	return defaultBusinessName
}

func about(spec *variantSpec, cfg Options) string {
	overview := cfg.BusinessOverview
	if overview == "" {
		overview = spec.overview
	}
	lines := []string{overview}
	if cfg.BusinessHours != "" {
		lines = append(lines, spec.hoursLabel+": "+cfg.BusinessHours)
	}
	if cfg.WebsiteURL != "" {
		lines = append(lines, "Website: "+cfg.WebsiteURL)
	}
	if cfg.ContactPhone != "" {
		lines = append(lines, spec.phoneLabel+": "+cfg.ContactPhone)
	}
	return strings.Join(lines, "\n")
}

// collectedFields is the variant's base fields followed by the merchant's
// extra fields, skipping any that repeat a base or marker key.
func collectedFields(spec *variantSpec, extra []string) []string {
	if spec.baseFields == nil {
		return nil
	}
	taken := make(map[string]bool)
	for _, m := range spec.markers {
		for _, k := range m.lead {
			taken[k.name] = true
		}
	}
	fields := make([]string, 0, len(spec.baseFields)+len(extra))
	for _, f := range spec.baseFields {
		taken[f] = true
		fields = append(fields, f)
	}
	for _, f := range extra {
		if taken[f] {
			continue
		}
		taken[f] = true
		fields = append(fields, f)
	}
	return fields
}

// label turns a field key into display text: "order_number" -> "Order number".
func label(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func bulletList(fields []string) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = "• " + label(f)
	}
	return strings.Join(lines, "\n")
}

const policyDirective = `When customers ask about policies, procedures, cancellations, returns, refunds, or service terms:
- Refer to the company policies in your knowledge base
- Be clear about what the policy states
- Be empathetic if they're dissatisfied
- Escalate if the situation is complex or requires exceptions`

// followUp derives the follow-up directive. An empty result means no
// follow-up section is emitted.
func followUp(p followUpPhrasing, typ FollowUpType, data string) string {
	switch {
	case typ.IsLink():
		if data == "" {
			return ""
		}
		return fmt.Sprintf(p.link, data)
	case typ == FollowUpEmailSummary:
		return p.email
	case typ == FollowUpPhoneCall:
		return p.phone
	case typ == FollowUpCustomMessage:
		if data == "" {
			return ""
		}
		return fmt.Sprintf(p.custom, data)
	}
	return ""
}

func markerBlock(m markerSpec, fields []string) string {
	keys := append([]markerKey(nil), m.lead...)
	if m.includeFields {
		for _, f := range fields {
			ph, ok := placeholders[f]
			if !ok {
				ph = label(f)
			}
			keys = append(keys, markerKey{name: f, placeholder: ph})
		}
	}
	lines := []string{m.intro, m.kind.Prefix() + markerJSON(keys)}
	if m.after != "" {
		lines = append(lines, "", m.after)
	}
	return strings.Join(lines, "\n")
}

// markerJSON renders keys as a single-line JSON object, preserving order.
func markerJSON(keys []markerKey) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(jsonString(k.name))
		b.WriteByte(':')
		b.Write(jsonString("[" + k.placeholder + "]"))
	}
	b.WriteByte('}')
	return b.String()
}

func jsonString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func languageDirective(spec *variantSpec, lang string) string {
	if lang == defaultLanguage {
		return "Respond in English."
	}
	return fmt.Sprintf("Respond entirely in the requested language (%s). Keep %s marker keys in English.", lang, spec.keepInEnglish)
}

func render(sections []section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		if s.title == "" {
			parts = append(parts, s.body)
			continue
		}
		parts = append(parts, s.title+":\n"+s.body)
	}
	return strings.Join(parts, "\n\n")
}
