package composer

import (
	"fmt"

	"github.com/kalambet/agentdesk/internal/marker"
)

// VendorName is never to be mentioned by a merchant's agent.
const VendorName = "Monumentum"

// markerKey is one key of a marker's example JSON object.
type markerKey struct {
	name        string
	placeholder string
}

// markerSpec describes one completion marker section.
type markerSpec struct {
	title string
	intro string
	kind  marker.Kind
	// lead keys precede the collected fields in the example object.
	lead          []markerKey
	includeFields bool
	after         string
}

// followUpPhrasing holds a variant's wording for each follow-up directive.
// link and custom are format strings taking the follow-up data.
type followUpPhrasing struct {
	link   string
	email  string
	phone  string
	custom string
}

// variantSpec is everything that differs between the three agent variants.
type variantSpec struct {
	assistant  string
	role       string
	greeting   func(business string) string
	overview   string
	hoursLabel string
	phoneLabel string
	// baseFields is nil when the variant does not enumerate fields.
	baseFields []string
	guidance   []string
	policy     bool
	// sections are fixed titled blocks placed after the tone directive.
	sections []section
	followUp followUpPhrasing
	markers  []markerSpec
	// keepInEnglish names the marker keys the language directive protects.
	keepInEnglish string
}

var noMention = fmt.Sprintf("Never mention AI, automation, or %s.", VendorName)

var variants = [...]variantSpec{
	Sales: {
		assistant: "sales assistant",
		role:      "Greet visitors warmly and help them learn about our services. Collect information to help us assist them better.",
		greeting: func(business string) string {
			return fmt.Sprintf("Hi! Thanks for reaching out to %s.", business)
		},
		overview:   "We provide excellent products and services.",
		hoursLabel: "Business Hours",
		phoneLabel: "Phone",
		baseFields: []string{"name", "email"},
		guidance: []string{
			"Only ask for information naturally in conversation, one or two items at a time.",
			"Never ask again for information the visitor has already provided.",
			noMention,
			"Keep responses SHORT (2-3 sentences max).",
		},
		followUp: followUpPhrasing{
			link:   "When you have all information, share this link as the next step:\n%s\n\nTell them they can click it to proceed.",
			email:  "When you have all information, confirm their email and let them know we'll follow up shortly.",
			phone:  "When you have all information, confirm their phone number and let them know someone will call them soon.",
			custom: "When you have all information, share this message:\n%s",
		},
		markers: []markerSpec{{
			title:         "LEAD MARKER",
			intro:         "When you have collected ALL REQUIRED information (name, email, and any additional fields), end with:",
			kind:          marker.KindLead,
			includeFields: true,
			after:         "After providing the LEAD_DATA marker, gracefully end the conversation. Do not ask for anything else.",
		}},
		keepInEnglish: "LEAD_DATA",
	},
	Service: {
		assistant: "customer support assistant",
		role:      "Provide helpful, empathetic support. Resolve issues or escalate appropriately. Refer to company policies in your knowledge base when responding to questions about procedures, cancellations, returns, and policies.",
		greeting: func(string) string {
			return "Hi! How can we help you today?"
		},
		overview:   "We provide excellent customer support.",
		hoursLabel: "Support Hours",
		phoneLabel: "Support Phone",
		baseFields: []string{"issue_description", "order_number", "contact_preference"},
		guidance: []string{
			"Ask naturally and conversationally. Collect what's needed to help them efficiently.",
			"Never ask again for information the customer has already provided.",
			noMention,
			"Keep responses clear and concise.",
		},
		policy: true,
		followUp: followUpPhrasing{
			link:   "If appropriate, offer to schedule a call using this link:\n%s\n\nTell them they can click it to proceed.",
			email:  "Confirm their email so we can send a summary of our conversation.",
			phone:  "Offer to have someone call them for urgent issues. Confirm their phone number.",
			custom: "Before closing, share this message:\n%s",
		},
		markers: []markerSpec{{
			title: "SUPPORT TICKET MARKER",
			intro: "When you have key information and are ready to escalate or log the ticket, end with:",
			kind:  marker.KindTicket,
			lead: []markerKey{
				{"issue", "Brief Issue Description"},
				{"issue_type", "technical/billing/shipping/other"},
			},
			includeFields: true,
			after:         "After providing the SUPPORT_TICKET marker, let them know we're looking into their issue and will follow up.",
		}},
		keepInEnglish: "SUPPORT_TICKET",
	},
	Integrated: {
		assistant: "assistant",
		role:      "Help both new prospects and existing customers. For prospects: collect lead information. For customers: provide support and refer to policies in your knowledge base.",
		greeting: func(business string) string {
			return fmt.Sprintf("Hi! Welcome to %s. How can I help you today?", business)
		},
		overview:   "We provide excellent products and services.",
		hoursLabel: "Hours",
		phoneLabel: "Phone",
		guidance: []string{
			noMention,
			"Keep responses concise and helpful.",
		},
		sections: []section{
			{"FOR NEW PROSPECTS", "- Greet them warmly\n" +
				"- Learn about their needs\n" +
				"- Collect: name, email, and relevant information\n" +
				"- When all info collected, provide the LEAD_DATA marker\n" +
				"- Do not ask for more information after providing LEAD_DATA"},
			{"FOR EXISTING CUSTOMERS", "- Greet them professionally\n" +
				"- Listen to their support needs\n" +
				"- Collect issue details and contact information\n" +
				"- Refer to company policies in your knowledge base for policy questions\n" +
				"- When ready to create a support ticket, provide the SUPPORT_TICKET marker\n" +
				"- Continue assisting until the issue is resolved or escalated"},
		},
		followUp: followUpPhrasing{
			link:   "Once a prospect's details are collected, share this link as the next step:\n%s\n\nTell them they can click it to proceed.",
			email:  "Before closing, confirm their email so we can follow up.",
			phone:  "Before closing, confirm their phone number so someone can call them.",
			custom: "Before closing, share this message:\n%s",
		},
		markers: []markerSpec{
			{
				title: "PROSPECT MARKER",
				intro: "For prospects (use when you have name, email, and needed info):",
				kind:  marker.KindLead,
				lead: []markerKey{
					{"name", "Full Name"},
					{"email", "Email"},
					{"details", "Key Information"},
				},
			},
			{
				title: "SUPPORT MARKER",
				intro: "For support issues (use when you have issue details):",
				kind:  marker.KindTicket,
				lead: []markerKey{
					{"issue", "Brief Description"},
					{"issue_type", "technical/billing/shipping/other"},
					{"priority", "normal/urgent"},
				},
			},
		},
		keepInEnglish: "LEAD_DATA and SUPPORT_TICKET",
	},
}

var toneInstructions = map[Tone]string{
	ToneFriendly:   "Be warm, conversational, and approachable.",
	ToneFormal:     "Use polite, complete sentences and a professional tone.",
	ToneCasual:     "Write like texting a colleague: short, relaxed sentences.",
	ToneEmpathetic: "Show understanding and compassion before giving advice.",
	TonePersuasive: "Use confident, positive language and emphasize benefits.",
	ToneTechnical:  "Be clear and precise, avoiding unnecessary small talk.",
}

// ToneInstruction returns the directive sentence for t.
func ToneInstruction(t Tone) string {
	if s, ok := toneInstructions[t]; ok {
		return s
	}
	return toneInstructions[ToneFriendly]
}

// placeholders overrides the display label used inside marker examples.
var placeholders = map[string]string{
	"name": "Full Name",
}
