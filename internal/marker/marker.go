// Package marker finds the structured-data markers a conversational agent
// appends to its replies once a lead or support ticket is complete.
package marker

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// LeadPrefix introduces a captured lead.
	LeadPrefix = "LEAD_DATA:"
	// TicketPrefix introduces a support ticket.
	TicketPrefix = "SUPPORT_TICKET:"
)

// Kind identifies what a marker carries.
type Kind string

const (
	KindLead   Kind = "lead"
	KindTicket Kind = "support_ticket"
)

// Prefix returns the literal token for k.
func (k Kind) Prefix() string {
	if k == KindTicket {
		return TicketPrefix
	}
	return LeadPrefix
}

// Marker is one marker found in agent output.
type Marker struct {
	Kind   Kind              `json:"kind"`
	Raw    string            `json:"raw"`
	Fields map[string]string `json:"fields,omitempty"`
	Err    error             `json:"-"`
}

// Extract scans text line by line and returns every marker in order of
// appearance. Text after the prefix up to the end of the line is decoded as
// a flat JSON object. A marker whose JSON does not decode is still returned
// with Err set. No markers means the conversation is still in progress and
// Extract returns nil.
func Extract(text string) []Marker {
	var out []Marker
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		kind, rest, ok := locate(line)
		if !ok {
			continue
		}
		m := Marker{Kind: kind, Raw: strings.TrimSpace(rest)}
		m.Fields, m.Err = decode(m.Raw)
		out = append(out, m)
	}
	return out
}

// First returns the first well-formed marker of the given kind.
func First(text string, kind Kind) (Marker, bool) {
	for _, m := range Extract(text) {
		if m.Kind == kind && m.Err == nil {
			return m, true
		}
	}
	return Marker{}, false
}

// locate finds the earliest marker prefix on a line.
func locate(line string) (Kind, string, bool) {
	li := strings.Index(line, LeadPrefix)
	ti := strings.Index(line, TicketPrefix)
	switch {
	case li < 0 && ti < 0:
		return "", "", false
	case ti < 0 || (li >= 0 && li < ti):
		return KindLead, line[li+len(LeadPrefix):], true
	default:
		return KindTicket, line[ti+len(TicketPrefix):], true
	}
}

func decode(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty marker payload")
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("decoding marker payload: %w", err)
	}
	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case nil:
			fields[k] = ""
		default:
			b, _ := json.Marshal(val)
			fields[k] = string(b)
		}
	}
	return fields, nil
}
