// Package schema defines the shared data contracts of the agent builder:
// the fixed profile field set collected by the slot-filling engine, the
// extraction record that accumulates field values across builder turns, and
// the conversation transcript exchanged with the caller on every turn.
// All types are plain values — serializable, caller-owned, no hidden state.
package schema

import (
	"fmt"
	"strings"
)

// Field names the profile attributes a sales agent is built from.
type Field string

// The fixed, ordered profile schema. Order doubles as the ask-next priority:
// company identity first, persona and strategy after, greeting last.
const (
	FieldCompanyName        Field = "company_name"
	FieldCompanyDescription Field = "company_description"
	FieldAgentName          Field = "agent_name"
	FieldIndustry           Field = "industry"
	FieldTargetAudience     Field = "target_audience"
	FieldSellingPoints      Field = "unique_selling_points"
	FieldTone               Field = "tone"
	FieldLanguage           Field = "language"
	FieldSalesStrategy      Field = "sales_strategy"
	FieldGreeting           Field = "greeting_message"
)

// Fields is the canonical field ordering. The slice is append-only; the
// extraction engine, validation, and the ask-next policy all iterate it in
// this order so the builder never asks the same field twice and always asks
// blocking fields (company identity) before dependent ones (tone, strategy).
var Fields = []Field{
	FieldCompanyName,
	FieldCompanyDescription,
	FieldAgentName,
	FieldIndustry,
	FieldTargetAudience,
	FieldSellingPoints,
	FieldTone,
	FieldLanguage,
	FieldSalesStrategy,
	FieldGreeting,
}

// fieldHints describes each field to the completion service during
// structured extraction. Kept terse — these end up inside the prompt.
var fieldHints = map[Field]string{
	FieldCompanyName:        "the business name, e.g. \"Bean Dreams\"",
	FieldCompanyDescription: "one or two sentences describing what the business does",
	FieldAgentName:          "the name the sales assistant should introduce itself with",
	FieldIndustry:           "the business vertical, e.g. \"Food & Beverage\", \"Software\"",
	FieldTargetAudience:     "who the business sells to, e.g. \"young professionals\"",
	FieldSellingPoints:      "what makes the business stand out from competitors",
	FieldTone:               "conversation style: friendly, professional, casual, ...",
	FieldLanguage:           "primary conversation language, e.g. \"en\", \"es\"",
	FieldSalesStrategy:      "sales approach, e.g. \"consultative\", \"direct\"",
	FieldGreeting:           "the first message customers see when they open a chat",
}

// Hint returns the prompt description for f, or an empty string for an
// unknown field.
func Hint(f Field) string { return fieldHints[f] }

// IsKnownField reports whether name is part of the profile schema.
func IsKnownField(name string) bool {
	_, ok := fieldHints[Field(name)]
	return ok
}

// ExtractionRecord maps profile fields to the values extracted so far.
// A missing key and an empty value both mean "not yet known". The record is
// caller-owned and passed back in on every builder turn — the engine itself
// holds no session state.
type ExtractionRecord map[Field]string

// NewExtractionRecord returns an empty record.
func NewExtractionRecord() ExtractionRecord {
	return make(ExtractionRecord, len(Fields))
}

// Get returns the trimmed value for f, or an empty string when unset.
func (r ExtractionRecord) Get(f Field) string {
	return strings.TrimSpace(r[f])
}

// Merge folds newly extracted values into the record and returns the number
// of fields that changed. An empty or whitespace-only value never replaces
// an existing non-empty one; a non-empty value may refine an earlier answer.
// Unknown field names are dropped rather than stored.
func (r ExtractionRecord) Merge(updates map[string]string) int {
	changed := 0
	for name, value := range updates {
		f := Field(name)
		if !IsKnownField(name) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if r[f] != value {
			r[f] = value
			changed++
		}
	}
	return changed
}

// Missing returns the unset fields in canonical order.
func (r ExtractionRecord) Missing() []Field {
	var out []Field
	for _, f := range Fields {
		if r.Get(f) == "" {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every field holds a non-empty value.
func (r ExtractionRecord) Complete() bool { return len(r.Missing()) == 0 }

// Clone returns an independent copy of the record.
func (r ExtractionRecord) Clone() ExtractionRecord {
	out := make(ExtractionRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser is a turn written by the human operator or customer.
	RoleUser Role = "user"
	// RoleAssistant is a turn produced by the engine.
	RoleAssistant Role = "assistant"
)

// ConversationTurn is a single (role, text) pair.
type ConversationTurn struct {
	// Role is the author of the turn.
	Role Role `json:"role"`
	// Text is the message content.
	Text string `json:"text"`
}

// Transcript is the append-only ordered turn sequence for one session.
// The builder owns it for the lifetime of a builder conversation and hands
// it back to the caller on every turn; it is never persisted by the core.
type Transcript []ConversationTurn

// Append returns the transcript with one more turn. The receiver is not
// mutated, so callers can safely retain the previous value.
func (t Transcript) Append(role Role, text string) Transcript {
	out := make(Transcript, len(t), len(t)+1)
	copy(out, t)
	return append(out, ConversationTurn{Role: role, Text: text})
}

// ValidationError reports malformed caller input: an empty agent id, a blank
// query, an unknown field name. It is surfaced immediately and never retried.
type ValidationError struct {
	// Field names the offending input.
	Field string
	// Reason describes what was wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: invalid %s: %s", e.Field, e.Reason)
}

// ValidateAgentID rejects empty or unreasonably long agent identifiers.
func ValidateAgentID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if len(id) > 128 {
		return &ValidationError{Field: "agent_id", Reason: "exceeds 128 characters"}
	}
	return nil
}

// ValidateMessage rejects empty user messages.
func ValidateMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	return nil
}
