// Package builder implements the slot-filling dialogue engine that walks an
// operator through describing their business until every profile field is
// filled. The engine is stateless per turn: the caller passes in the current
// extraction record and transcript and receives the updated versions back,
// together with the assistant's reply and a completion flag.
package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	eschema "github.com/cloudwego/eino/schema"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/budget"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/llm"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// degradedReply is returned when the completion service fails twice in a row.
// The record is left untouched so a broken turn never corrupts progress.
const degradedReply = "I didn't quite catch that — could you rephrase? " +
	"I'm still collecting the details of your business."

// Turn is the outcome of one builder conversation turn.
type Turn struct {
	// Record is the updated extraction record. It is a fresh copy — the
	// caller's input record is never mutated.
	Record schema.ExtractionRecord `json:"record"`

	// Reply is the assistant's next message to the operator.
	Reply string `json:"reply"`

	// Transcript is the conversation including this turn's user message and
	// the assistant reply.
	Transcript schema.Transcript `json:"transcript"`

	// Complete is true only when every profile field is non-empty and either
	// the model signaled readiness or the operator explicitly confirmed.
	Complete bool `json:"complete"`
}

// Engine drives builder conversations. Safe for concurrent use; all session
// state lives in the caller-supplied record and transcript.
type Engine struct {
	// completer is the completion service used for structured extraction.
	completer llm.Completer

	// maxContextTokens bounds the prompt size; older transcript turns are
	// dropped first when the budget is exceeded.
	maxContextTokens int
}

// New constructs a builder Engine. maxContextTokens of 0 selects the
// package default.
func New(completer llm.Completer, maxContextTokens int) (*Engine, error) {
	if completer == nil {
		return nil, fmt.Errorf("builder: completer must not be nil")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Engine{completer: completer, maxContextTokens: maxContextTokens}, nil
}

// turnPayload is the structured output contract the model must honour: the
// fields it could infer from the new message, its natural-language reply, and
// an explicit finalize signal.
type turnPayload struct {
	Fields   map[string]string `json:"fields"`
	Reply    string            `json:"reply"`
	Finalize bool              `json:"finalize"`
}

// Step runs one builder turn: extract any field values from the message,
// merge them into the record, and produce the next question (or a
// confirmation request once everything is filled).
//
// A completion-service failure is retried once with a stricter format
// instruction; if that also fails, Step returns a degraded reply with the
// record unchanged and Complete forced false rather than an error.
func (e *Engine) Step(ctx context.Context, record schema.ExtractionRecord, transcript schema.Transcript, message string) (*Turn, error) {
	if err := schema.ValidateMessage(message); err != nil {
		return nil, err
	}
	if record == nil {
		record = schema.NewExtractionRecord()
	}
	log := logging.FromContext(ctx)

	raw, err := e.complete(ctx, record, transcript, message, false)
	var payload turnPayload
	if err == nil {
		err = llm.DecodeJSON(raw, &payload)
	}
	if err != nil {
		log.Warn("builder: first extraction attempt failed, retrying stricter",
			slog.String("error", err.Error()))
		raw, err = e.complete(ctx, record, transcript, message, true)
		if err == nil {
			err = llm.DecodeJSON(raw, &payload)
		}
	}
	if err != nil {
		log.Error("builder: extraction failed twice, degrading",
			slog.String("error", err.Error()))
		return &Turn{
			Record:     record.Clone(),
			Reply:      degradedReply,
			Transcript: transcript.Append(schema.RoleUser, message).Append(schema.RoleAssistant, degradedReply),
			Complete:   false,
		}, nil
	}

	updated := record.Clone()
	if n := updated.Merge(payload.Fields); n > 0 {
		log.Debug("builder: merged extracted fields", slog.Int("changed", n))
	}

	reply := strings.TrimSpace(payload.Reply)
	if reply == "" {
		reply = e.fallbackReply(updated)
	}

	// Completion needs both a full record and a finalize signal. An operator
	// explicitly confirming after the record is full counts as that signal
	// even if the model hedged.
	complete := updated.Complete() && (payload.Finalize || isAffirmative(message))

	return &Turn{
		Record:     updated,
		Reply:      reply,
		Transcript: transcript.Append(schema.RoleUser, message).Append(schema.RoleAssistant, reply),
		Complete:   complete,
	}, nil
}

// complete issues the structured-extraction request. strict appends the
// "valid JSON only" reinforcement used on the retry attempt.
func (e *Engine) complete(ctx context.Context, record schema.ExtractionRecord, transcript schema.Transcript, message string, strict bool) (string, error) {
	system := e.systemPrompt(record, strict)

	fixed := []*eschema.Message{
		eschema.SystemMessage(system),
		eschema.UserMessage(message),
	}
	history := make([]*eschema.Message, 0, len(transcript))
	for _, turn := range transcript {
		switch turn.Role {
		case schema.RoleAssistant:
			history = append(history, eschema.AssistantMessage(turn.Text, nil))
		default:
			history = append(history, eschema.UserMessage(turn.Text))
		}
	}
	history = budget.TrimHistory(fixed, history, e.maxContextTokens)

	msgs := make([]*eschema.Message, 0, len(history)+2)
	msgs = append(msgs, eschema.SystemMessage(system))
	msgs = append(msgs, history...)
	msgs = append(msgs, eschema.UserMessage(message))

	return e.completer.Complete(ctx, msgs)
}

// systemPrompt renders the extraction instructions: the field schema with
// per-field hints, the values known so far, and the output contract.
func (e *Engine) systemPrompt(record schema.ExtractionRecord, strict bool) string {
	var sb strings.Builder
	sb.WriteString("You are a setup assistant collecting the profile of a new AI sales agent. ")
	sb.WriteString("From the user's latest message, extract values for any of these fields:\n\n")

	for _, f := range schema.Fields {
		fmt.Fprintf(&sb, "- %s: %s\n", f, schema.Hint(f))
	}

	known, _ := json.Marshal(record)
	fmt.Fprintf(&sb, "\nValues already collected (never ask for these again):\n%s\n", known)

	if missing := record.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		fmt.Fprintf(&sb, "\nStill missing, in priority order: %s.\n", strings.Join(names, ", "))
		sb.WriteString("In your reply, ask a single friendly question about the first missing field.\n")
	} else {
		sb.WriteString("\nAll fields are collected. Summarize them briefly and ask the user to confirm creating the agent. ")
		sb.WriteString("Set \"finalize\" to true only if the user has already confirmed.\n")
	}

	sb.WriteString("\nRespond with a single JSON object, no other text:\n")
	sb.WriteString(`{"fields": {"<field_name>": "<extracted value>", ...}, "reply": "<your message to the user>", "finalize": <bool>}` + "\n")
	sb.WriteString("Include only fields the latest message actually provides. Never invent values.\n")

	if strict {
		sb.WriteString("\nIMPORTANT: your previous reply was not valid JSON. Return ONLY the JSON object described above — no markdown fences, no commentary.\n")
	}

	return sb.String()
}

// fallbackReply produces a serviceable question when the model returned
// fields but an empty reply string.
func (e *Engine) fallbackReply(record schema.ExtractionRecord) string {
	missing := record.Missing()
	if len(missing) == 0 {
		return "I have everything I need. Shall I create the agent?"
	}
	return fmt.Sprintf("Thanks! Could you tell me about your %s? (%s)",
		strings.ReplaceAll(string(missing[0]), "_", " "), schema.Hint(missing[0]))
}

// affirmatives are the confirmation phrases that override a pending finalize
// request once the record is full.
var affirmatives = []string{
	"yes", "yep", "yeah", "sure", "confirm", "confirmed", "create it",
	"go ahead", "do it", "looks good", "sounds good", "correct",
}

// isAffirmative reports whether the message is an explicit confirmation.
func isAffirmative(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = strings.Trim(msg, ".!,")
	for _, a := range affirmatives {
		if msg == a || strings.HasPrefix(msg, a+" ") || strings.HasPrefix(msg, a+",") {
			return true
		}
	}
	return false
}
