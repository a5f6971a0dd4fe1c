// Package answer implements the retrieval-augmented answering engine used
// for customer-facing chat. Each turn embeds the query, retrieves the
// agent's most relevant knowledge chunks, and asks the completion service
// for a grounded reply. When nothing relevant is found the engine answers
// from the agent profile alone rather than inventing facts.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	eschema "github.com/cloudwego/eino/schema"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/budget"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/leads"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/llm"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/rag"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// Intent labels assigned to customer turns by the keyword classifier.
const (
	IntentGreeting       = "greeting"
	IntentPricing        = "pricing"
	IntentReadyToBuy     = "ready_to_buy"
	IntentSupport        = "support"
	IntentComparison     = "comparison"
	IntentObjection      = "objection"
	IntentProductInquiry = "product_inquiry"
)

// Request is one customer chat turn.
type Request struct {
	// AgentID selects whose knowledge base and persona to answer with.
	AgentID string `json:"agent_id"`

	// SessionID identifies the conversation for lead attribution.
	SessionID string `json:"session_id,omitempty"`

	// Message is the customer's message.
	Message string `json:"message"`

	// Profile is the agent's profile fields (persona, tone, strategy).
	Profile schema.ExtractionRecord `json:"profile,omitempty"`

	// History is the prior conversation, oldest first.
	History schema.Transcript `json:"history,omitempty"`
}

// Response is the engine's answer to one chat turn.
type Response struct {
	// Reply is the agent's answer text.
	Reply string `json:"reply"`

	// Sources lists the source ids of the knowledge chunks the reply was
	// grounded on. Empty when the engine fell back to profile-only answering.
	Sources []string `json:"sources,omitempty"`

	// Intent is the keyword-classified intent of the customer turn.
	Intent string `json:"intent"`

	// Grounded is true when retrieved knowledge was included in the prompt.
	Grounded bool `json:"grounded"`

	// Lead carries any contact details detected in the customer turn.
	Lead leads.Signal `json:"lead,omitempty"`
}

// Engine answers customer chat turns. Stateless and safe for concurrent use.
type Engine struct {
	// completer generates the final reply.
	completer llm.Completer

	// retriever performs the tenant-scoped similarity search.
	retriever rag.Retriever

	// sink receives detected lead signals; may be nil.
	sink leads.Sink

	// topK is the number of chunks to retrieve per query.
	topK int

	// maxContextTokens bounds the prompt; history is trimmed oldest-first.
	maxContextTokens int
}

// New constructs an answering Engine. sink may be nil to disable lead
// analytics; topK of 0 selects 3.
func New(completer llm.Completer, retriever rag.Retriever, sink leads.Sink, topK, maxContextTokens int) (*Engine, error) {
	if completer == nil {
		return nil, fmt.Errorf("answer: completer must not be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("answer: retriever must not be nil")
	}
	if topK <= 0 {
		topK = 3
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &Engine{
		completer:        completer,
		retriever:        retriever,
		sink:             sink,
		topK:             topK,
		maxContextTokens: maxContextTokens,
	}, nil
}

// Chat answers one customer turn. Lead detection runs on every turn and is
// emitted asynchronously; the reply never waits on analytics.
func (e *Engine) Chat(ctx context.Context, req Request) (*Response, error) {
	if err := schema.ValidateAgentID(req.AgentID); err != nil {
		return nil, err
	}
	if err := schema.ValidateMessage(req.Message); err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	lead := leads.Detect(req.AgentID, req.SessionID, req.Message)
	leads.Emit(ctx, e.sink, lead)

	// An opening "hi" gets the configured greeting straight back — no
	// retrieval round-trip for a turn that asks nothing.
	if len(req.History) == 0 && isGreeting(req.Message) {
		return &Response{
			Reply:  greetingReply(req.Profile),
			Intent: IntentGreeting,
			Lead:   lead,
		}, nil
	}

	intent := classifyIntent(req.Message)

	// A retrieval failure never fails the customer turn: whether the store
	// holds nothing relevant or is outright unreachable, the reply falls
	// back to the profile alone.
	matches, err := e.retriever.Retrieve(ctx, req.AgentID, req.Message, e.topK)
	grounded := true
	if err != nil {
		grounded = false
		matches = nil
		if errors.Is(err, rag.ErrNoRelevantKnowledge) {
			log.Debug("answer: no relevant knowledge, falling back to profile",
				slog.String("agent_id", req.AgentID))
		} else {
			log.Warn("answer: retrieval failed, answering from profile only",
				slog.String("agent_id", req.AgentID),
				slog.Any("error", err))
		}
	}

	system := e.systemPrompt(req.Profile, matches, grounded)
	reply, err := e.generate(ctx, system, req.History, req.Message)
	if err != nil {
		return nil, err
	}

	return &Response{
		Reply:    reply,
		Sources:  sourceIDs(matches),
		Intent:   intent,
		Grounded: grounded,
		Lead:     lead,
	}, nil
}

// generate calls the completion service, retrying once on retryable failures.
func (e *Engine) generate(ctx context.Context, system string, history schema.Transcript, message string) (string, error) {
	fixed := []*eschema.Message{
		eschema.SystemMessage(system),
		eschema.UserMessage(message),
	}
	prior := make([]*eschema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case schema.RoleAssistant:
			prior = append(prior, eschema.AssistantMessage(turn.Text, nil))
		default:
			prior = append(prior, eschema.UserMessage(turn.Text))
		}
	}
	prior = budget.TrimHistory(fixed, prior, e.maxContextTokens)

	msgs := make([]*eschema.Message, 0, len(prior)+2)
	msgs = append(msgs, eschema.SystemMessage(system))
	msgs = append(msgs, prior...)
	msgs = append(msgs, eschema.UserMessage(message))

	reply, err := e.completer.Complete(ctx, msgs)
	if err != nil {
		var se *llm.ServiceError
		if errors.As(err, &se) && se.Retryable() {
			reply, err = e.completer.Complete(ctx, msgs)
		}
	}
	if err != nil {
		return "", fmt.Errorf("answer: completion failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// systemPrompt assembles the persona and, when grounded, the retrieved
// knowledge labeled by source.
func (e *Engine) systemPrompt(profile schema.ExtractionRecord, matches []rag.Match, grounded bool) string {
	var sb strings.Builder

	name := profile.Get(schema.FieldAgentName)
	if name == "" {
		name = "the sales assistant"
	}
	company := profile.Get(schema.FieldCompanyName)
	if company == "" {
		company = "the company"
	}

	fmt.Fprintf(&sb, "You are %s, the sales assistant for %s.\n", name, company)
	if v := profile.Get(schema.FieldCompanyDescription); v != "" {
		fmt.Fprintf(&sb, "About the company: %s\n", v)
	}
	if v := profile.Get(schema.FieldIndustry); v != "" {
		fmt.Fprintf(&sb, "Industry: %s\n", v)
	}
	if v := profile.Get(schema.FieldTargetAudience); v != "" {
		fmt.Fprintf(&sb, "Target audience: %s\n", v)
	}
	if v := profile.Get(schema.FieldSellingPoints); v != "" {
		fmt.Fprintf(&sb, "Unique selling points: %s\n", v)
	}
	if v := profile.Get(schema.FieldTone); v != "" {
		fmt.Fprintf(&sb, "Speak in a %s tone.\n", v)
	}
	if v := profile.Get(schema.FieldLanguage); v != "" {
		fmt.Fprintf(&sb, "Reply in language: %s.\n", v)
	}
	if v := profile.Get(schema.FieldSalesStrategy); v != "" {
		fmt.Fprintf(&sb, "Sales approach: %s.\n", v)
	}

	if grounded && len(matches) > 0 {
		sb.WriteString("\nAnswer using ONLY the knowledge below. ")
		sb.WriteString("If the knowledge does not cover the question, say you don't have that information — never invent facts.\n\n")
		for _, m := range matches {
			fmt.Fprintf(&sb, "[Source: %s]\n%s\n\n", m.Chunk.SourceID, m.Chunk.Text)
		}
	} else {
		sb.WriteString("\nNo product knowledge is available for this question. ")
		sb.WriteString("Answer only from the company profile above; if that is not enough, say you don't have that information and offer to connect the customer with the team. Never invent facts.\n")
	}

	return sb.String()
}

// sourceIDs returns the distinct source ids of matches, preserving rank order.
func sourceIDs(matches []rag.Match) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if id := m.Chunk.SourceID; id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// greetingReply returns the configured greeting, or one built from the
// company name when the profile has none.
func greetingReply(profile schema.ExtractionRecord) string {
	if g := profile.Get(schema.FieldGreeting); g != "" {
		return g
	}
	company := profile.Get(schema.FieldCompanyName)
	if company == "" {
		return "Hello! How can I help you today?"
	}
	return fmt.Sprintf("Hello! Welcome to %s. How can I help you today?", company)
}

// greetingPhrases are matched against the whole (normalized) message, not as
// substrings, so "hi there" greets but "highest tier" does not.
var greetingPhrases = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "hiya": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"hi there": true, "hello there": true, "hey there": true,
}

// isGreeting reports whether the message is a bare salutation.
func isGreeting(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	msg = strings.Trim(msg, "!.,?")
	return greetingPhrases[msg]
}

// intentKeywords maps each intent to the keywords that trigger it. Order of
// evaluation is fixed so classification is deterministic.
var intentKeywords = []struct {
	intent   string
	keywords []string
}{
	{IntentObjection, []string{"too expensive", "not sure", "hesitant", "worried", "concern", "doubt", "risky"}},
	{IntentReadyToBuy, []string{"buy now", "purchase", "sign up", "subscribe", "checkout", "order now", "i'll take", "where do i pay"}},
	{IntentPricing, []string{"price", "pricing", "cost", "how much", "expensive", "cheap", "discount", "fee"}},
	{IntentSupport, []string{"help", "support", "problem", "issue", "broken", "not working", "error", "refund", "cancel"}},
	{IntentComparison, []string{"compare", "versus", " vs ", "alternative", "competitor", "better than", "difference between"}},
}

// classifyIntent assigns an intent label from keyword matches, defaulting to
// product inquiry.
func classifyIntent(message string) string {
	msg := " " + strings.ToLower(message) + " "
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(msg, kw) {
				return group.intent
			}
		}
	}
	return IntentProductInquiry
}
