package answer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	eschema "github.com/cloudwego/eino/schema"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/leads"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/rag"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// echoCompleter returns a fixed reply and records the last prompt it saw.
type echoCompleter struct {
	mu    sync.Mutex
	reply string
	last  []*eschema.Message
	calls int
	fail  error
}

func (c *echoCompleter) Complete(_ context.Context, msgs []*eschema.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = msgs
	if c.fail != nil {
		return "", c.fail
	}
	return c.reply, nil
}

func (c *echoCompleter) lastSystem() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.last) == 0 {
		return ""
	}
	return c.last[0].Content
}

// stubRetriever returns canned matches or a canned error.
type stubRetriever struct {
	matches []rag.Match
	err     error
}

func (r *stubRetriever) Retrieve(context.Context, string, string, int) ([]rag.Match, error) {
	return r.matches, r.err
}

// chanSink delivers each recorded signal on a channel.
type chanSink struct{ ch chan leads.Signal }

func (s *chanSink) Record(_ context.Context, sig leads.Signal) error {
	s.ch <- sig
	return nil
}

func testProfile() schema.ExtractionRecord {
	return schema.ExtractionRecord{
		schema.FieldCompanyName: "Bean Dreams",
		schema.FieldAgentName:   "Brewster",
		schema.FieldTone:        "friendly",
		schema.FieldGreeting:    "Welcome to Bean Dreams! What can I brew up for you?",
	}
}

func newTestEngine(t *testing.T, c *echoCompleter, r rag.Retriever, sink leads.Sink) *Engine {
	t.Helper()
	e, err := New(c, r, sink, 3, 0)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return e
}

func TestEngine_GroundedAnswer(t *testing.T) {
	t.Parallel()

	c := &echoCompleter{reply: "The starter plan is $29 per month."}
	r := &stubRetriever{matches: []rag.Match{
		{Chunk: rag.Chunk{SourceID: "pricing-doc", Text: "Starter plan: $29/month."}, Score: 0.91},
		{Chunk: rag.Chunk{SourceID: "pricing-doc", Text: "Annual billing saves 20%."}, Score: 0.85},
		{Chunk: rag.Chunk{SourceID: "faq", Text: "We accept all major cards."}, Score: 0.78},
	}}
	e := newTestEngine(t, c, r, nil)

	resp, err := e.Chat(context.Background(), Request{
		AgentID: "agent-1",
		Message: "how much does the starter plan cost?",
		Profile: testProfile(),
		History: schema.Transcript{{Role: schema.RoleUser, Text: "earlier question"}},
	})
	if err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}

	if !resp.Grounded {
		t.Error("response should be grounded")
	}
	if want := []string{"pricing-doc", "faq"}; len(resp.Sources) != 2 || resp.Sources[0] != want[0] || resp.Sources[1] != want[1] {
		t.Errorf("Sources = %v, want %v (deduplicated, rank order)", resp.Sources, want)
	}
	if resp.Intent != IntentPricing {
		t.Errorf("Intent = %q, want %q", resp.Intent, IntentPricing)
	}

	system := c.lastSystem()
	if !strings.Contains(system, "Brewster") || !strings.Contains(system, "Bean Dreams") {
		t.Error("system prompt missing persona fields")
	}
	if !strings.Contains(system, "[Source: pricing-doc]") {
		t.Error("system prompt missing labeled knowledge")
	}
	if !strings.Contains(system, "ONLY the knowledge below") {
		t.Error("system prompt missing the grounding instruction")
	}
}

func TestEngine_NoKnowledgeFallsBackToProfile(t *testing.T) {
	t.Parallel()

	c := &echoCompleter{reply: "I don't have that information, sorry!"}
	r := &stubRetriever{err: rag.ErrNoRelevantKnowledge}
	e := newTestEngine(t, c, r, nil)

	resp, err := e.Chat(context.Background(), Request{
		AgentID: "agent-1",
		Message: "do you sell espresso machines?",
		Profile: testProfile(),
	})
	if err != nil {
		t.Fatalf("Chat() should fall back, not fail: %v", err)
	}
	if resp.Grounded {
		t.Error("fallback response must not claim grounding")
	}
	if len(resp.Sources) != 0 {
		t.Errorf("fallback response should cite no sources, got %v", resp.Sources)
	}
	if !strings.Contains(c.lastSystem(), "Never invent facts") {
		t.Error("fallback prompt missing the no-hallucination instruction")
	}
}

func TestEngine_RetrieverHardErrorFallsBack(t *testing.T) {
	t.Parallel()

	c := &echoCompleter{reply: "We restock every Monday."}
	r := &stubRetriever{err: errors.New("qdrant unreachable")}
	e := newTestEngine(t, c, r, nil)

	resp, err := e.Chat(context.Background(), Request{
		AgentID: "agent-1",
		Message: "any stock left?",
		Profile: testProfile(),
	})
	if err != nil {
		t.Fatalf("Chat() should answer from the profile when the store is down, got: %v", err)
	}
	if resp.Grounded {
		t.Error("response after a retrieval outage must not claim grounding")
	}
	if len(resp.Sources) != 0 {
		t.Errorf("response after a retrieval outage should cite no sources, got %v", resp.Sources)
	}
	if c.calls == 0 {
		t.Error("completion should still run when retrieval is unavailable")
	}
}

func TestEngine_GreetingShortCircuit(t *testing.T) {
	t.Parallel()

	c := &echoCompleter{reply: "unused"}
	r := &stubRetriever{err: errors.New("retriever must not be called")}
	e := newTestEngine(t, c, r, nil)

	resp, err := e.Chat(context.Background(), Request{
		AgentID: "agent-1",
		Message: "Hi!",
		Profile: testProfile(),
	})
	if err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}
	if resp.Reply != "Welcome to Bean Dreams! What can I brew up for you?" {
		t.Errorf("Reply = %q, want the configured greeting", resp.Reply)
	}
	if resp.Intent != IntentGreeting {
		t.Errorf("Intent = %q, want %q", resp.Intent, IntentGreeting)
	}
	if c.calls != 0 {
		t.Error("greeting turn should not call the completion service")
	}
}

func TestEngine_GreetingOnlyOnFirstTurn(t *testing.T) {
	t.Parallel()

	c := &echoCompleter{reply: "Hello again! Anything else?"}
	r := &stubRetriever{err: rag.ErrNoRelevantKnowledge}
	e := newTestEngine(t, c, r, nil)

	resp, err := e.Chat(context.Background(), Request{
		AgentID: "agent-1",
		Message: "hello",
		Profile: testProfile(),
		History: schema.Transcript{
			{Role: schema.RoleUser, Text: "hi"},
			{Role: schema.RoleAssistant, Text: "Welcome!"},
		},
	})
	if err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}
	if resp.Intent == IntentGreeting {
		t.Error("greeting short-circuit must only apply to the first turn")
	}
}

func TestEngine_LeadSignalEmitted(t *testing.T) {
	t.Parallel()

	sink := &chanSink{ch: make(chan leads.Signal, 1)}
	c := &echoCompleter{reply: "Thanks Maria, I'll pass that along."}
	r := &stubRetriever{err: rag.ErrNoRelevantKnowledge}
	e := newTestEngine(t, c, r, sink)

	resp, err := e.Chat(context.Background(), Request{
		AgentID:   "agent-1",
		SessionID: "sess-9",
		Message:   "my name is Maria, email maria@example.com — send me the brochure",
		Profile:   testProfile(),
	})
	if err != nil {
		t.Fatalf("Chat() failed: %v", err)
	}
	if resp.Lead.Email != "maria@example.com" {
		t.Errorf("response lead email = %q", resp.Lead.Email)
	}

	select {
	case sig := <-sink.ch:
		if sig.AgentID != "agent-1" || sig.SessionID != "sess-9" || sig.Name != "Maria" {
			t.Errorf("sink received %+v", sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lead signal was not delivered to the sink")
	}
}

func TestEngine_ValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, &echoCompleter{reply: "x"}, &stubRetriever{}, nil)
	var verr *schema.ValidationError

	_, err := e.Chat(context.Background(), Request{AgentID: "", Message: "hi"})
	if !errors.As(err, &verr) {
		t.Errorf("empty agent id: got %v, want ValidationError", err)
	}

	_, err = e.Chat(context.Background(), Request{AgentID: "agent-1", Message: "  "})
	if !errors.As(err, &verr) {
		t.Errorf("blank message: got %v, want ValidationError", err)
	}
}

func TestClassifyIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message string
		want    string
	}{
		{"how much does it cost?", IntentPricing},
		{"I want to buy now", IntentReadyToBuy},
		{"my order is broken, I need help", IntentSupport},
		{"how does this compare to your competitor?", IntentComparison},
		{"that seems too expensive for us", IntentObjection},
		{"tell me about the product range", IntentProductInquiry},
	}
	for _, tt := range tests {
		if got := classifyIntent(tt.message); got != tt.want {
			t.Errorf("classifyIntent(%q) = %q, want %q", tt.message, got, tt.want)
		}
	}
}

func TestIsGreeting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message string
		want    bool
	}{
		{"hi", true},
		{"Hello!", true},
		{"good morning", true},
		{"hey there", true},
		{"what's your highest tier?", false},
		{"hi, how much is shipping?", false},
	}
	for _, tt := range tests {
		if got := isGreeting(tt.message); got != tt.want {
			t.Errorf("isGreeting(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}
