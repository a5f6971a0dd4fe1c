// Package leads detects contact details in customer messages and forwards
// them to the analytics sink. Detection is a cheap regex pass over the raw
// turn text — no model call — and emission is fire-and-forget so the answer
// path never waits on analytics.
package leads

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/logging"
)

// Signal carries the contact details found in one customer turn.
type Signal struct {
	// AgentID is the agent whose conversation produced the signal.
	AgentID string `json:"agent_id"`
	// SessionID identifies the originating conversation.
	SessionID string `json:"session_id,omitempty"`
	// Name is the customer's self-reported name, if stated.
	Name string `json:"name,omitempty"`
	// Email is the first email address found.
	Email string `json:"email,omitempty"`
	// Phone is the first phone number found.
	Phone string `json:"phone,omitempty"`
}

// Empty reports whether the signal carries no contact details.
func (s Signal) Empty() bool {
	return s.Name == "" && s.Email == "" && s.Phone == ""
}

// Sink receives lead signals. Implementations must tolerate duplicate
// delivery; the emitter retries nothing and guarantees nothing.
type Sink interface {
	Record(ctx context.Context, sig Signal) error
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// phoneRe accepts international and separator-heavy formats with at
	// least 7 digits overall.
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
	nameRe  = regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][A-Za-z'\-]*(?:\s+[A-Za-z][A-Za-z'\-]*)?)`)
)

// Detect scans a customer turn for contact details. The zero Signal (check
// with Empty) means nothing was found.
func Detect(agentID, sessionID, message string) Signal {
	sig := Signal{AgentID: agentID, SessionID: sessionID}

	if m := emailRe.FindString(message); m != "" {
		sig.Email = m
	}
	if m := nameRe.FindStringSubmatch(message); len(m) > 1 {
		sig.Name = strings.TrimSpace(m[1])
	}
	if m := phoneRe.FindString(message); m != "" && countDigits(m) >= 7 {
		sig.Phone = strings.TrimSpace(m)
	}

	return sig
}

// countDigits returns the number of decimal digits in s.
func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// Emit delivers sig to the sink on a goroutine. Failures are logged and
// dropped — a lead signal is advisory, never worth failing a chat turn over.
// Empty signals and nil sinks are no-ops.
func Emit(ctx context.Context, sink Sink, sig Signal) {
	if sink == nil || sig.Empty() {
		return
	}
	log := logging.FromContext(ctx)
	go func() {
		// Detach from the request context so an answered request does not
		// cancel the delivery mid-flight.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := sink.Record(ctx, sig); err != nil {
			log.Warn("leads: sink rejected signal",
				slog.String("agent_id", sig.AgentID),
				slog.String("error", err.Error()))
		}
	}()
}
