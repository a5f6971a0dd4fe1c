// Package llm wraps the Eino chat model behind the small completion contract
// the engines depend on, and classifies failures into the retry taxonomy the
// rest of the system branches on: transient (retry with backoff), rate
// limited (retry with backoff), and malformed response (retry once with a
// stricter instruction, then degrade).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrorKind classifies a completion failure for retry decisions.
type ErrorKind int

const (
	// KindTransient marks unreachable-service and timeout failures.
	KindTransient ErrorKind = iota
	// KindRateLimited marks provider throttling responses.
	KindRateLimited
	// KindMalformed marks responses that did not honour the structured
	// output contract.
	KindMalformed
)

// ServiceError is the typed error returned by the completion service.
type ServiceError struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Op is the operation that failed (e.g. "complete", "decode").
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("llm: %s: %v", e.Op, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may succeed on a retry.
func (e *ServiceError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// KindOf returns the ErrorKind of err, defaulting to KindTransient for
// untyped errors so unknown failures stay on the safe retry path.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// Completer is the completion-service contract consumed by the builder and
// answering engines. Implementations must be safe for concurrent use.
type Completer interface {
	// Complete sends the message sequence and returns the model's text reply.
	Complete(ctx context.Context, msgs []*schema.Message) (string, error)
}

// ChatCompleter implements Completer on top of an Eino chat model with a
// bounded per-call timeout.
type ChatCompleter struct {
	// model is the backend constructed by the provider factory.
	model model.ToolCallingChatModel
	// timeout bounds each Generate call. Zero means the caller's context
	// deadline alone applies.
	timeout time.Duration
}

// NewChatCompleter wraps m with the given per-call timeout.
func NewChatCompleter(m model.ToolCallingChatModel, timeout time.Duration) (*ChatCompleter, error) {
	if m == nil {
		return nil, fmt.Errorf("llm: chat model must not be nil")
	}
	return &ChatCompleter{model: m, timeout: timeout}, nil
}

// Complete sends msgs to the model and returns the generated text.
// Failures are classified into the ServiceError taxonomy.
func (c *ChatCompleter) Complete(ctx context.Context, msgs []*schema.Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.model.Generate(ctx, msgs)
	if err != nil {
		return "", classify("complete", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", &ServiceError{Kind: KindMalformed, Op: "complete", Err: fmt.Errorf("empty response")}
	}
	return resp.Content, nil
}

// classify maps a raw provider error onto the ServiceError taxonomy.
// Providers do not share an error vocabulary, so rate limiting is detected
// from the message text; everything else unexpected counts as transient.
func classify(op string, err error) error {
	kind := KindTransient
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
		kind = KindRateLimited
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindTransient
	}
	return &ServiceError{Kind: kind, Op: op, Err: err}
}

// DecodeJSON parses a model reply as JSON into out, tolerating the markdown
// code fences some models wrap structured output in. A parse failure is a
// KindMalformed ServiceError so the caller retries with a stricter prompt.
func DecodeJSON(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	// Some models prepend prose before the object; cut to the outermost braces.
	if i := strings.Index(trimmed, "{"); i > 0 {
		trimmed = trimmed[i:]
	}
	if i := strings.LastIndex(trimmed, "}"); i >= 0 && i < len(trimmed)-1 {
		trimmed = trimmed[:i+1]
	}

	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return &ServiceError{Kind: KindMalformed, Op: "decode", Err: err}
	}
	return nil
}
