package ingestion

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// Kind identifies the shape of a knowledge source.
type Kind string

const (
	// KindDocument is raw text supplied directly (pasted docs, file contents).
	KindDocument Kind = "document"
	// KindURL is a web page to fetch and strip down to readable text.
	KindURL Kind = "url"
	// KindFAQ is a list of question/answer pairs.
	KindFAQ Kind = "faq"
)

// FAQ is a single question/answer pair within a KindFAQ source.
type FAQ struct {
	// Question is the customer-facing question text.
	Question string `json:"question"`
	// Answer is the canonical answer text.
	Answer string `json:"answer"`
}

// Source describes one knowledge source to be ingested for an agent.
// Exactly one of Text, URL, or FAQs is consulted, selected by Kind.
type Source struct {
	// Kind selects how the source content is obtained and normalized.
	Kind Kind `json:"kind"`

	// ID identifies the source within the agent's knowledge base. Re-ingesting
	// the same ID replaces all chunks previously written under it. When empty,
	// a deterministic ID is derived from the kind and name/URL.
	ID string `json:"id,omitempty"`

	// Name is a human-readable label for the source (file name, page title).
	Name string `json:"name"`

	// Text is the raw content for KindDocument.
	Text string `json:"text,omitempty"`

	// URL is the page to fetch for KindURL.
	URL string `json:"url,omitempty"`

	// FAQs holds the question/answer pairs for KindFAQ.
	FAQs []FAQ `json:"faqs,omitempty"`
}

// Validate checks that the source is internally consistent. Violations are
// reported as schema.ValidationError so callers can map them to a client
// error rather than retrying.
func (s *Source) Validate() error {
	switch s.Kind {
	case KindDocument:
		if strings.TrimSpace(s.Text) == "" {
			return &schema.ValidationError{Field: "text", Reason: "document source requires non-empty text"}
		}
	case KindURL:
		if strings.TrimSpace(s.URL) == "" {
			return &schema.ValidationError{Field: "url", Reason: "url source requires a URL"}
		}
	case KindFAQ:
		if len(s.FAQs) == 0 {
			return &schema.ValidationError{Field: "faqs", Reason: "faq source requires at least one entry"}
		}
		for i, f := range s.FAQs {
			if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
				return &schema.ValidationError{
					Field:  fmt.Sprintf("faqs[%d]", i),
					Reason: "question and answer must both be non-empty",
				}
			}
		}
	default:
		return &schema.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown source kind %q", s.Kind)}
	}
	return nil
}

// EffectiveID returns the source's ID, deriving a stable one from the kind
// and name/URL when none was given. Derivation is deterministic so repeated
// ingests of the same source replace rather than duplicate.
func (s *Source) EffectiveID() string {
	if s.ID != "" {
		return s.ID
	}
	seed := string(s.Kind) + "|" + s.Name
	if s.Kind == KindURL {
		seed = string(s.Kind) + "|" + s.URL
	}
	h := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%x", h[:16])
}

// normalizeFAQs renders question/answer pairs as "Q:" / "A:" blocks separated
// by blank lines. Keeping each pair in one contiguous block means the chunker
// rarely splits a question from its answer.
func normalizeFAQs(faqs []FAQ) string {
	blocks := make([]string, 0, len(faqs))
	for _, f := range faqs {
		q := strings.TrimSpace(f.Question)
		a := strings.TrimSpace(f.Answer)
		if q == "" || a == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Q: %s\n\nA: %s", q, a))
	}
	return strings.Join(blocks, "\n\n")
}

// InferKind guesses the source kind from a raw CLI argument or file content.
// Explicit flags take precedence over inferred values — this is the
// best-effort fallback when the user doesn't say what they are handing us.
//
//	http(s):// prefix        → url
//	leading '[' or '{'       → faq (JSON payload)
//	anything else            → document
func InferKind(input string) Kind {
	trimmed := strings.TrimSpace(input)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindURL
	case strings.HasPrefix(trimmed, "["), strings.HasPrefix(trimmed, "{"):
		return KindFAQ
	default:
		return KindDocument
	}
}
