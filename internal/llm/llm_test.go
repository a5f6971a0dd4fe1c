package llm

import (
	"errors"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Reply    string `json:"reply"`
		Finalize bool   `json:"finalize"`
	}

	tests := []struct {
		name    string
		raw     string
		want    payload
		wantErr bool
	}{
		{
			name: "bare object",
			raw:  `{"reply": "ok", "finalize": true}`,
			want: payload{Reply: "ok", Finalize: true},
		},
		{
			name: "json fenced",
			raw:  "```json\n{\"reply\": \"ok\", \"finalize\": false}\n```",
			want: payload{Reply: "ok"},
		},
		{
			name: "plain fenced",
			raw:  "```\n{\"reply\": \"ok\", \"finalize\": false}\n```",
			want: payload{Reply: "ok"},
		},
		{
			name: "prose around the object",
			raw:  "Here is the result you asked for:\n{\"reply\": \"ok\", \"finalize\": false}\nHope that helps!",
			want: payload{Reply: "ok"},
		},
		{
			name:    "no json at all",
			raw:     "Sure! The company is called Bean Dreams.",
			wantErr: true,
		},
		{
			name:    "truncated object",
			raw:     `{"reply": "ok", "final`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got payload
			err := DecodeJSON(tt.raw, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if KindOf(err) != KindMalformed {
					t.Errorf("decode failure classified as %v, want KindMalformed", KindOf(err))
				}
				return
			}
			if got != tt.want {
				t.Errorf("DecodeJSON() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	if got := KindOf(errors.New("plain failure")); got != KindTransient {
		t.Errorf("untyped error classified as %v, want KindTransient", got)
	}

	se := &ServiceError{Kind: KindRateLimited, Op: "complete", Err: errors.New("429")}
	if got := KindOf(se); got != KindRateLimited {
		t.Errorf("KindOf(ServiceError) = %v, want KindRateLimited", got)
	}

	wrapped := errors.New("outer: " + se.Error())
	if got := KindOf(wrapped); got != KindTransient {
		t.Errorf("string-wrapped error should not retain kind, got %v", got)
	}
}

func TestServiceError_Retryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindTransient, true},
		{KindRateLimited, true},
		{KindMalformed, false},
	}
	for _, tt := range tests {
		se := &ServiceError{Kind: tt.kind, Op: "complete", Err: errors.New("x")}
		if got := se.Retryable(); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want ErrorKind
	}{
		{"HTTP 429 Too Many Requests", KindRateLimited},
		{"rate limit exceeded", KindRateLimited},
		{"monthly quota exhausted", KindRateLimited},
		{"connection refused", KindTransient},
		{"EOF", KindTransient},
	}
	for _, tt := range tests {
		err := classify("complete", errors.New(tt.msg))
		if got := KindOf(err); got != tt.want {
			t.Errorf("classify(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}
