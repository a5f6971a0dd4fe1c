package leads

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		message   string
		wantName  string
		wantEmail string
		wantPhone bool
	}{
		{
			name:      "email address",
			message:   "sure, reach me at jane.doe+work@example.co.uk thanks",
			wantEmail: "jane.doe+work@example.co.uk",
		},
		{
			name:      "phone number with separators",
			message:   "call me on +1 (415) 555-0134 after lunch",
			wantPhone: true,
		},
		{
			name:     "self-reported name",
			message:  "Hi, my name is Maria Santos and I run a bakery",
			wantName: "Maria Santos",
		},
		{
			name:      "everything at once",
			message:   "my name is Ken, email ken@shop.io, phone 020 7946 0958",
			wantName:  "Ken",
			wantEmail: "ken@shop.io",
			wantPhone: true,
		},
		{
			name:    "nothing to find",
			message: "what does the premium plan include?",
		},
		{
			name:    "short digit runs are not phones",
			message: "we need 25 units by week 12",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig := Detect("agent-1", "sess-1", tt.message)

			if sig.Email != tt.wantEmail {
				t.Errorf("Email = %q, want %q", sig.Email, tt.wantEmail)
			}
			if sig.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", sig.Name, tt.wantName)
			}
			if (sig.Phone != "") != tt.wantPhone {
				t.Errorf("Phone = %q, want present=%v", sig.Phone, tt.wantPhone)
			}

			wantEmpty := tt.wantName == "" && tt.wantEmail == "" && !tt.wantPhone
			if sig.Empty() != wantEmpty {
				t.Errorf("Empty() = %v, want %v", sig.Empty(), wantEmpty)
			}
		})
	}
}

// captureSink records signals and signals receipt on a channel.
type captureSink struct {
	mu   sync.Mutex
	got  []Signal
	recv chan struct{}
}

func (s *captureSink) Record(_ context.Context, sig Signal) error {
	s.mu.Lock()
	s.got = append(s.got, sig)
	s.mu.Unlock()
	s.recv <- struct{}{}
	return nil
}

func TestEmit_DeliversAsynchronously(t *testing.T) {
	t.Parallel()

	sink := &captureSink{recv: make(chan struct{}, 1)}
	sig := Signal{AgentID: "agent-1", Email: "a@b.com"}

	Emit(context.Background(), sink, sig)

	select {
	case <-sink.recv:
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not delivered")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 || sink.got[0].Email != "a@b.com" {
		t.Errorf("sink received %v", sink.got)
	}
}

func TestEmit_SkipsEmptySignals(t *testing.T) {
	t.Parallel()

	sink := &captureSink{recv: make(chan struct{}, 1)}
	Emit(context.Background(), sink, Signal{AgentID: "agent-1"})

	select {
	case <-sink.recv:
		t.Fatal("empty signal should not be delivered")
	case <-time.After(100 * time.Millisecond):
	}
}
