package ingestion

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitText_WindowAndOverlap(t *testing.T) {
	t.Parallel()

	// 5000 chars, window 500, 10% overlap: step 450, so ~11 full windows
	// plus a short tail that falls under the minimum and is dropped.
	text := strings.Repeat("a", 5000)
	chunks := splitText(text, 500, 50, 50)

	if len(chunks) < 11 || len(chunks) > 12 {
		t.Fatalf("expected roughly 11 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) < 50 {
			t.Errorf("chunk %d is %d chars, below the minimum", i, len(c))
		}
		if len(c) > 500 {
			t.Errorf("chunk %d is %d chars, above the window size", i, len(c))
		}
	}
}

func TestSplitText_OverlapSharesContent(t *testing.T) {
	t.Parallel()

	// Distinct characters let us verify the tail of one chunk opens the next.
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	chunks := splitText(sb.String(), 100, 20, 10)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-20:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not begin with the previous chunk's overlap", i)
		}
	}
}

func TestSplitText_MultibyteRunesStayIntact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "two-byte runes", text: strings.Repeat("é", 400)},
		{name: "cjk", text: strings.Repeat("产品介绍与价格说明。", 60)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := splitText(tt.text, 101, 20, 10)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			for i, c := range chunks {
				if !utf8.ValidString(c) {
					t.Errorf("chunk %d is not valid UTF-8: starts %q", i, c[:4])
				}
				if n := utf8.RuneCountInString(c); n > 101 {
					t.Errorf("chunk %d is %d runes, above the window size", i, n)
				}
			}
		})
	}
}

func TestSplitText_EdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		minLen  int
		want    int
	}{
		{name: "empty input", text: "", size: 100, overlap: 10, minLen: 10, want: 0},
		{name: "whitespace only", text: "   \n\t  ", size: 100, overlap: 10, minLen: 10, want: 0},
		{name: "below minimum dropped", text: "short", size: 100, overlap: 10, minLen: 10, want: 0},
		{name: "exactly one window", text: strings.Repeat("x", 100), size: 100, overlap: 10, minLen: 10, want: 1},
		{name: "overlap >= size still terminates", text: strings.Repeat("x", 300), size: 100, overlap: 100, minLen: 10, want: 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitText(tt.text, tt.size, tt.overlap, tt.minLen)
			if len(got) != tt.want {
				t.Errorf("splitText() produced %d chunks, want %d", len(got), tt.want)
			}
		})
	}
}
