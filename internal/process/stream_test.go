package process

import (
	"testing"
	"unicode/utf8"
)

func TestIncompleteTail(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"abc", 3},
		{"h\xc3", 1},
		{"h\xc3\xa9", 3},
		{"\xe2\x82", 0},
		{"x\xf0\x9f\x98", 1},
		{"x\xf0\x9f\x98\x80", 5},
		{"bad\xff", 4},
		{"", 0},
	}
	for _, tt := range tests {
		if got := incompleteTail([]byte(tt.in)); got != tt.want {
			t.Errorf("incompleteTail(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStreamWriterJoinsSplitCharacters(t *testing.T) {
	s := &Session{maxChars: 100}
	var chunks []string
	s.onUpdate = func(_ Stream, chunk string) { chunks = append(chunks, chunk) }
	w := &streamWriter{s: s, stream: StreamStdout}

	for _, part := range []string{"h\xc3", "\xa9llo \xe2\x82", "\xac", " \xf0\x9f"} {
		if n, err := w.Write([]byte(part)); err != nil || n != len(part) {
			t.Fatalf("Write(%q) = %d, %v", part, n, err)
		}
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q splits a character", c)
		}
	}
	if got := s.Stdout(); got != "héllo € " {
		t.Fatalf("stdout = %q", got)
	}
	if s.stdout.Chars() != 8 {
		t.Fatalf("chars = %d, want 8", s.stdout.Chars())
	}

	// The stream ended mid-character; the stray bytes are still delivered.
	w.flush()
	if got := s.Stdout(); got != "héllo € \xf0\x9f" {
		t.Fatalf("stdout after flush = %q", got)
	}
}
