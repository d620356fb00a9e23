package models

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "  short  ", 16, "short"},
		{"ascii cut", strings.Repeat("a", 10) + "END", 5, "aaEND"},
		// "é" is two bytes; a 3-byte cut lands on the second byte of the first
		{"multibyte cut", "éé", 3, "é"},
		{"cut inside last rune", "aé", 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tail(tt.in, tt.n)
			if got != tt.want {
				t.Errorf("Tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Tail(%q, %d) returned invalid UTF-8", tt.in, tt.n)
			}
		})
	}
}

func TestTailBoundsLongOutput(t *testing.T) {
	long := strings.Repeat("ошибка ", 200) + "END"
	got := Tail(long, 512)
	if len(got) > 512 || !strings.HasSuffix(got, "END") || !utf8.ValidString(got) {
		t.Errorf("Tail kept %d bytes, valid=%v", len(got), utf8.ValidString(got))
	}
}
