package channel

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"empty", "", 10, nil},
		{"fits", "привет", 10, []string{"привет"}},
		{"hard cut keeps runes whole", "абвгдеёжзи", 4, []string{"абвг", "деёж", "зи"}},
		{"prefers newline", "строка один\nдва", 14, []string{"строка один\n", "два"}},
		{"prefers space", "раз два три", 8, []string{"раз два ", "три"}},
		{"zero limit", "x", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.limit)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Split(%q, %d) = %q, want %q", tt.text, tt.limit, got, tt.want)
			}
		})
	}
}

func TestSplitLongCyrillic(t *testing.T) {
	text := strings.Repeat("ж", MaxMessageRunes*2+17)
	chunks := Split(text, MaxMessageRunes)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n > MaxMessageRunes {
			t.Errorf("chunk %d has %d runes", i, n)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the text")
	}
}
