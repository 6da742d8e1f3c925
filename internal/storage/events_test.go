package storage

import (
	"strings"
	"testing"
)

func TestTruncateText_ShortTextUnchanged(t *testing.T) {
	if got := TruncateText("hello", 500); got != "hello" {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestTruncateText_LongTextCut(t *testing.T) {
	long := strings.Repeat("a", 600)
	got := TruncateText(long, PreviewLength)
	if len(got) != PreviewLength {
		t.Errorf("expected %d chars, got %d", PreviewLength, len(got))
	}
}

func TestTruncateText_MultiByteSafe(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 100)
	got := TruncateText(text, PreviewLength)

	if len([]rune(got)) != PreviewLength {
		t.Errorf("expected %d runes, got %d", PreviewLength, len([]rune(got)))
	}
	// Must not split a multi-byte character.
	if !strings.HasPrefix(text, got) {
		t.Error("truncated text is not a prefix of the original")
	}
}

func TestTruncateText_ExactBoundary(t *testing.T) {
	text := strings.Repeat("x", PreviewLength)
	if got := TruncateText(text, PreviewLength); got != text {
		t.Errorf("text at exactly the limit must be unchanged")
	}
}
