package media

import (
	"strings"
	"testing"
)

func TestBuildChapterMetadata_Offsets(t *testing.T) {
	marks := []ChapterMark{
		{Title: "One", Duration: 10.0},
		{Title: "Two", Duration: 5.5},
		{Title: "Three", Duration: 20.25},
	}

	got := BuildChapterMetadata(marks)

	if !strings.HasPrefix(got, ";FFMETADATA1\n") {
		t.Fatalf("expected FFMETADATA1 header, got:\n%s", got)
	}

	expectedBlocks := []string{
		"[CHAPTER]\nTIMEBASE=1/1000\nSTART=0\nEND=10000\ntitle=One\n",
		"[CHAPTER]\nTIMEBASE=1/1000\nSTART=10000\nEND=15500\ntitle=Two\n",
		"[CHAPTER]\nTIMEBASE=1/1000\nSTART=15500\nEND=35750\ntitle=Three\n",
	}
	for _, block := range expectedBlocks {
		if !strings.Contains(got, block) {
			t.Errorf("missing block:\n%s\nin:\n%s", block, got)
		}
	}

	// Each chapter's START must equal the previous chapter's END: the blocks
	// above must appear in order.
	lastIdx := -1
	for i, block := range expectedBlocks {
		idx := strings.Index(got, block)
		if idx <= lastIdx {
			t.Errorf("block %d out of order", i)
		}
		lastIdx = idx
	}
}

func TestBuildChapterMetadata_Empty(t *testing.T) {
	got := BuildChapterMetadata(nil)
	if got != ";FFMETADATA1\n" {
		t.Errorf("expected bare header for no chapters, got %q", got)
	}
}

func TestEscapeMetadataValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Chapter One", "Chapter One"},
		{"equals", "a=b", `a\=b`},
		{"semicolon", "a;b", `a\;b`},
		{"hash", "#1", `\#1`},
		{"backslash", `a\b`, `a\\b`},
		{"newline", "a\nb", "a\\\nb"},
		{"mixed", "x=1;y=#2", `x\=1\;y\=\#2`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeMetadataValue(tt.input); got != tt.want {
				t.Errorf("escapeMetadataValue(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
