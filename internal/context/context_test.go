package memcontext

import (
	"strings"
	"testing"

	"github.com/opencodemem/opencodemem/internal/store"
)

func summaryPtr(s string) *string { return &s }

func TestBuild_StopsAtFirstOverflowingLine(t *testing.T) {
	// Each summary is 100 chars -> ceil(100/4) = 25 tokens. A 40-token
	// budget fits exactly one memory (25 <= 40) but not two (50 > 40).
	mems := []store.Memory{
		{ID: 1, Summary: summaryPtr(strings.Repeat("a", 100))},
		{ID: 2, Summary: summaryPtr(strings.Repeat("b", 100))},
		{ID: 3, Summary: summaryPtr(strings.Repeat("c", 100))},
	}
	lines, used, truncated := Build(mems, 40)
	if !truncated {
		t.Fatalf("expected truncation with a tight budget")
	}
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line to fit a 40-token budget, got %d", len(lines))
	}
	if used > 40 {
		t.Fatalf("expected tokens used to respect the budget, got %d", used)
	}
	if lines[0].MemoryID != 1 {
		t.Fatalf("expected the newest (first) memory to be kept, got id %d", lines[0].MemoryID)
	}
}

func TestBuild_NoBudgetIncludesEverything(t *testing.T) {
	mems := []store.Memory{
		{ID: 1, Content: "short"},
		{ID: 2, Content: "also short"},
	}
	lines, _, truncated := Build(mems, 0)
	if truncated {
		t.Fatalf("expected no truncation when maxTokens is 0 (unbounded)")
	}
	if len(lines) != len(mems) {
		t.Fatalf("expected all memories included, got %d", len(lines))
	}
}

func TestBuild_PrefersSummaryOverContent(t *testing.T) {
	mems := []store.Memory{
		{ID: 1, Content: "the full content", Summary: summaryPtr("short summary")},
	}
	lines, _, _ := Build(mems, 0)
	if !strings.Contains(lines[0].Text, "short summary") {
		t.Fatalf("expected summary to be preferred, got %q", lines[0].Text)
	}
	if strings.Contains(lines[0].Text, "the full content") {
		t.Fatalf("did not expect full content when a summary exists, got %q", lines[0].Text)
	}
}

func TestFormat_WrapsWithHeaderAndProvenance(t *testing.T) {
	lines := []Line{{MemoryID: 1, Text: "[#1] hello"}}
	out := Format(lines, "proj")
	if !strings.Contains(out, "Relevant Project Context") {
		t.Fatalf("expected header in output, got %q", out)
	}
	if !strings.Contains(out, "[#1] hello") {
		t.Fatalf("expected memory line in output, got %q", out)
	}
	if !strings.Contains(out, "proj") {
		t.Fatalf("expected provenance line naming the project, got %q", out)
	}
}

func TestFormat_EmptyLinesReturnsEmptyString(t *testing.T) {
	if out := Format(nil, "proj"); out != "" {
		t.Fatalf("expected empty string for no lines, got %q", out)
	}
}
