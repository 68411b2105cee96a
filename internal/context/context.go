// Package context builds the token-budgeted memory injection payload for
// a project: it walks a project's memories, newest first, and accumulates
// lines until the next one would overflow the budget, then stops
// deterministically.
//
// EstimateTokens is carried over from Hoofy's detail_level.go chars/4
// heuristic, relocated here since context injection is this package's
// whole job.
package memcontext

import (
	"fmt"
	"strings"

	"github.com/opencodemem/opencodemem/internal/store"
)

// summaryPreviewLen bounds how much of a memory's content stands in for
// its text when no summary was recorded.
const summaryPreviewLen = 200

// EstimateTokens approximates token count as ceil(len/4).
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Line is one rendered unit of context, budgeted as a whole.
type Line struct {
	MemoryID int64
	Text     string
	Tokens   int
}

// Build accumulates memory lines, newest first, until adding the next
// line would exceed maxTokens. Truncation is deterministic: it always
// stops at the first line that would overflow, never skips ahead to
// find a smaller one that fits.
func Build(memories []store.Memory, maxTokens int) (lines []Line, tokensUsed int, truncated bool) {
	for _, m := range memories {
		text := textFor(m)
		tok := EstimateTokens(text)
		if maxTokens > 0 && tokensUsed+tok > maxTokens {
			truncated = len(lines) < len(memories)
			return lines, tokensUsed, truncated
		}
		lines = append(lines, Line{MemoryID: m.ID, Text: fmt.Sprintf("[#%d] %s", m.ID, text), Tokens: tok})
		tokensUsed += tok
	}
	return lines, tokensUsed, false
}

func textFor(m store.Memory) string {
	if m.Summary != nil && *m.Summary != "" {
		return *m.Summary
	}
	if len(m.Content) <= summaryPreviewLen {
		return m.Content
	}
	return m.Content[:summaryPreviewLen]
}

// Format wraps accumulated lines into the injectable Markdown context
// block: a header, one line per memory, and a trailing provenance line
// naming the project the memories were sourced from.
func Format(lines []Line, project string) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant Project Context\n\n")
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\n_Sourced from %d memor%s for %s._\n", len(lines), pluralY(len(lines)), project)
	return b.String()
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
