package rank

import (
	"testing"
	"time"
)

func TestRank_SortsBySemanticScoreWhenLexicalTied(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: 1, Title: "unrelated note", Content: "nothing to do with the query", CreatedAt: now.Add(-time.Hour)},
		{ID: 2, Title: "unrelated note", Content: "nothing to do with the query", CreatedAt: now.Add(-time.Hour)},
	}
	semantic := map[int64]float64{1: 0.9, 2: 0.1}

	scored := Rank("something", candidates, semantic, Weights{Semantic: 1})
	if scored[0].Candidate.ID != 1 {
		t.Fatalf("expected candidate 1 to rank first by semantic score, got %d", scored[0].Candidate.ID)
	}
}

func TestRank_LexicalMatchInTitleOutranksContentOnly(t *testing.T) {
	now := time.Now()
	candidates := []Candidate{
		{ID: 1, Title: "generic title", Content: "mentions retry logic somewhere", CreatedAt: now},
		{ID: 2, Title: "retry logic overview", Content: "generic content", CreatedAt: now},
	}
	scored := Rank("retry logic", candidates, nil, DefaultWeights())
	if scored[0].Candidate.ID != 2 {
		t.Fatalf("expected title match to outrank content-only match, got %d first", scored[0].Candidate.ID)
	}
}

func TestScoreRecencyMinMax_NewestScoresHighest(t *testing.T) {
	oldest := time.Now().Add(-24 * time.Hour)
	newest := time.Now()
	if got := ScoreRecencyMinMax(newest, oldest, newest); got != 1 {
		t.Fatalf("expected newest to score 1, got %v", got)
	}
	if got := ScoreRecencyMinMax(oldest, oldest, newest); got != 0 {
		t.Fatalf("expected oldest to score 0, got %v", got)
	}
}

func TestMeaningfulWords_DropsStopwords(t *testing.T) {
	words := meaningfulWords("what is the retry policy for the scheduler")
	for _, w := range words {
		if w == "the" || w == "is" || w == "for" || w == "what" {
			t.Fatalf("expected stopword %q to be filtered out", w)
		}
	}
	if len(words) == 0 {
		t.Fatalf("expected at least one meaningful word")
	}
}
