// Package rank scores candidate observations against a query, combining
// lexical, semantic, recency and tag-boost signals into one ordering.
// It is a pure package: no I/O, no database handle, so it is exercised
// directly and cheaply from tests.
package rank

import (
	"sort"
	"strings"
	"time"

	"github.com/orsinium-labs/stopwords"
)

var en = stopwords.MustGet("en")

// Weights configures the contribution of each scoring signal. They are
// used as-is, without renormalizing to 1 — a caller disabling a signal
// (e.g. setting Semantic to 0 when no embedder is configured) leaves the
// remaining weights' absolute contribution unchanged rather than having
// them stretch to fill the gap.
type Weights struct {
	Lexical  float64
	Semantic float64
	Recency  float64
	TagBoost float64
}

// DefaultWeights matches the balance used by the search orchestrator by
// default: lexical match dominates, recency and tags nudge the order.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.45, Semantic: 0.35, Recency: 0.15, TagBoost: 0.05}
}

// Candidate is the minimal shape rank needs from an observation to score it.
type Candidate struct {
	ID        int64
	Title     string
	Subtitle  string
	Content   string
	Tags      []string
	CreatedAt time.Time
}

// Scored pairs a candidate with its computed score and score breakdown.
type Scored struct {
	Candidate Candidate
	Score     float64
	Lexical   float64
	Semantic  float64
	Recency   float64
	TagBoost  float64
}

// meaningfulWords filters query tokens down to the ones worth scoring
// against: not a stopword, and at least 2 characters long as a fallback
// for tokens the English stopword list doesn't cover (identifiers,
// non-English words).
func meaningfulWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if w == "" {
			continue
		}
		if en.Contains(w) {
			continue
		}
		if len(w) < 2 {
			continue
		}
		words = append(words, w)
	}
	return words
}

// ScoreLexical implements the two-branch lexical score: if the whole
// query is a substring of the concatenated title+subtitle+content, the
// score rewards a tight match relative to the text's length; otherwise
// it falls back to the fraction of meaningful query words found as
// substrings anywhere in that concatenation. Exported so the search
// orchestrator can reuse it for a lightweight pre-rank relevance check.
func ScoreLexical(query string, c Candidate) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	text := strings.ToLower(c.Title + " " + c.Subtitle + " " + c.Content)

	if q != "" && strings.Contains(text, q) {
		if len(text) == 0 {
			return 1
		}
		score := 0.5 + float64(len(q))/float64(len(text))
		if score > 1 {
			score = 1
		}
		return score
	}

	words := meaningfulWords(query)
	if len(words) == 0 {
		return 0
	}
	var hits int
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// ScoreRecencyMinMax normalizes createdAt against the observed
// [oldest, newest] range in the current candidate set. This is the
// default recency scorer used by the search orchestrator.
func ScoreRecencyMinMax(t, oldest, newest time.Time) float64 {
	if newest.Equal(oldest) {
		return 0.5
	}
	span := newest.Sub(oldest).Seconds()
	if span <= 0 {
		return 0.5
	}
	pos := t.Sub(oldest).Seconds() / span
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos
}

// ScoreRecencyBucket is the age-bucket alternative recency scorer: it
// buckets age into same-day / same-week / same-month / older, rather
// than normalizing continuously against the candidate set. Kept as a
// named, tested alternative rather than wired into the default pipeline
// — see the ranker recency-variant decision in DESIGN.md.
func ScoreRecencyBucket(t, now time.Time) float64 {
	age := now.Sub(t)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.75
	case age <= 30*24*time.Hour:
		return 0.5
	default:
		return 0.25
	}
}

// scoreTagBoost is the fraction of tags that contain any meaningful
// query word as a substring.
func scoreTagBoost(query string, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}
	words := meaningfulWords(query)
	if len(words) == 0 {
		return 0
	}
	var hits int
	for _, tag := range tags {
		t := strings.ToLower(tag)
		for _, w := range words {
			if strings.Contains(t, w) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(tags))
}

// Rank scores every candidate against query and semantic (a precomputed
// cosine-similarity map keyed by candidate ID — pass nil to skip the
// semantic signal entirely), then returns candidates sorted by score
// descending, ties broken by newest first.
func Rank(query string, candidates []Candidate, semantic map[int64]float64, w Weights) []Scored {
	if len(candidates) == 0 {
		return nil
	}

	oldest, newest := candidates[0].CreatedAt, candidates[0].CreatedAt
	for _, c := range candidates {
		if c.CreatedAt.Before(oldest) {
			oldest = c.CreatedAt
		}
		if c.CreatedAt.After(newest) {
			newest = c.CreatedAt
		}
	}

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		lex := ScoreLexical(query, c)
		sem := 0.0
		if semantic != nil {
			sem = semantic[c.ID]
		}
		rec := ScoreRecencyMinMax(c.CreatedAt, oldest, newest)
		tag := scoreTagBoost(query, c.Tags)

		score := w.Lexical*lex + w.Semantic*sem + w.Recency*rec + w.TagBoost*tag
		scored[i] = Scored{Candidate: c, Score: score, Lexical: lex, Semantic: sem, Recency: rec, TagBoost: tag}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Candidate.CreatedAt.Equal(scored[j].Candidate.CreatedAt) {
			return scored[i].Candidate.CreatedAt.After(scored[j].Candidate.CreatedAt)
		}
		return scored[i].Candidate.ID > scored[j].Candidate.ID
	})
	return scored
}
