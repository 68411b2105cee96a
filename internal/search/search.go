// Package search implements the search orchestrator: it fans a query out
// to the lexical (FTS5) and semantic (embedding similarity) strategies,
// merges the candidate set by observation id, falls back to a plain
// substring scan when both come up empty, filters the merged set down,
// and hands the survivors to the ranker for the final ordering —
// attaching diagnostics about which strategies actually ran.
package search

import (
	"sort"
	"strings"
	"time"

	"github.com/opencodemem/opencodemem/internal/rank"
	"github.com/opencodemem/opencodemem/internal/store"
)

// Store is the subset of *store.Store the orchestrator depends on.
type Store interface {
	Search(query string, opts store.SearchOptions) ([]store.SearchResult, error)
	SubstringSearch(project, typ, query string, limit int) ([]store.SearchResult, error)
	VectorsForProject(project string) ([]store.Vector, error)
	GetObservation(id int64) (*store.Observation, error)
}

// Embedder embeds a query string for the semantic search leg.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// semanticTopK bounds how many of a project's vectors the semantic leg
// pulls in before merging with the lexical candidate set.
const semanticTopK = 50

// Options controls one search call.
type Options struct {
	Type      string
	Project   string
	Scope     string
	Limit     int
	Offset    int
	DateStart string
	DateEnd   string
	Weights   rank.Weights

	// DisableFTS and DisableSemantic let a caller run one strategy in
	// isolation, e.g. to exercise ranking behavior deterministically.
	DisableFTS      bool
	DisableSemantic bool

	// MinRelevance drops candidates whose lexical score falls below the
	// threshold before final ranking. Zero, the default, applies no
	// threshold — a semantic-only match can legitimately score zero on
	// the lexical signal.
	MinRelevance float64
}

// Diagnostics reports how one Search call resolved: which strategies ran,
// how long each took, how many candidates each stage and filter
// produced, and the wall-clock window of the call.
type Diagnostics struct {
	Query               string           `json:"query"`
	StartedAtEpoch      int64            `json:"startedAtEpoch"`
	EndedAtEpoch        int64            `json:"endedAtEpoch"`
	StrategyTimingsMs   map[string]int64 `json:"strategyTimingsMs"`
	StrategyInputCounts map[string]int   `json:"strategyInputCounts"`
	FilterOutputCounts  map[string]int   `json:"filterOutputCounts"`
	UsedFallback        bool             `json:"usedFallback"`
	SemanticSkipped     bool             `json:"semanticSkipped"`
	SemanticSkipReason  string           `json:"semanticSkipReason,omitempty"`
	LexicalCandidates   int              `json:"lexicalCandidates"`
	SemanticCandidates  int              `json:"semanticCandidates"`
}

// Result is one ranked search hit.
type Result struct {
	Observation store.Observation
	Score       rank.Scored
}

// Orchestrator ties the Store and an optional Embedder together.
type Orchestrator struct {
	store    Store
	embedder Embedder
}

// New builds an Orchestrator. embedder may be nil, in which case searches
// fall back to lexical-only ranking.
func New(s Store, embedder Embedder) *Orchestrator {
	return &Orchestrator{store: s, embedder: embedder}
}

func toCandidate(o store.Observation) rank.Candidate {
	created, _ := time.Parse("2006-01-02 15:04:05", o.CreatedAt)
	return rank.Candidate{ID: o.ID, Title: o.Title, Subtitle: o.Type, Content: o.Content, CreatedAt: created}
}

func refProject(o store.Observation) string {
	if o.Project == nil {
		return ""
	}
	return *o.Project
}

func inDateRange(createdAt, start, end string) bool {
	if start != "" && createdAt < start {
		return false
	}
	if end != "" && createdAt > end {
		return false
	}
	return true
}

// dedupeByTitle keeps the first occurrence of each case-insensitive,
// trimmed title, preserving the caller's ordering — earlier entries come
// from whichever strategy found them first, lexical before semantic.
func dedupeByTitle(ids []int64, byID map[int64]store.Observation) []int64 {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		title := strings.ToLower(strings.TrimSpace(byID[id].Title))
		if title != "" && seen[title] {
			continue
		}
		seen[title] = true
		out = append(out, id)
	}
	return out
}

func filterIDs(ids []int64, diag *Diagnostics, name string, keep func(id int64) bool) []int64 {
	out := ids[:0:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	diag.FilterOutputCounts[name] = len(out)
	return out
}

// Search runs the full strategy/merge/filter/rank pipeline for one query.
func (o *Orchestrator) Search(query string, opts Options) ([]Result, Diagnostics, error) {
	startedAt := time.Now()
	weights := opts.Weights
	if weights == (rank.Weights{}) {
		weights = rank.DefaultWeights()
	}

	diag := Diagnostics{
		Query:               query,
		StartedAtEpoch:      startedAt.UnixMilli(),
		StrategyTimingsMs:   make(map[string]int64),
		StrategyInputCounts: make(map[string]int),
		FilterOutputCounts:  make(map[string]int),
	}

	byID := make(map[int64]store.Observation)
	candByID := make(map[int64]rank.Candidate)
	var order []int64

	addCandidate := func(obs store.Observation) {
		if _, ok := candByID[obs.ID]; ok {
			return
		}
		candByID[obs.ID] = toCandidate(obs)
		byID[obs.ID] = obs
		order = append(order, obs.ID)
	}

	fetchLimit := opts.Limit
	if fetchLimit > 0 {
		fetchLimit += opts.Offset
	}

	if !opts.DisableFTS {
		t0 := time.Now()
		lexical, err := o.store.Search(query, store.SearchOptions{
			Type: opts.Type, Project: opts.Project, Scope: opts.Scope, Limit: fetchLimit,
			DateStart: opts.DateStart, DateEnd: opts.DateEnd,
		})
		diag.StrategyTimingsMs["lexical"] = time.Since(t0).Milliseconds()
		if err != nil {
			return nil, diag, err
		}
		diag.StrategyInputCounts["lexical"] = len(lexical)
		diag.LexicalCandidates = len(lexical)
		for _, r := range lexical {
			addCandidate(r.Observation)
		}
	}

	var semantic map[int64]float64
	switch {
	case opts.DisableSemantic:
		diag.SemanticSkipped = true
		diag.SemanticSkipReason = "semantic strategy disabled"
	case o.embedder == nil:
		diag.SemanticSkipped = true
		diag.SemanticSkipReason = "no embedder configured"
	case opts.Project == "":
		diag.SemanticSkipped = true
		diag.SemanticSkipReason = "no project given"
	default:
		t0 := time.Now()
		queryVec, err := o.embedder.Embed(query)
		if err != nil {
			diag.SemanticSkipped = true
			diag.SemanticSkipReason = "embedding call failed: " + err.Error()
			diag.StrategyTimingsMs["semantic"] = time.Since(t0).Milliseconds()
			break
		}
		vectors, err := o.store.VectorsForProject(opts.Project)
		if err != nil {
			diag.SemanticSkipped = true
			diag.SemanticSkipReason = "vector fetch failed: " + err.Error()
			diag.StrategyTimingsMs["semantic"] = time.Since(t0).Milliseconds()
			break
		}

		type scoredVec struct {
			id    int64
			score float64
		}
		scoredVecs := make([]scoredVec, 0, len(vectors))
		for _, v := range vectors {
			scoredVecs = append(scoredVecs, scoredVec{id: v.ObservationID, score: store.CosineSimilarity(queryVec, v.Embedding)})
		}
		sort.Slice(scoredVecs, func(i, j int) bool { return scoredVecs[i].score > scoredVecs[j].score })
		if len(scoredVecs) > semanticTopK {
			scoredVecs = scoredVecs[:semanticTopK]
		}

		semantic = make(map[int64]float64, len(scoredVecs))
		for _, sv := range scoredVecs {
			semantic[sv.id] = sv.score
			if _, known := candByID[sv.id]; !known {
				if obs, err := o.store.GetObservation(sv.id); err == nil && obs != nil {
					addCandidate(*obs)
				}
			}
		}
		diag.StrategyTimingsMs["semantic"] = time.Since(t0).Milliseconds()
		diag.StrategyInputCounts["semantic"] = len(vectors)
		diag.SemanticCandidates = len(vectors)
	}

	if len(order) == 0 {
		t0 := time.Now()
		fallback, err := o.store.SubstringSearch(opts.Project, opts.Type, query, 100)
		diag.StrategyTimingsMs["fallback"] = time.Since(t0).Milliseconds()
		if err != nil {
			return nil, diag, err
		}
		diag.StrategyInputCounts["fallback"] = len(fallback)
		diag.UsedFallback = true
		for _, r := range fallback {
			addCandidate(r.Observation)
		}
	}

	filtered := order
	filtered = filterIDs(filtered, &diag, "project", func(id int64) bool {
		return opts.Project == "" || refProject(byID[id]) == opts.Project
	})
	filtered = filterIDs(filtered, &diag, "type", func(id int64) bool {
		return opts.Type == "" || byID[id].Type == opts.Type
	})
	filtered = filterIDs(filtered, &diag, "dateRange", func(id int64) bool {
		return inDateRange(byID[id].CreatedAt, opts.DateStart, opts.DateEnd)
	})
	filtered = dedupeByTitle(filtered, byID)
	diag.FilterOutputCounts["dedupeByTitle"] = len(filtered)
	if opts.MinRelevance > 0 {
		filtered = filterIDs(filtered, &diag, "relevanceThreshold", func(id int64) bool {
			return rank.ScoreLexical(query, candByID[id]) >= opts.MinRelevance
		})
	}

	candidates := make([]rank.Candidate, 0, len(filtered))
	for _, id := range filtered {
		candidates = append(candidates, candByID[id])
	}

	scored := rank.Rank(query, candidates, semantic, weights)

	offset := opts.Offset
	if offset < 0 || offset > len(scored) {
		offset = len(scored)
	}
	scored = scored[offset:]

	limit := opts.Limit
	if limit <= 0 || limit > len(scored) {
		limit = len(scored)
	}
	results := make([]Result, limit)
	for i := 0; i < limit; i++ {
		results[i] = Result{Observation: byID[scored[i].Candidate.ID], Score: scored[i]}
	}

	diag.EndedAtEpoch = time.Now().UnixMilli()
	return results, diag, nil
}
