// Package session implements session lifecycle and the one-way summary
// generation call: completing a session hands its observations to a
// SummaryGenerator and stores the result, but nothing in the reverse
// direction depends on session — this keeps the observation-compiler and
// summary-generator from forming a cycle, per the composition-root design.
package session

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/opencodemem/opencodemem/internal/store"
)

// Store is the subset of *store.Store the session service needs.
type Store interface {
	CreateSession(id, project, directory string) error
	EndSession(id, status, summary string) error
	GetSession(id string) (*store.Session, error)
	RecentObservations(project, scope string, limit int) ([]store.Observation, error)
	SaveSummary(sum store.Summary) error
}

// SummaryGenerator turns a session's observations into a five-field
// digest. The default implementation is a deterministic type-based
// mapping; a host wanting an LLM-generated summary can inject its own.
type SummaryGenerator interface {
	Generate(sess *store.Session, observations []store.Observation) store.Summary
}

// Field length caps applied to the digest before it's persisted.
const (
	requestFieldCap = 500
	otherFieldCap   = 1000
)

// DigestGenerator is the default SummaryGenerator: it buckets observation
// titles by type into the request/investigated/learned/completed fields.
type DigestGenerator struct{}

func (DigestGenerator) Generate(sess *store.Session, observations []store.Observation) store.Summary {
	var request, investigated, learned, completed []string
	for _, o := range observations {
		switch o.Type {
		case "task", "workflow":
			request = append(request, o.Title)
		case "research", "fact":
			investigated = append(investigated, o.Title)
		case "learning", "decision":
			learned = append(learned, o.Title)
		case "bugfix", "completed":
			completed = append(completed, o.Title)
		}
	}
	return store.Summary{
		Request:      capField(strings.Join(request, "; "), requestFieldCap),
		Investigated: capField(strings.Join(investigated, "; "), otherFieldCap),
		Learned:      capField(strings.Join(learned, "; "), otherFieldCap),
		Completed:    capField(strings.Join(completed, "; "), otherFieldCap),
	}
}

func capField(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// flattenSummary joins the non-empty five-field digest into a single
// block of text for the legacy sessions.summary column, which callers
// (RecentSessions, exports) still read as a quick human-readable recap.
func flattenSummary(sum store.Summary) string {
	var parts []string
	if sum.Request != "" {
		parts = append(parts, "Request: "+sum.Request)
	}
	if sum.Investigated != "" {
		parts = append(parts, "Investigated: "+sum.Investigated)
	}
	if sum.Learned != "" {
		parts = append(parts, "Learned: "+sum.Learned)
	}
	if sum.Completed != "" {
		parts = append(parts, "Completed: "+sum.Completed)
	}
	if sum.NextSteps != "" {
		parts = append(parts, "Next steps: "+sum.NextSteps)
	}
	return strings.Join(parts, "\n")
}

// Service wraps session lifecycle operations.
type Service struct {
	store     Store
	generator SummaryGenerator
}

// New builds a Service. Pass nil for generator to use DigestGenerator.
func New(s Store, generator SummaryGenerator) *Service {
	if generator == nil {
		generator = DigestGenerator{}
	}
	return &Service{store: s, generator: generator}
}

// Start registers a new session.
func (svc *Service) Start(id, project, directory string) error {
	return svc.store.CreateSession(id, project, directory)
}

// Complete generates a five-field summary from the session's observations,
// ends the session with the given status, and persists the summary.
// Summary generation and persistence are best-effort: a failure there
// does not prevent the session from being marked completed/failed.
func (svc *Service) Complete(id, status string) (store.Summary, error) {
	if status != store.SessionCompleted && status != store.SessionFailed {
		status = store.SessionCompleted
	}

	sess, err := svc.store.GetSession(id)
	if err != nil {
		return store.Summary{}, fmt.Errorf("session: get %s: %w", id, err)
	}

	observations, err := svc.store.RecentObservations(sess.Project, "session", 500)
	if err != nil {
		return store.Summary{}, fmt.Errorf("session: load observations: %w", err)
	}
	var sessionObs []store.Observation
	for _, o := range observations {
		if o.SessionID == id {
			sessionObs = append(sessionObs, o)
		}
	}

	summary := svc.generator.Generate(sess, sessionObs)
	summary.ID = uuid.NewString()
	summary.SessionID = id

	if err := svc.store.EndSession(id, status, flattenSummary(summary)); err != nil {
		return store.Summary{}, fmt.Errorf("session: end %s: %w", id, err)
	}

	if err := svc.store.SaveSummary(summary); err != nil {
		return summary, nil
	}
	return summary, nil
}
