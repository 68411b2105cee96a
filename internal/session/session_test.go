package session

import (
	"testing"

	"github.com/opencodemem/opencodemem/internal/store"
)

type endCall struct {
	status  string
	summary string
}

type fakeStore struct {
	sessions     map[string]*store.Session
	observations []store.Observation
	ended        map[string]endCall
	summaries    map[string]store.Summary
}

func (f *fakeStore) CreateSession(id, project, directory string) error {
	if f.sessions == nil {
		f.sessions = map[string]*store.Session{}
	}
	f.sessions[id] = &store.Session{ID: id, Project: project, Directory: directory, Status: store.SessionActive}
	return nil
}

func (f *fakeStore) EndSession(id, status, summary string) error {
	if f.ended == nil {
		f.ended = map[string]endCall{}
	}
	f.ended[id] = endCall{status: status, summary: summary}
	return nil
}

func (f *fakeStore) GetSession(id string) (*store.Session, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) RecentObservations(project, scope string, limit int) ([]store.Observation, error) {
	return f.observations, nil
}

func (f *fakeStore) SaveSummary(sum store.Summary) error {
	if f.summaries == nil {
		f.summaries = map[string]store.Summary{}
	}
	f.summaries[sum.SessionID] = sum
	return nil
}

func TestComplete_GeneratesSummaryAndEndsSession(t *testing.T) {
	fs := &fakeStore{
		observations: []store.Observation{
			{SessionID: "s1", Type: "decision", Title: "Chose SQLite"},
			{SessionID: "s1", Type: "bugfix", Title: "Fixed race"},
			{SessionID: "other", Type: "note", Title: "unrelated"},
		},
	}
	svc := New(fs, nil)
	if err := svc.Start("s1", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	summary, err := svc.Complete("s1", "completed")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if summary.Learned == "" {
		t.Fatalf("expected learned field to be populated from the decision observation")
	}
	if summary.Completed == "" {
		t.Fatalf("expected completed field to be populated from the bugfix observation")
	}
	call, ok := fs.ended["s1"]
	if !ok {
		t.Fatalf("expected EndSession to be called")
	}
	if call.status != "completed" {
		t.Fatalf("expected status %q, got %q", "completed", call.status)
	}
	if call.summary == "" {
		t.Fatalf("expected a flattened summary passed to EndSession")
	}
	if fs.summaries["s1"].SessionID != "s1" {
		t.Fatalf("expected SaveSummary to be called with session id s1")
	}
}

func TestComplete_InvalidStatusDefaultsToCompleted(t *testing.T) {
	fs := &fakeStore{}
	svc := New(fs, nil)
	if err := svc.Start("s2", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Complete("s2", "bogus"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if fs.ended["s2"].status != "completed" {
		t.Fatalf("expected invalid status to default to completed, got %q", fs.ended["s2"].status)
	}
}

func TestComplete_FailedStatusPropagates(t *testing.T) {
	fs := &fakeStore{}
	svc := New(fs, nil)
	if err := svc.Start("s3", "proj", "/tmp/proj"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Complete("s3", "failed"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if fs.ended["s3"].status != "failed" {
		t.Fatalf("expected status failed, got %q", fs.ended["s3"].status)
	}
}
