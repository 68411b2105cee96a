package stream

import (
	"testing"
	"time"
)

func TestPublish_DeliversToMatchingProjectSubscriber(t *testing.T) {
	b := New()
	_, events, unsubscribe := b.Subscribe("proj-a", "")
	defer unsubscribe()

	b.Publish("proj-a", "", "observation_added", map[string]any{"id": 1})

	select {
	case ev := <-events:
		if ev.Type != "observation_added" {
			t.Fatalf("unexpected event type %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_SkipsSubscriberForOtherProjectAndSession(t *testing.T) {
	b := New()
	_, events, unsubscribe := b.Subscribe("proj-a", "")
	defer unsubscribe()

	b.Publish("proj-b", "other-session", "observation_added", nil)

	select {
	case ev := <-events:
		t.Fatalf("did not expect an event, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_AllProjectsReceivesEverything(t *testing.T) {
	b := New()
	_, events, unsubscribe := b.Subscribe("", "")
	defer unsubscribe()

	b.Publish("any-project", "any-session", "session_start", nil)

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected wildcard subscriber to receive the event")
	}
}

func TestPublish_DeliversToMatchingSessionSubscriberAcrossProjects(t *testing.T) {
	b := New()
	_, events, unsubscribe := b.Subscribe("", "sess-1")
	defer unsubscribe()

	b.Publish("some-other-project", "sess-1", "observation_added", nil)

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected session-scoped subscriber to receive the event")
	}
}

func TestPublish_BroadcastWithNeitherDimensionReachesFilteredSubscribers(t *testing.T) {
	b := New()
	_, events, unsubscribe := b.Subscribe("proj-a", "")
	defer unsubscribe()

	b.Publish("", "", "heartbeat", nil)

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast with no project/session to reach every subscriber")
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New()
	_, events, unsubscribe := b.Subscribe("proj-a", "")
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}
}
