// Package stream fans events out to subscribed clients over SSE,
// grounded on go-claw's gateway.handleTaskStream: per-client channels,
// context-driven unsubscribe, and a heartbeat to keep proxies from
// closing idle connections.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	cron "github.com/robfig/cron/v3"
)

// Event is a single notification fanned out to subscribers of a project.
type Event struct {
	Project   string    `json:"project"`
	SessionID string    `json:"sessionId,omitempty"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

type subscriber struct {
	id        string
	project   string
	sessionID string
	ch        chan Event
}

// matches reports whether sub should receive a broadcast for the given
// project/sessionId: a client with no filters gets everything, a
// broadcast with neither dimension set goes to everyone, and otherwise
// the target set is the union of clients matching either dimension.
func (sub *subscriber) matches(project, sessionID string) bool {
	if project == "" && sessionID == "" {
		return true
	}
	if sub.project == "" && sub.sessionID == "" {
		return true
	}
	if sub.project != "" && sub.project == project {
		return true
	}
	if sub.sessionID != "" && sub.sessionID == sessionID {
		return true
	}
	return false
}

// Broadcaster is a bounded fan-out hub. Slow subscribers drop events
// rather than block a publisher, since memory events are advisory, not
// a delivery-guaranteed log (the durable queue already owns that job).
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// New builds an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: map[string]*subscriber{}}
}

// Subscribe registers a new client for a project's and/or session's
// events ("" for either means unfiltered on that dimension) and returns
// its channel plus an unsubscribe func.
func (b *Broadcaster) Subscribe(project, sessionID string) (id string, events <-chan Event, unsubscribe func()) {
	id = uuid.NewString()
	sub := &subscriber{id: id, project: project, sessionID: sessionID, ch: make(chan Event, 32)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	return id, sub.ch, func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
}

// Publish satisfies ingest.Publisher and fans eventType/payload out to
// every subscriber matching the project or sessionId (union).
func (b *Broadcaster) Publish(project, sessionID, eventType string, payload any) {
	ev := Event{Project: project, SessionID: sessionID, Type: eventType, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(project, sessionID) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// drop: subscriber isn't keeping up
		}
	}
}

// StartHeartbeat schedules a periodic "heartbeat" event to every
// subscriber on the shared cron scheduler, so proxies with idle-timeout
// don't close SSE connections between real events.
func (b *Broadcaster) StartHeartbeat(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, func() {
		b.mu.RLock()
		defer b.mu.RUnlock()
		for _, sub := range b.subs {
			select {
			case sub.ch <- Event{Project: sub.project, Type: "heartbeat", Timestamp: time.Now()}:
			default:
			}
		}
	})
	return err
}

// SubscriberCount reports the current fan-out width, used by /api/stats.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
