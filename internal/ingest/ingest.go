// Package ingest implements the ingest processor: it claims batches from
// the durable queue and dispatches each payload through a closed switch
// over its event type, rather than a map of handler closures — a typed
// EventType plus a single switch keeps the dispatch table impossible to
// register incorrectly and easy to exhaustively review, per the
// composition-root hardening this system carries over the teacher's own
// per-tool registration style.
package ingest

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"

	cron "github.com/robfig/cron/v3"

	"github.com/opencodemem/opencodemem/internal/privacy"
	"github.com/opencodemem/opencodemem/internal/queue"
	"github.com/opencodemem/opencodemem/internal/store"
)

// EventType identifies the shape of a queued payload.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
	EventObservation  EventType = "observation"
	EventUserPrompt   EventType = "user_prompt"
)

// SessionStartPayload starts a session.
type SessionStartPayload struct {
	SessionID string `json:"session_id"`
	Project   string `json:"project"`
	Directory string `json:"directory"`
}

// SessionEndPayload ends a session.
type SessionEndPayload struct {
	SessionID string `json:"session_id"`
}

// ObservationPayload is a raw observation awaiting privacy filtering.
type ObservationPayload struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	ToolName  string `json:"tool_name,omitempty"`
	Project   string `json:"project,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TopicKey  string `json:"topic_key,omitempty"`
}

// UserPromptPayload is a saved user prompt.
type UserPromptPayload struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Project   string `json:"project,omitempty"`
}

// Store is the subset of *store.Store the ingest processor needs.
type Store interface {
	CreateSession(id, project, directory string) error
	EndSession(id, status, summary string) error
	AddObservation(p store.AddObservationParams) (int64, error)
	AddPrompt(p store.AddPromptParams) (int64, error)
}

// SessionCompleter completes a session (summary generation), invoked
// instead of a bare EndSession so the one-way session -> summary call
// stays in the session package, not duplicated here.
type SessionCompleter interface {
	Complete(id, status string) (store.Summary, error)
}

// EmbedEnqueuer hands a freshly written observation to the embedding worker.
type EmbedEnqueuer interface {
	Enqueue(observationID int64, project, text string)
}

// Publisher notifies the event stream fan-out after a successful write.
type Publisher interface {
	Publish(project, sessionID, eventType string, payload any)
}

// Processor claims batches from the queue and dispatches them.
type Processor struct {
	queue      *queue.Queue
	store      Store
	sessions   SessionCompleter
	embed      EmbedEnqueuer
	publish    Publisher
	batchSize  int
	processing atomic.Bool

	cron *cron.Cron
}

// New builds a Processor.
func New(q *queue.Queue, s Store, sessions SessionCompleter, embed EmbedEnqueuer, publish Publisher) *Processor {
	return &Processor{queue: q, store: s, sessions: sessions, embed: embed, publish: publish, batchSize: 25}
}

// Start schedules the poll loop on the given cron instance at spec
// (e.g. "@every 1s"). The caller owns the cron.Cron lifecycle so every
// scheduled loop in the process (ingest, embedding ticker, replicator,
// stream heartbeat) shares one scheduler.
func (p *Processor) Start(c *cron.Cron, spec string) error {
	_, err := c.AddFunc(spec, p.tick)
	return err
}

// tick claims and dispatches one batch. It is reentrancy-guarded so a
// slow batch never overlaps with the next scheduled tick.
func (p *Processor) tick() {
	if !p.processing.CompareAndSwap(false, true) {
		return
	}
	defer p.processing.Store(false)

	msgs, err := p.queue.ClaimBatch(p.batchSize)
	if err != nil {
		log.Printf("ingest: claim batch: %v", err)
		return
	}
	for _, m := range msgs {
		if err := p.dispatch(m); err != nil {
			if markErr := p.queue.MarkFailed(m, err); markErr != nil {
				log.Printf("ingest: mark failed: %v", markErr)
			}
			continue
		}
		if err := p.queue.MarkDone(m); err != nil {
			log.Printf("ingest: mark done: %v", err)
		}
	}
}

func (p *Processor) dispatch(m queue.Message) error {
	switch EventType(m.EventType) {
	case EventSessionStart:
		var payload SessionStartPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode session_start: %w", err)
		}
		return p.store.CreateSession(payload.SessionID, payload.Project, payload.Directory)

	case EventSessionEnd:
		var payload SessionEndPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode session_end: %w", err)
		}
		_, err := p.sessions.Complete(payload.SessionID, store.SessionCompleted)
		return err

	case EventObservation:
		var payload ObservationPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode observation: %w", err)
		}
		title := privacy.Sanitize(payload.Title)
		if title.Blocked {
			return fmt.Errorf("blocked: %s", title.Code)
		}
		content := privacy.Sanitize(payload.Content)
		if content.Blocked {
			return fmt.Errorf("blocked: %s", content.Code)
		}
		id, err := p.store.AddObservation(store.AddObservationParams{
			SessionID: payload.SessionID, Type: payload.Type, Title: title.Text, Content: content.Text,
			ToolName: payload.ToolName, Project: payload.Project, Scope: payload.Scope, TopicKey: payload.TopicKey,
		})
		if err != nil {
			return err
		}
		if p.embed != nil {
			p.embed.Enqueue(id, payload.Project, title.Text+"\n"+content.Text)
		}
		if p.publish != nil {
			p.publish.Publish(payload.Project, payload.SessionID, "observation_added", map[string]any{"id": id})
		}
		return nil

	case EventUserPrompt:
		var payload UserPromptPayload
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return fmt.Errorf("decode user_prompt: %w", err)
		}
		content := privacy.Sanitize(payload.Content)
		if content.Blocked {
			return fmt.Errorf("blocked: %s", content.Code)
		}
		_, err := p.store.AddPrompt(store.AddPromptParams{SessionID: payload.SessionID, Content: content.Text, Project: payload.Project})
		return err

	default:
		return fmt.Errorf("unknown event type %q", m.EventType)
	}
}
