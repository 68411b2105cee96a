// Package server wires every component into one running service.
//
// This is the composition root (DIP): it creates concrete
// implementations and injects them into the packages that depend on
// abstractions. No business logic lives here — only wiring, mirroring
// the teacher's internal/server.New composition-root pattern.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	chromem "github.com/philippgille/chromem-go"
	cron "github.com/robfig/cron/v3"

	"github.com/opencodemem/opencodemem/internal/api"
	"github.com/opencodemem/opencodemem/internal/config"
	"github.com/opencodemem/opencodemem/internal/embedding"
	"github.com/opencodemem/opencodemem/internal/ingest"
	"github.com/opencodemem/opencodemem/internal/queue"
	"github.com/opencodemem/opencodemem/internal/rank"
	"github.com/opencodemem/opencodemem/internal/replicate"
	"github.com/opencodemem/opencodemem/internal/search"
	"github.com/opencodemem/opencodemem/internal/session"
	"github.com/opencodemem/opencodemem/internal/store"
	"github.com/opencodemem/opencodemem/internal/stream"
	"github.com/opencodemem/opencodemem/internal/telemetry"
)

// Version is set at build time via ldflags.
var Version = "dev"

// App holds every wired component plus its lifecycle.
type App struct {
	HTTP       *http.Server
	Store      *store.Store
	Queue      *queue.Queue
	Cron       *cron.Cron
	Telemetry  *telemetry.Provider
	Replicator *replicate.Replicator
}

// Replay forces a synchronous sync pass for project, bypassing the
// scheduled cron cadence. Used by the CLI's replay command.
func (a *App) Replay(ctx context.Context, project string) (replicate.SyncRun, error) {
	if a.Replicator == nil {
		return replicate.SyncRun{}, fmt.Errorf("replication is not enabled")
	}
	return a.Replicator.Sync(ctx, project)
}

// New creates and wires every component. The returned cleanup function
// must be called on shutdown (typically via defer) and is always
// non-nil, safe to call even if wiring partially failed.
func New(cfg *config.Config) (*App, func(), error) {
	noop := func() {}

	st, err := store.New(store.Config{
		DataDir:            cfg.Store.DataDir,
		MaxObservationLength: cfg.Store.MaxObservationLen,
		MaxContextResults:  cfg.Store.MaxContextResults,
		MaxSearchResults:   cfg.Store.MaxSearchResults,
		DedupeWindow:       cfg.Store.DedupeWindow,
		BusyRetries:        8,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("open store: %w", err)
	}

	telProvider, err := telemetry.Init(context.Background(), telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		_ = st.Close()
		return nil, noop, fmt.Errorf("init telemetry: %w", err)
	}

	q := queue.New(st.Conn(), st.WithWriteLock, 5, time.Second)
	bcast := stream.New()
	sessions := session.New(st, nil)

	var embedder search.Embedder
	var worker *embedding.Worker
	if cfg.Embedding.Enabled {
		provider := &embedding.HTTPProvider{
			Client:   http.DefaultClient,
			Endpoint: cfg.Embedding.Endpoint,
			APIKey:   cfg.Embedding.APIKey,
		}
		worker = embedding.NewWorker(provider, st, cfg.Embedding.Model)
		embedder = queryEmbedder{provider: provider, model: cfg.Embedding.Model}
	}
	orchestrator := search.New(st, embedder)

	processor := ingest.New(q, st, sessions, embedEnqueuer{worker}, bcast)

	c := cron.New()
	if err := processor.Start(c, "@every 1s"); err != nil {
		_ = st.Close()
		return nil, noop, fmt.Errorf("schedule ingest: %w", err)
	}
	if err := bcast.StartHeartbeat(c, "@every 15s"); err != nil {
		_ = st.Close()
		return nil, noop, fmt.Errorf("schedule heartbeat: %w", err)
	}

	var repl *replicate.Replicator
	if cfg.Replicate.Enabled {
		db, err := chromem.NewPersistentDB(cfg.Store.DataDir+"/chromem", false)
		if err != nil {
			_ = st.Close()
			return nil, noop, fmt.Errorf("open replicator collection store: %w", err)
		}
		col, err := replicate.NewChromemCollection(db, "opencodemem")
		if err != nil {
			_ = st.Close()
			return nil, noop, fmt.Errorf("create replicator collection: %w", err)
		}
		repl = replicate.New(col, st)
		if err := repl.Start(c, cfg.Replicate.CronSpec, func() []string {
			stats, err := st.Stats()
			if err != nil {
				return nil
			}
			return stats.Projects
		}); err != nil {
			_ = st.Close()
			return nil, noop, fmt.Errorf("schedule replicator: %w", err)
		}
	}

	c.Start()
	if worker != nil {
		worker.Start(context.Background())
	}

	apiHandler := api.New(&api.Server{
		Store:      st,
		Queue:      q,
		Search:     orchestrator,
		Sessions:   sessions,
		Stream:     bcast,
		Replicator: repl,
		Telemetry:  telProvider,
		StartedAt:  time.Now(),
		SSEEnabled: true,
		Weights: rank.Weights{
			Lexical:  cfg.Search.LexicalWeight,
			Semantic: cfg.Search.SemanticWeight,
			Recency:  cfg.Search.RecencyWeight,
			TagBoost: cfg.Search.TagBoostWeight,
		},
	})

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: apiHandler}

	cleanup := func() {
		c.Stop()
		if worker != nil {
			worker.Stop()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("server: shutdown: %v", err)
		}
		if err := telProvider.Shutdown(ctx); err != nil {
			log.Printf("server: telemetry shutdown: %v", err)
		}
		if err := st.Close(); err != nil {
			log.Printf("server: store close: %v", err)
		}
	}

	return &App{HTTP: httpServer, Store: st, Queue: q, Cron: c, Telemetry: telProvider, Replicator: repl}, cleanup, nil
}

type embedEnqueuer struct{ w *embedding.Worker }

func (e embedEnqueuer) Enqueue(observationID int64, project, text string) {
	if e.w == nil {
		return
	}
	e.w.Enqueue(embedding.Job{ObservationID: observationID, Project: project, Text: text})
}

type queryEmbedder struct {
	provider *embedding.HTTPProvider
	model    string
}

func (q queryEmbedder) Embed(text string) ([]float32, error) {
	return q.provider.Embed(context.Background(), q.model, text)
}
