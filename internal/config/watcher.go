package config

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports that a watched config file changed on disk.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher notifies /api/settings consumers when the config file changes,
// grounded on go-claw's fsnotify-based config watcher.
type Watcher struct {
	path   string
	events chan ReloadEvent
}

// NewWatcher builds a Watcher for a single config file path.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path, events: make(chan ReloadEvent, 16)}
}

// Events returns the channel of reload notifications.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching in the background until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		_ = fsw.Close()
		return err
	}

	go func() {
		defer func() { _ = fsw.Close() }()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				log.Printf("config: file changed path=%s op=%s", ev.Name, ev.Op)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Printf("config: watcher error: %v", err)
			}
		}
	}()
	return nil
}
