// Package watcher re-ingests knowledge base files as they change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"knowledge-rag/internal/ingest"
)

const DefaultDebounce = 500 * time.Millisecond

// Handler applies a settled change to the index.
type Handler interface {
	IngestFile(ctx context.Context, path string) (*ingest.Summary, error)
	RemoveDocument(ctx context.Context, path string) error
}

// Watcher debounces file system events per path. When a path has been quiet
// for the debounce interval it is re-ingested if it still exists and removed
// from the index otherwise.
type Watcher struct {
	fs       *fsnotify.Watcher
	root     string
	match    func(path string) bool
	handler  Handler
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	fire   chan string
}

func New(root string, match func(string) bool, handler Handler, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		root:     root,
		match:    match,
		handler:  handler,
		debounce: debounce,
		timers:   make(map[string]*time.Timer),
		fire:     make(chan string),
	}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches dir and every non-hidden directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()
	log.Info().Str("root", w.root).Dur("debounce", w.debounce).Msg("Watching for changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		case path := <-w.fire:
			w.apply(ctx, path)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				log.Warn().Err(err).Str("dir", event.Name).Msg("Could not watch new directory")
			}
			return
		}
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return
	}
	if !w.match(event.Name) {
		return
	}
	w.schedule(ctx, event.Name)
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduleLocked(ctx, path)
}

// scheduleLocked restarts the quiet period of path. A timer that already
// expired is replaced, and its callback sees that and stays silent.
func (w *Watcher) scheduleLocked(ctx context.Context, path string) {
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		current := w.timers[path] == t
		if current {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		if !current {
			return
		}
		select {
		case w.fire <- path:
		case <-ctx.Done():
		}
	})
	w.timers[path] = t
}

func (w *Watcher) apply(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := w.handler.RemoveDocument(ctx, path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to remove document")
			return
		}
		log.Info().Str("path", path).Msg("Removed document")
		return
	}
	sum, err := w.handler.IngestFile(ctx, path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("Failed to re-ingest document")
		return
	}
	log.Info().Str("path", path).Int("chunks", sum.Chunks).Int("embedded", sum.Embedded).Msg("Re-ingested document")
}

func (w *Watcher) close() {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	if err := w.fs.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close file watcher")
	}
}
