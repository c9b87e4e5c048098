// Package blocklist reads the apps/sites selection from a YAML file and
// watches it for edits.
package blocklist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/storage"
)

// Load parses the blocklist at path.
//
//	apps:
//	  - com.example.game
//	sites:
//	  - news.example.com
func Load(path string) (storage.Selection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storage.Selection{}, fmt.Errorf("failed to read blocklist: %w", err)
	}

	var sel storage.Selection
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return storage.Selection{}, fmt.Errorf("failed to parse blocklist %s: %w", path, err)
	}
	return sel.Normalize(), nil
}

// Watcher reloads the blocklist when the file changes and hands the result
// to onChange. Bursts of events are collapsed into one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(context.Context, storage.Selection) error
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for path
func NewWatcher(path string, debounce time.Duration, onChange func(context.Context, storage.Selection) error, logger zerolog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blocklist path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     absPath,
		debounce: debounce,
		onChange: onChange,
		watcher:  watcher,
		logger:   logger.With().Str("component", "blocklist").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory holding the file; editors that replace the
// file by rename would otherwise drop a direct watch.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		_ = w.watcher.Close()
		return fmt.Errorf("failed to watch blocklist directory %s: %w", dir, err)
	}

	w.logger.Info().Str("path", w.path).Msg("Watching blocklist")
	w.started.Store(true)
	go w.loop(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if err := w.watcher.Close(); err != nil {
			w.logger.Error().Err(err).Msg("Error closing file watcher")
		}
	})
	if w.started.Load() {
		<-w.done
	}
}

// Reload loads the file and hands it to onChange immediately.
func (w *Watcher) Reload(ctx context.Context) error {
	sel, err := Load(w.path)
	if err != nil {
		metrics.BlocklistReloads.WithLabelValues("error").Inc()
		return err
	}
	if err := w.onChange(ctx, sel); err != nil {
		metrics.BlocklistReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to apply blocklist: %w", err)
	}

	metrics.BlocklistReloads.WithLabelValues("success").Inc()
	w.logger.Info().
		Int("apps", len(sel.Apps)).
		Int("sites", len(sel.Sites)).
		Msg("Blocklist reloaded")
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	name := filepath.Base(w.path)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Remove) {
				w.logger.Warn().Str("file", event.Name).Msg("Blocklist removed, keeping current selection")
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Blocklist watcher error")
		case <-timer.C:
			if err := w.Reload(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Failed to reload blocklist")
			}
		}
	}
}
