package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the configuration file when it changes on disk. Editors
// replace files instead of writing them in place, so the parent directory is
// watched and events are filtered by name.
type Watcher struct {
	manager      *Manager
	path         string
	watcher      *fsnotify.Watcher
	onReload     func(*Config)
	log          logrus.FieldLogger
	debounceTime time.Duration
	mu           sync.Mutex
	pending      bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewWatcher watches path. onReload receives every configuration that loads
// and validates; invalid edits are logged and the previous one stays active.
func NewWatcher(m *Manager, path string, onReload func(*Config), log logrus.FieldLogger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("no config file to watch")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		manager:      &Manager{configDir: m.configDir, explicit: abs},
		path:         abs,
		watcher:      fsw,
		onReload:     onReload,
		log:          log,
		debounceTime: 500 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop stops watching and waits for the loops to exit.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.pending = true
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watcher error")
		}
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			fire := w.pending
			w.pending = false
			w.mu.Unlock()

			if fire {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.manager.Load()
	if err != nil {
		w.log.WithError(err).WithField("path", w.path).Error("config reload rejected")
		return
	}
	w.log.WithFields(logrus.Fields{"path": w.path, "models": len(cfg.Models)}).Info("config reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
