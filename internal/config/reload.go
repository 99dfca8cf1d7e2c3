package config

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Watcher holds the active configuration and swaps in a freshly loaded one
// when the file's mtime advances. Readers call Current once per evaluation
// cycle and see either the old or the new snapshot, never a mix.
type Watcher struct {
	path     string
	current  atomic.Pointer[Config]
	mtime    time.Time
	log      *zap.Logger
	onReload func()
}

// OnReload registers a callback fired after each successful swap. Set it
// before Run starts.
func (w *Watcher) OnReload(fn func()) {
	w.onReload = fn
}

func NewWatcher(path string, initial *Config, log *zap.Logger) *Watcher {
	w := &Watcher{path: path, log: log}
	w.current.Store(initial)
	if info, err := os.Stat(path); err == nil {
		w.mtime = info.ModTime()
	}
	return w
}

// Current returns the active immutable config snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Run polls the config file until ctx is done. A file that fails to load or
// validate is skipped; the previous snapshot stays active.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) {
	if w.path == "" {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.maybeReload()
		}
	}
}

func (w *Watcher) maybeReload() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if !info.ModTime().After(w.mtime) {
		return
	}
	cfg, err := Load(w.path)
	if err != nil {
		if w.log != nil {
			w.log.Warn("config reload failed, keeping previous", zap.Error(err))
		}
		w.mtime = info.ModTime()
		return
	}
	w.current.Store(cfg)
	w.mtime = info.ModTime()
	if w.log != nil {
		w.log.Info("config reloaded", zap.String("path", w.path))
	}
	if w.onReload != nil {
		w.onReload()
	}
}
