package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and hands every valid edit to a callback.
// A file that fails to parse or validate is logged and ignored, so a typo
// while editing never takes the running assistant down.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// Written only by the polling goroutine.
	last atomic.Pointer[snapshot]
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is checked. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher reads path once. It fails if that first read does. onChange
// may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultPollInterval, onChange: onChange}
	for _, o := range opts {
		o(w)
	}
	snap, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last.Store(snap)
	return w, nil
}

// Current is the last valid config read from the file.
func (w *Watcher) Current() *Config {
	return w.last.Load().cfg
}

// Run polls until ctx is cancelled and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	log := slog.Default().With("path", w.path)

	info, err := os.Stat(w.path)
	if err != nil {
		log.WarnContext(ctx, "config: stat failed", "err", err)
		return
	}
	prev := w.last.Load()
	if info.ModTime().Equal(prev.mtime) {
		return
	}

	next, err := read(w.path)
	if err != nil {
		log.WarnContext(ctx, "config: edit rejected, keeping previous config", "err", err)
		return
	}
	if next.sum == prev.sum {
		// Only the mtime moved.
		w.last.Store(&snapshot{cfg: prev.cfg, sum: prev.sum, mtime: next.mtime})
		return
	}
	w.last.Store(next)

	changes := Diff(prev.cfg, next.cfg)
	log.InfoContext(ctx, "config: reloaded", "restart_required", changes.RestartRequired)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
}

// read loads, validates and fingerprints the file.
func read(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
