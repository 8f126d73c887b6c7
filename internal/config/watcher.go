package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often a [Watcher] looks at the file.
const defaultPollInterval = 5 * time.Second

// Watcher keeps the live settings in step with the YAML file on disk. Edits
// that fail to parse or validate are logged and ignored; the running app
// keeps its last good settings.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reloads from the ticker and from Check.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fileStamp

	quit     chan struct{}
	quitOnce sync.Once
}

// fileStamp identifies one revision of the file. mtime is compared first;
// sum decides when only the timestamp moved.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher reads path, which must hold a valid config, and starts polling
// it. onChange runs on the polling goroutine with the settings being replaced
// and their replacement.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := readStamped(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, stamp

	go w.loop()
	return w, nil
}

// Current returns the settings in force.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop halts polling. Calling it again does nothing.
func (w *Watcher) Stop() {
	w.quitOnce.Do(func() { close(w.quit) })
}

// Check looks at the file now instead of waiting for the next tick. It
// reports whether new settings were installed.
func (w *Watcher) Check() bool {
	return w.reload()
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-t.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() bool {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: settings file unreadable", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return false
	}

	cfg, stamp, err := readStamped(w.path)
	if err != nil {
		slog.Warn("config: edit ignored, keeping previous settings", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	if stamp.sum == w.seen.sum {
		w.seen = stamp // touched, same bytes
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.seen = cfg, stamp
	w.mu.Unlock()

	slog.Info("config: settings reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return true
}

// readStamped parses and validates the file at path and stamps the bytes it
// parsed.
func readStamped(path string) (*Config, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
