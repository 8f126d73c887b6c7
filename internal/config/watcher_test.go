package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gastromaster/livevoice/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
live:
  api_key: test-key
  voice: Puck
`

const watcherUpdatedYAML = `
server:
  log_level: debug
live:
  api_key: test-key
  voice: Kore
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// writeFile writes content and pushes the mtime forward so that consecutive
// writes within the filesystem's timestamp granularity are still noticed.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	bump(t, path)
}

var (
	bumpMu   sync.Mutex
	bumpNext = time.Now()
)

func bump(t *testing.T, path string) {
	t.Helper()
	bumpMu.Lock()
	bumpNext = bumpNext.Add(time.Second)
	ts := bumpNext
	bumpMu.Unlock()
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

// manualWatcher never polls on its own; tests drive it with Check.
func manualWatcher(t *testing.T, path string, onChange func(old, new *config.Config)) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, onChange, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w := manualWatcher(t, cfgPath, nil)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Live.Model != config.DefaultModel {
		t.Errorf("defaults not applied: model = %q", cfg.Live.Model)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var gotOld, gotNew *config.Config
	w := manualWatcher(t, cfgPath, func(old, new *config.Config) {
		gotOld, gotNew = old, new
	})

	writeFile(t, cfgPath, watcherUpdatedYAML)
	if !w.Check() {
		t.Fatal("Check() = false after content change")
	}

	if gotOld == nil || gotNew == nil {
		t.Fatal("callback received nil configs")
	}
	if gotOld.Live.Voice != "Puck" || gotNew.Live.Voice != "Kore" {
		t.Errorf("voice: old %q new %q", gotOld.Live.Voice, gotNew.Live.Voice)
	}
	if d := config.Diff(gotOld, gotNew); !d.LogLevelChanged || !d.LiveChanged {
		t.Errorf("diff = %+v, want log level and live changes", d)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	calls := 0
	w := manualWatcher(t, cfgPath, func(_, _ *config.Config) { calls++ })

	writeFile(t, cfgPath, watcherInvalidYAML)
	if w.Check() {
		t.Error("Check() = true for an invalid config")
	}
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}

	// Fixing the file is picked up again.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	if !w.Check() || calls != 1 {
		t.Errorf("fixed config not applied: calls = %d", calls)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	calls := 0
	w := manualWatcher(t, cfgPath, func(_, _ *config.Config) { calls++ })

	bump(t, cfgPath)
	if w.Check() {
		t.Error("Check() = true for touch-only")
	}
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

func TestWatcher_Polls(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	called := make(chan *config.Config, 1)
	w, err := config.NewWatcher(cfgPath, func(_, new *config.Config) {
		select {
		case called <- new:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)
	select {
	case cfg := <-called:
		if cfg.Live.Voice != "Kore" {
			t.Errorf("voice = %q, want Kore", cfg.Live.Voice)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher("/nonexistent/path.yaml", nil)
	if err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.Stop()
	w.Stop()
}
