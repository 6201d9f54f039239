package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/liutong011025-cloud/CwritevV7/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  llm:
    name: dify
    api_key: test-key
proofread:
  temperature: 0.1
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  llm:
    name: dify
    api_key: test-key
proofread:
  temperature: 0.4
`

const watcherInvalidYAML = `
server:
  log_level: bananas
providers:
  llm:
    name: dify
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// bumpMtime moves the file's mtime forward so a rewrite within the same
// filesystem timestamp tick is still noticed.
func bumpMtime(t *testing.T, path string, by time.Duration) {
	t.Helper()
	ts := time.Now().Add(by)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func newWatchedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cwrite.yaml")
	writeFile(t, path, content)
	return path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if cfg.Proofread.CheckTimeout != config.DefaultCheckTimeout {
		t.Errorf("check_timeout: got %s, want default %s", cfg.Proofread.CheckTimeout, config.DefaultCheckTimeout)
	}
}

func TestWatcher_PollDetectsChange(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)

	var gotOld, gotNew *config.Config
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		gotOld, gotNew = old, new
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	if !w.Poll() {
		t.Fatal("Poll() = false, want true after content change")
	}
	if gotOld == nil || gotNew == nil {
		t.Fatal("callback received nil configs")
	}
	if gotOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", gotOld.Server.LogLevel, config.LogInfo)
	}
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", gotNew.Server.LogLevel, config.LogDebug)
	}
	if cur := w.Current(); cur.Proofread.Temperature != 0.4 {
		t.Errorf("Current() temperature: got %v, want 0.4", cur.Proofread.Temperature)
	}

	d := config.Diff(gotOld, gotNew)
	if !d.LogLevelChanged || !d.ProofreadChanged {
		t.Errorf("diff = %+v, want log level and proofread changes", d)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)

	calls := 0
	w, err := config.NewWatcher(path, func(old, new *config.Config) { calls++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path, time.Second)

	if w.Poll() {
		t.Error("Poll() = true for an invalid config")
	}
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)

	calls := 0
	w, err := config.NewWatcher(path, func(old, new *config.Config) { calls++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bumpMtime(t, path, time.Second)
	if w.Poll() {
		t.Error("Poll() = true for a touch-only change")
	}
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t, watcherValidYAML)

	called := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(_, new *config.Config) {
		select {
		case called <- new:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path, time.Second)

	select {
	case cfg := <-called:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("reloaded log_level: got %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
