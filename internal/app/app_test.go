package app_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/liutong011025-cloud/CwritevV7/internal/app"
	"github.com/liutong011025-cloud/CwritevV7/internal/checklog"
	"github.com/liutong011025-cloud/CwritevV7/internal/config"
	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
	llmmock "github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/mock"
)

// testConfig returns a minimal valid config with defaults applied.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", APIKey: "test"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type memLog struct {
	mu      sync.Mutex
	entries []checklog.Entry
	err     error
}

func (m *memLog) Record(_ context.Context, e checklog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLog) Recent(context.Context, int) ([]checklog.Entry, error) { return nil, nil }
func (m *memLog) Ping(context.Context) error                            { return m.err }
func (m *memLog) Close() error                                          { return nil }

func (m *memLog) all() []checklog.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]checklog.Entry(nil), m.entries...)
}

func newApp(t *testing.T, cfg *config.Config, provider llm.Provider, opts ...app.Option) (*app.App, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]app.Option{app.WithMetrics(m)}, opts...)
	a, err := app.New(context.Background(), cfg, &app.Providers{LLM: provider, Name: "openai"}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a, reader
}

func TestNew_RequiresProvider(t *testing.T) {
	t.Parallel()
	if _, err := app.New(context.Background(), testConfig(), &app.Providers{}); err == nil {
		t.Fatal("New without an llm provider succeeded")
	}
}

func TestApp_CheckRecordsLog(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"original":"go","corrected":"goes"},{"original":"missing","corrected":"x"}]`,
	}}
	log := &memLog{}
	a, reader := newApp(t, testConfig(), provider, app.WithCheckLog(log))

	res, err := a.Check(context.Background(), llmcheck.Request{
		Text: "She go home.", ContentType: llmcheck.Story, User: "u-7",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(res.Corrections) != 1 {
		t.Fatalf("corrections = %d, want 1", len(res.Corrections))
	}

	entries := log.all()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.User != "u-7" || e.ContentType != "story" || e.ContentPrefix != "She go home." {
		t.Errorf("entry = %+v", e)
	}
	if e.ErrorCount != 2 || e.LocatedCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", e.ErrorCount, e.LocatedCount)
	}
	if got := counter(t, reader, "cwrite.check.requests", "status", "ok"); got != 1 {
		t.Errorf("ok checks = %d, want 1", got)
	}
}

func TestApp_CheckLogFailureDoesNotFailCheck(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `[]`}}
	a, _ := newApp(t, testConfig(), provider, app.WithCheckLog(&memLog{err: errors.New("disk full")}))

	if _, err := a.Check(context.Background(), llmcheck.Request{Text: "Fine text."}); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestApp_CheckProviderError(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteErr: errors.New("status 502")}
	log := &memLog{}
	a, reader := newApp(t, testConfig(), provider, app.WithCheckLog(log))

	if _, err := a.Check(context.Background(), llmcheck.Request{Text: "Text."}); err == nil {
		t.Fatal("Check succeeded, want provider error")
	}
	if entries := log.all(); len(entries) != 1 || entries[0].Error == "" {
		t.Errorf("entries = %+v, want one entry with an error", entries)
	}
	if got := counter(t, reader, "cwrite.check.requests", "status", "error"); got != 1 {
		t.Errorf("error checks = %d, want 1", got)
	}
}

func TestApp_CheckTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Proofread.CheckTimeout = 20 * time.Millisecond
	provider := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	a, _ := newApp(t, cfg, provider, app.WithCheckLog(checklog.Discard))

	_, err := a.Check(context.Background(), llmcheck.Request{Text: "Slow."})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestApp_FileCheckLogFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CheckLog = config.CheckLogConfig{
		Backend: config.CheckLogFile,
		Path:    filepath.Join(t.TempDir(), "checks.jsonl"),
	}
	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `[]`}}
	a, _ := newApp(t, cfg, provider)

	if _, ok := a.CheckLog().(*checklog.FileStore); !ok {
		t.Fatalf("CheckLog() = %T, want *checklog.FileStore", a.CheckLog())
	}
	if _, err := a.Check(context.Background(), llmcheck.Request{Text: "Hello there."}); err != nil {
		t.Fatal(err)
	}
	got, err := a.CheckLog().Recent(context.Background(), 10)
	if err != nil || len(got) != 1 {
		t.Errorf("Recent = %v, %v, want one entry", got, err)
	}
}

func TestApp_SQLiteCheckLogFromConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CheckLog = config.CheckLogConfig{
		Backend: config.CheckLogSQLite,
		Path:    filepath.Join(t.TempDir(), "checks.db"),
	}
	a, _ := newApp(t, cfg, &llmmock.Provider{})

	if _, ok := a.CheckLog().(*checklog.SQLiteStore); !ok {
		t.Fatalf("CheckLog() = %T, want *checklog.SQLiteStore", a.CheckLog())
	}
}

func TestApp_ApplyConfig(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `[{"original":"monday","corrected":"Monday"}]`,
	}}
	var level slog.LevelVar
	old := testConfig()
	a, _ := newApp(t, old, provider, app.WithCheckLog(checklog.Discard), app.WithLevelVar(&level))
	before := a.Checker()

	res, err := a.Check(context.Background(), llmcheck.Request{Text: "See you monday."})
	if err != nil {
		t.Fatal(err)
	}
	if issue := res.Corrections[0].Issue; issue != "" {
		t.Fatalf("issue = %q before reload, want empty", issue)
	}

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Proofread.ClassifyIssues = true
	updated.Proofread.MaxTokens = 512
	updated.Providers.LLM.Model = "gpt-4o"
	a.ApplyConfig(updated, config.Diff(old, updated))

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if a.Checker() == before {
		t.Error("checker was not rebuilt")
	}
	if a.Config().Proofread.MaxTokens != 512 {
		t.Errorf("max_tokens = %d, want 512", a.Config().Proofread.MaxTokens)
	}
	if a.Config().Providers.LLM.Model != "" {
		t.Errorf("provider model = %q, want the old value until restart", a.Config().Providers.LLM.Model)
	}
	if got := a.Checker().BuildRequest(llmcheck.Request{Text: "x"}).MaxTokens; got != 512 {
		t.Errorf("request max tokens = %d, want 512", got)
	}

	res, err = a.Check(context.Background(), llmcheck.Request{Text: "See you monday."})
	if err != nil {
		t.Fatal(err)
	}
	if issue := res.Corrections[0].Issue; issue != proofread.IssueCapitalization {
		t.Errorf("issue = %q after reload, want %q", issue, proofread.IssueCapitalization)
	}
}

type readyProvider struct {
	llmmock.Provider
	err error
}

func (p *readyProvider) Ready(context.Context) error { return p.err }

func TestApp_ReadinessCheckers(t *testing.T) {
	t.Parallel()

	provider := &readyProvider{err: errors.New("all breakers open")}
	a, _ := newApp(t, testConfig(), provider, app.WithCheckLog(&memLog{}))

	results := map[string]error{}
	for _, c := range a.ReadinessCheckers() {
		results[c.Name] = c.Check(context.Background())
	}
	if results["llm"] == nil {
		t.Error("llm check passed, want the provider's readiness error")
	}
	if err, ok := results["checklog"]; !ok || err != nil {
		t.Errorf("checklog check = %v (present %v), want nil", err, ok)
	}
}

func TestApp_ShutdownClosesSessions(t *testing.T) {
	t.Parallel()

	a, _ := newApp(t, testConfig(), &llmmock.Provider{}, app.WithCheckLog(checklog.Discard))
	a.Sessions().Create("text", app.Meta{})

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := a.Sessions().Len(); n != 0 {
		t.Errorf("sessions = %d after shutdown, want 0", n)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}
