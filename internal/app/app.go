// Package app wires the cwrite subsystems into a running application.
//
// [App] owns the lifecycle: [New] builds the checker and opens the check
// log from the config, [App.ApplyConfig] applies hot-reloadable settings,
// and [App.Shutdown] tears everything down in order.
//
// Tests inject doubles through functional options ([WithCheckLog],
// [WithMetrics], ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liutong011025-cloud/CwritevV7/internal/checklog"
	"github.com/liutong011025-cloud/CwritevV7/internal/config"
	"github.com/liutong011025-cloud/CwritevV7/internal/health"
	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
)

// Providers holds the provider built by main.go from the config registry.
type Providers struct {
	LLM llm.Provider

	// Name labels LLM in metrics and the check log. Default: "llm".
	Name string
}

// readier is implemented by providers that can tell whether a call would
// be attempted at all, such as a fallback group whose breakers are open.
type readier interface {
	Ready(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	checkLog  checklog.Store
	sessions  *SessionManager
	engineOpt []proofread.Option

	mu      sync.RWMutex
	cfg     *config.Config
	checker *llmcheck.Checker

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithCheckLog injects a check log instead of opening the configured one.
func WithCheckLog(s checklog.Store) Option {
	return func(a *App) { a.checkLog = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar hands New the level variable behind the process logger so
// that log level changes apply without a restart.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithEngineOptions appends engine options after the ones derived from
// the config.
func WithEngineOptions(opts ...proofread.Option) Option {
	return func(a *App) { a.engineOpt = append(a.engineOpt, opts...) }
}

// New creates an App from cfg and the providers built by main.go.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, fmt.Errorf("app: an llm provider is required")
	}
	if providers.Name == "" {
		providers.Name = "llm"
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initCheckLog(ctx); err != nil {
		return nil, fmt.Errorf("app: init check log: %w", err)
	}

	a.checker = a.newChecker(cfg.Proofread)
	a.sessions = NewSessionManager(SessionManagerConfig{
		Checker:      checkerFunc(a.run),
		Metrics:      a.metrics,
		CheckTimeout: cfg.Proofread.CheckTimeout,
	})
	a.closers = append(a.closers, a.sessions.Close)

	return a, nil
}

// initCheckLog opens the configured check-log backend unless one was
// injected.
func (a *App) initCheckLog(ctx context.Context) error {
	if a.checkLog != nil {
		return nil
	}

	cl := a.cfg.CheckLog
	switch cl.Backend {
	case config.CheckLogNone, "":
		a.checkLog = checklog.Discard
	case config.CheckLogFile:
		a.checkLog = checklog.NewFileStore(cl.Path)
	case config.CheckLogSQLite:
		s, err := checklog.OpenSQLite(cl.Path)
		if err != nil {
			return err
		}
		a.checkLog = s
	case config.CheckLogPostgres:
		pool, err := pgxpool.New(ctx, cl.DSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		s := checklog.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		a.checkLog = s
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
	default:
		return fmt.Errorf("unknown backend %q", cl.Backend)
	}
	a.closers = append(a.closers, a.checkLog.Close)
	slog.Info("check log ready", "backend", cl.Backend, "path", cl.Path)
	return nil
}

func (a *App) newChecker(p config.ProofreadConfig) *llmcheck.Checker {
	opts := []proofread.Option{proofread.WithPolicy(proofread.NewPolicy(p.Punctuation))}
	if p.ClassifyIssues {
		opts = append(opts, proofread.WithIssueClassifier(proofread.ClassifyIssue))
	}
	opts = append(opts, a.engineOpt...)

	return llmcheck.New(a.providers.LLM, proofread.NewEngine(opts...),
		llmcheck.WithTemperature(p.Temperature),
		llmcheck.WithMaxTokens(p.MaxTokens),
		llmcheck.WithMetrics(a.metrics),
		llmcheck.WithProviderName(a.providers.Name),
	)
}

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Checker returns the current checker. It is replaced when proofread
// settings change.
func (a *App) Checker() *llmcheck.Checker {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.checker
}

// Sessions returns the document session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// CheckLog returns the check-log store.
func (a *App) CheckLog() checklog.Store { return a.checkLog }

// Check runs one stateless grammar check and records its outcome.
func (a *App) Check(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error) {
	start := time.Now()
	res, err := a.run(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordCheck(ctx, status, time.Since(start).Seconds())
	return res, err
}

// run checks req under the configured timeout and writes the check log.
func (a *App) run(ctx context.Context, req llmcheck.Request) (llmcheck.Result, error) {
	a.mu.RLock()
	checker, timeout := a.checker, a.cfg.Proofread.CheckTimeout
	a.mu.RUnlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := checker.Check(ctx, req)
	a.record(ctx, req, res, err, time.Since(start))
	return res, err
}

// record writes one check-log entry. A failed write is logged and dropped.
func (a *App) record(ctx context.Context, req llmcheck.Request, res llmcheck.Result, checkErr error, d time.Duration) {
	ct := req.ContentType
	if ct == "" {
		ct = llmcheck.DefaultContentType
	}
	e := checklog.NewEntry(req.User, string(ct), req.Text)
	e.ErrorCount = res.Stats.Raw
	e.LocatedCount = len(res.Corrections)
	e.Duration = d
	if checkErr != nil {
		e.Error = checkErr.Error()
	}
	if err := a.checkLog.Record(context.WithoutCancel(ctx), e); err != nil {
		observe.Logger(ctx).Warn("check log write failed", "id", e.ID, "err", err)
	}
}

// ApplyConfig applies the live parts of a reloaded config and logs the
// sections that only take effect after a restart.
func (a *App) ApplyConfig(newCfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	a.mu.Lock()
	live := *a.cfg
	live.Server.LogLevel = newCfg.Server.LogLevel
	if d.ProofreadChanged {
		live.Proofread = d.NewProofread
		a.checker = a.newChecker(d.NewProofread)
	}
	a.cfg = &live
	a.mu.Unlock()

	if d.ProofreadChanged {
		a.sessions.SetCheckTimeout(d.NewProofread.CheckTimeout)
		slog.Info("proofread settings reloaded",
			"check_timeout", d.NewProofread.CheckTimeout,
			"temperature", d.NewProofread.Temperature,
			"max_tokens", d.NewProofread.MaxTokens,
			"punctuation", d.NewProofread.Punctuation,
			"classify_issues", d.NewProofread.ClassifyIssues,
		)
	}
	if sections := d.RestartRequired(); len(sections) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", sections)
	}
}

// ReadinessCheckers returns the probes behind /readyz.
func (a *App) ReadinessCheckers() []health.Checker {
	return []health.Checker{
		{Name: "llm", Check: func(ctx context.Context) error {
			if r, ok := a.providers.LLM.(readier); ok {
				return r.Ready(ctx)
			}
			return nil
		}},
		{Name: "checklog", Check: a.checkLog.Ping},
	}
}

// Shutdown tears down all subsystems in reverse init order. If ctx expires before
// all closers finish, the remaining ones are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Sessions go first so no check writes to a closed log.
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
