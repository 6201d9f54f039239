package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/liutong011025-cloud/CwritevV7/internal/api"
	"github.com/liutong011025-cloud/CwritevV7/internal/app"
	"github.com/liutong011025-cloud/CwritevV7/internal/config"
	"github.com/liutong011025-cloud/CwritevV7/internal/health"
	"github.com/liutong011025-cloud/CwritevV7/internal/mcpserver"
	"github.com/liutong011025-cloud/CwritevV7/internal/observe"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the grammar-checking HTTP API, the document session WebSocket
stream, health probes, the Prometheus /metrics endpoint and, when enabled,
the MCP endpoint.

The configuration file is watched; log level and proofread settings are
applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root.configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(newLogger(os.Stderr, level))

	slog.Info("cwrite starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion:  version,
		CheckLogBackend: string(cfg.CheckLog.Backend),
		LLMProviders:    providerNames(cfg),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, providers, app.WithLevelVar(level))
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, func(old, newCfg *config.Config) {
		application.ApplyConfig(newCfg, config.Diff(old, newCfg))
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("config watcher stopped", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newHandler(application, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("server ready", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil, "mcp", cfg.MCP.Enabled)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("app shutdown: %w", err))
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	if err := errors.Join(append([]error{serveErr}, errs...)...); err != nil {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// newHandler mounts every route of the server and wraps them in the
// tracing and metrics middleware.
func newHandler(a *app.App, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	api.New(a, a.Sessions(), a.CheckLog()).Register(mux)
	health.New(a.ReadinessCheckers(), health.WithVersion(version)).Register(mux)

	if cfg.MCP.Enabled {
		server := mcpserver.New(mcpserver.Config{
			Checker: a,
			Engine:  func() *proofread.Engine { return a.Checker().Engine() },
			Version: version,
		})
		mux.Handle(cfg.MCP.Path, mcpserver.Handler(server))
	}
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// providerNames lists the configured LLM providers in the order they are
// tried.
func providerNames(cfg *config.Config) []string {
	names := []string{cfg.Providers.LLM.Name}
	for _, fb := range cfg.Providers.Fallbacks {
		names = append(names, fb.Name)
	}
	return names
}
