package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/liutong011025-cloud/CwritevV7/internal/app"
	"github.com/liutong011025-cloud/CwritevV7/internal/config"
	"github.com/liutong011025-cloud/CwritevV7/internal/resilience"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/anyllm"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/dify"
	"github.com/liutong011025-cloud/CwritevV7/pkg/provider/llm/openai"
)

// registerBuiltinProviders wires all built-in LLM factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("dify", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []dify.Option
		if entry.BaseURL != "" {
			opts = append(opts, dify.WithBaseURL(entry.BaseURL))
		}
		if id := entry.OptString("app_id"); id != "" {
			opts = append(opts, dify.WithAppID(id))
		}
		if user := entry.OptString("default_user"); user != "" {
			opts = append(opts, dify.WithDefaultUser(user))
		}
		return dify.New(entry.APIKey, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if s := entry.OptString("timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("openai: options.timeout: %w", err)
			}
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining vendors go through any-llm. ollama, llamacpp and
	// llamafile are local servers addressed by BaseURL alone.
	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the configured LLM. When fallbacks are
// configured the providers are wrapped in a [resilience.LLMFallback] that
// tries them in order behind per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	if len(cfg.Providers.Fallbacks) == 0 {
		return &app.Providers{LLM: primary, Name: cfg.Providers.LLM.Name}, nil
	}

	fb := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{
		OnError: func(name string, err error) {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				slog.Debug("llm provider skipped", "name", name, "err", err)
				return
			}
			slog.Warn("llm provider failed, trying next", "name", name, "err", err)
		},
	})
	for _, entry := range cfg.Providers.Fallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create fallback llm provider %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return &app.Providers{LLM: fb, Name: cfg.Providers.LLM.Name}, nil
}
