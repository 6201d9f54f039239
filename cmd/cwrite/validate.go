package main

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/liutong011025-cloud/CwritevV7/internal/config"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Load the configuration file, apply defaults and check it for
errors, including provider names that no built-in implementation serves.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.OutOrStdout(), root.configPath)
		},
	}
}

func runValidate(out io.Writer, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	known := reg.LLMNames()

	var errs []error
	entries := append([]config.ProviderEntry{cfg.Providers.LLM}, cfg.Providers.Fallbacks...)
	for _, e := range entries {
		if !slices.Contains(known, e.Name) {
			errs = append(errs, fmt.Errorf("llm provider %q is not built in; known: %v", e.Name, known))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config %q: %w", path, err)
	}

	fmt.Fprintf(out, "config %s is valid\n", path)
	fmt.Fprintf(out, "  llm:        %s\n", describe(cfg.Providers.LLM))
	for _, fb := range cfg.Providers.Fallbacks {
		fmt.Fprintf(out, "  fallback:   %s\n", describe(fb))
	}
	fmt.Fprintf(out, "  listen:     %s\n", cfg.Server.ListenAddr)
	fmt.Fprintf(out, "  check log:  %s\n", cfg.CheckLog.Backend)
	if cfg.MCP.Enabled {
		fmt.Fprintf(out, "  mcp:        %s\n", cfg.MCP.Path)
	} else {
		fmt.Fprintf(out, "  mcp:        (disabled)\n")
	}
	return nil
}

func describe(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}
