package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/liutong011025-cloud/CwritevV7/internal/config"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "cwrite.yaml"

// rootOptions holds the flags shared by all subcommands.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "cwrite",
		Short: "Grammar checking for letters, stories and book reviews",
		Long: `cwrite asks a language model for the grammar errors in a text, places
every reported error on an exact span of the text, and lets the writer apply
or dismiss the corrections one at a time.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfig loads the configuration file and adds a hint when it does not
// exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return cfg, err
}

func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cwrite version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cwrite %s\n", version)
		},
	}
}
