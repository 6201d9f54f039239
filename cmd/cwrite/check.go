package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liutong011025-cloud/CwritevV7/internal/app"
	"github.com/liutong011025-cloud/CwritevV7/internal/config"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread"
	"github.com/liutong011025-cloud/CwritevV7/internal/proofread/llmcheck"
)

type checkOptions struct {
	contentType string
	user        string
	apply       bool
	jobs        int
}

func newCheckCommand(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check FILE...",
		Short: "Proofread text files",
		Long: `Send each file to the configured language model and print the
located errors with the text highlighted. Files are checked concurrently.

With --apply every correction is written back to its file.

Exit code: 0 when every file was checked, 1 when any check failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root.configPath, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.contentType, "type", "t", string(llmcheck.DefaultContentType), "content type: letter, story or review")
	cmd.Flags().StringVar(&opts.user, "user", "cli", "user recorded in the check log")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "write the corrected text back to each file")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 4, "number of files checked at once")
	return cmd
}

// fileResult is the outcome of checking one file.
type fileResult struct {
	path    string
	text    string
	res     llmcheck.Result
	err     error
	applied int
}

func runCheck(ctx context.Context, out, errOut io.Writer, configPath string, opts *checkOptions, paths []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Only warnings reach the terminal unless debugging.
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	if cfg.Server.LogLevel == config.LogDebug {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(newLogger(errOut, level))

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, providers, app.WithLevelVar(level))
	if err != nil {
		return err
	}
	defer a.Shutdown(context.WithoutCancel(ctx))

	results := make([]fileResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.jobs, 1))
	for i, path := range paths {
		g.Go(func() error {
			results[i] = checkFile(gctx, a, opts, path)
			return nil
		})
	}
	_ = g.Wait()

	p := newPalette(out)
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.path, r.err))
			p.failed.Fprintf(out, "%s: %v\n", r.path, r.err)
			continue
		}
		printResult(out, p, r)
	}
	return errors.Join(errs...)
}

func checkFile(ctx context.Context, a *app.App, opts *checkOptions, path string) fileResult {
	r := fileResult{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		r.err = err
		return r
	}
	r.text = string(data)

	r.res, r.err = a.Check(ctx, llmcheck.Request{
		Text:        r.text,
		ContentType: llmcheck.ContentType(opts.contentType),
		User:        opts.user,
	})
	if r.err != nil || !opts.apply || len(r.res.Corrections) == 0 {
		return r
	}

	sess := proofread.NewSession(r.text)
	if err := sess.Resolve(sess.Begin(), r.res.Corrections); err != nil {
		r.err = err
		return r
	}
	snap, n, err := sess.ApplyAll()
	if err != nil {
		r.err = err
		return r
	}
	info, err := os.Stat(path)
	if err != nil {
		r.err = err
		return r
	}
	if err := os.WriteFile(path, []byte(snap.Text), info.Mode().Perm()); err != nil {
		r.err = err
		return r
	}
	r.applied = n
	return r
}

// palette holds the output colours. Colour is only used when the output is
// a terminal.
type palette struct {
	file, wrong, right, issue, ok, failed *color.Color
}

func newPalette(w io.Writer) palette {
	p := palette{
		file:   color.New(color.Bold),
		wrong:  color.New(color.FgRed, color.Underline),
		right:  color.New(color.FgGreen),
		issue:  color.New(color.FgYellow),
		ok:     color.New(color.FgGreen),
		failed: color.New(color.FgRed, color.Bold),
	}
	tty := isTerminal(w)
	for _, c := range []*color.Color{p.file, p.wrong, p.right, p.issue, p.ok, p.failed} {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printResult(w io.Writer, p palette, r fileResult) {
	p.file.Fprintln(w, r.path)
	if len(r.res.Corrections) == 0 {
		p.ok.Fprintln(w, "  no errors found")
		fmt.Fprintln(w)
		return
	}

	for _, seg := range proofread.Segments(r.text, r.res.Corrections) {
		if seg.Correction == nil {
			fmt.Fprint(w, seg.Text)
			continue
		}
		p.wrong.Fprint(w, seg.Text)
	}
	if !strings.HasSuffix(r.text, "\n") {
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	for _, c := range r.res.Corrections {
		line, col := position(r.text, c.Start)
		fmt.Fprintf(w, "  %d:%d  %s -> %s", line, col, c.Original, p.right.Sprint(c.Corrected))
		if c.Issue != "" {
			fmt.Fprintf(w, "  %s", p.issue.Sprint(c.Issue))
		}
		fmt.Fprintln(w)
	}
	if r.applied > 0 {
		p.ok.Fprintf(w, "  applied %d correction(s)\n", r.applied)
	}
	fmt.Fprintln(w)
}

// position returns the 1-based line and rune column of byte offset off.
func position(text string, off int) (line, col int) {
	before := text[:off]
	line = strings.Count(before, "\n") + 1
	col = utf8.RuneCountInString(before[strings.LastIndexByte(before, '\n')+1:]) + 1
	return line, col
}
