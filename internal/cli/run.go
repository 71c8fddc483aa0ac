package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/browser"
	"github.com/roach88/harvest/internal/compiler"
	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/pager"
	"github.com/roach88/harvest/internal/skipblock"
	"github.com/roach88/harvest/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	BackendURL string
	Dataset    string
	Params     []string // name=value
	Set        []string // option=value
	Partition  string   // index/workers
	MaxSteps   int
	Headless   bool
	AssumeYes  bool

	// Executor and Browser replace the launched browser. Both must be set
	// together; tests use the simulated site.
	Executor engine.Executor
	Browser  engine.Browser
	// IDGenerator overrides run ids (UUIDv7 by default).
	IDGenerator engine.RunIDGenerator
}

// RunReport is the outcome of a run.
type RunReport struct {
	RunID   string `json:"run_id"`
	Program string `json:"program"`
	Dataset string `json:"dataset"`
	Status  string `json:"status"`
	Rows    int    `json:"rows"`
	Steps   int64  `json:"steps"`
	Passes  int    `json:"passes"`
	Error   string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a program in the browser",
		Long: `Compile a program, launch or attach to a browser and run it.

Rows are stored in the configured database (or sent to the backend named
by backend_url) and printed as they are produced. The first Ctrl-C stops
the run at the next step; a second one cancels it.

Examples:
  harvest run books.yaml
  harvest run books.yaml --db books.db --param genre=history
  harvest run books.yaml --backend http://coordinator:8090 --partition 0/4
  harvest run books.yaml --set break_after_duplicates_in_a_row=5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.BackendURL, "backend", "", "coordination server URL (overrides config)")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "dataset id (defaults to the program id)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter binding name=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "run option key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Partition, "partition", "", "hash partition index/workers")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "stop the run after this many steps (0: no limit)")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "run the browser without a window (overrides config)")
	cmd.Flags().BoolVarP(&opts.AssumeYes, "yes", "y", false, "replay large traces without asking")

	return cmd
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()
	cfg := opts.cfg()
	applyRunFlags(cfg, opts, cmd)

	prog, err := compiler.LoadFile(path)
	if err != nil {
		_ = outputValidationErrors(formatter, issuesFrom(err))
		return WrapExitError(ExitCommandError, "failed to compile program", err)
	}
	logger.Info("program compiled", "program", prog.Name, "relations", len(prog.Relations))

	runOpts, err := buildRunOptions(cfg, opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid run options", err)
	}

	conn, err := connect(cfg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to open backend", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			logger.Error("error closing database", "error", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	catalogue(ctx, conn, prog, logger)

	exec, br := opts.Executor, opts.Browser
	if exec == nil || br == nil {
		b, err := browser.Launch(ctx, cfg.Browser, browser.WithLogger(logger))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeBrowser, "failed to start browser", err)
		}
		defer b.Close()
		exec, br = b, b
	}

	engOpts := []engine.EngineOption{
		engine.WithRunRegistry(conn),
		engine.WithObserver(newTerminalObserver(cmd.OutOrStdout(), cmd.ErrOrStderr(), cmd.InOrStdin(), !formatter.JSON(), opts.AssumeYes)),
		engine.WithLogger(logger),
		engine.WithWorker(cfg.Worker()),
		engine.WithPagerOptions(pager.WithConfig(cfg.PagerConfig()), pager.WithLogger(logger)),
		engine.WithDetectorOptions(skipblock.WithRetryDelay(cfg.Skip.RetryDelay), skipblock.WithLogger(logger)),
	}
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(exec, br, conn, conn, engOpts...)

	run, err := eng.Start(ctx, prog, runOpts)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRun, "failed to start run", err)
	}
	stopOnSignal(ctx, run, cancel, logger)

	res := run.Wait()
	report := RunReport{
		RunID:   res.RunID,
		Program: prog.Name,
		Dataset: datasetOf(prog, runOpts),
		Status:  res.Status,
		Rows:    res.Rows,
		Steps:   res.Steps,
		Passes:  res.Passes,
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	return outputRunReport(formatter, report, res.Err)
}

// applyRunFlags lets explicit flags override the config file.
func applyRunFlags(cfg *config.Config, opts *RunOptions, cmd *cobra.Command) {
	if opts.Database != "" {
		cfg.Database = opts.Database
		cfg.BackendURL = ""
	}
	if opts.BackendURL != "" {
		cfg.BackendURL = opts.BackendURL
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = opts.Headless
	}
}

// buildRunOptions merges the config's run section with the flags and
// parses the result.
func buildRunOptions(cfg *config.Config, opts *RunOptions) (engine.RunOptions, error) {
	raw := make(map[string]any, len(cfg.Run)+4)
	maps.Copy(raw, cfg.Run)

	for _, kv := range opts.Set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return engine.RunOptions{}, fmt.Errorf("--set %q: want key=value", kv)
		}
		raw[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if opts.Dataset != "" {
		raw["dataset_id"] = opts.Dataset
	}
	if opts.Partition != "" {
		raw["hash_partition"] = opts.Partition
	}
	if opts.MaxSteps > 0 {
		raw["max_steps"] = opts.MaxSteps
	}
	if len(opts.Params) > 0 {
		params := make(map[string]any)
		if existing, ok := raw["parameters"].(map[string]any); ok {
			maps.Copy(params, existing)
		}
		for _, kv := range opts.Params {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return engine.RunOptions{}, fmt.Errorf("--param %q: want name=value", kv)
			}
			params[k] = v
		}
		raw["parameters"] = params
	}
	return engine.ParseRunOptions(raw)
}

// catalogue records the program's relations so later runs and the
// relations command can find them by page url.
func catalogue(ctx context.Context, conn *connection, prog *ir.Program, logger *slog.Logger) {
	for _, rel := range prog.Relations {
		if rel.URL == "" {
			continue
		}
		if err := conn.SaveRelation(ctx, *rel); err != nil {
			logger.Warn("failed to save relation", "relation", rel.ID, "error", err)
		}
	}
}

// stopOnSignal stops the run on the first interrupt and cancels it on
// the second.
func stopOnSignal(ctx context.Context, run *engine.Run, cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		stopped := false
		for {
			select {
			case sig := <-sigChan:
				if stopped {
					logger.Info("received second signal, cancelling run", "signal", sig)
					cancel()
					return
				}
				logger.Info("received signal, stopping run", "signal", sig)
				run.Stop()
				stopped = true
			case <-run.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func datasetOf(prog *ir.Program, opts engine.RunOptions) string {
	if opts.DatasetID != "" {
		return opts.DatasetID
	}
	return prog.ID
}

// outputRunReport prints the report. Finished and stopped runs succeed;
// failed runs exit with ExitFailure.
func outputRunReport(formatter *OutputFormatter, report RunReport, runErr error) error {
	failed := report.Status != store.RunFinished && report.Status != store.RunStopped
	if formatter.JSON() {
		if failed {
			if err := formatter.Failure(ErrCodeRun, report.Error, report); err != nil {
				return err
			}
			return WrapExitError(ExitFailure, "run failed", runErr)
		}
		return formatter.Success(report)
	}

	w := formatter.GetErrWriter()
	fmt.Fprintf(w, "run %s %s: %d rows into %s (%d steps)\n",
		report.RunID, report.Status, report.Rows, report.Dataset, report.Steps)
	if failed {
		fmt.Fprintf(w, "  %s\n", report.Error)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return nil
}
