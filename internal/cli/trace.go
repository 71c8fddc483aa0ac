package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Block    string // optional - filter to one skip block
}

// TraceRun describes the traced run.
type TraceRun struct {
	ID         string     `json:"id"`
	Seq        int64      `json:"seq"`
	Program    string     `json:"program"`
	Dataset    string     `json:"dataset"`
	Worker     string     `json:"worker"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TraceCommit is one committed skip block transaction.
type TraceCommit struct {
	Key         string     `json:"key"`
	BlockID     string     `json:"block_id"`
	Fingerprint string     `json:"fingerprint"`
	Rows        [][]string `json:"rows"`
}

// TraceStats holds summary statistics for the run.
type TraceStats struct {
	Commits int `json:"commits"`
	Blocks  int `json:"blocks"`
	Rows    int `json:"rows"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run     TraceRun      `json:"run"`
	Commits []TraceCommit `json:"commits"`
	Stats   TraceStats    `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <run-id>",
		Short: "Show what a run committed",
		Long: `Show a stored run and the skip block transactions it committed.

Each commit lists the block, the fingerprint of the scraped values it was
keyed on and the rows written with it. Only local databases can be traced.

Examples:
  harvest trace 0192f3a4-7c1e-7a55-9f4e-2b6d8c0e1f23
  harvest trace run-1 --db ./books.db --block items
  harvest trace run-1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Block, "block", "", "filter to one skip block id")

	return cmd
}

func runTrace(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := opts.cfg()
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	st, err := openStore(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to open database", err)
	}
	defer st.Close()

	rec, err := st.ReadRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return formatter.Fail(ExitFailure, ErrCodeNotFound, "run not found", err)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to read run", err)
	}

	txs, err := st.Transactions(ctx, runID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to read transactions", err)
	}

	result := buildTrace(rec, txs, opts.Block)
	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return nil
}

// buildTrace converts stored records. When block is set only that
// block's commits are kept.
func buildTrace(rec store.RunRecord, txs []store.TransactionRecord, block string) TraceResult {
	result := TraceResult{
		Run: TraceRun{
			ID:         rec.ID,
			Seq:        rec.Seq,
			Program:    rec.Program,
			Dataset:    rec.DatasetID,
			Worker:     rec.Worker,
			Status:     rec.Status,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		},
		Commits: []TraceCommit{},
	}

	blocks := make(map[string]bool)
	for _, tx := range txs {
		if block != "" && tx.BlockID != block {
			continue
		}
		rows := tx.Rows
		if rows == nil {
			rows = [][]string{}
		}
		result.Commits = append(result.Commits, TraceCommit{
			Key:         tx.Key,
			BlockID:     tx.BlockID,
			Fingerprint: tx.Fingerprint,
			Rows:        rows,
		})
		blocks[tx.BlockID] = true
		result.Stats.Rows += len(rows)
	}
	result.Stats.Commits = len(result.Commits)
	result.Stats.Blocks = len(blocks)
	return result
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	r := result.Run
	fmt.Fprintf(w, "Trace for Run: %s\n", r.ID)
	fmt.Fprintf(w, "Program: %s\n", r.Program)
	fmt.Fprintf(w, "Dataset: %s\n", r.Dataset)
	fmt.Fprintf(w, "Status: %s\n", runStatus(r))
	if verbose {
		fmt.Fprintf(w, "Worker: %s\n", r.Worker)
		fmt.Fprintf(w, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Commits ===")
	if len(result.Commits) == 0 {
		fmt.Fprintln(w, "  (no commits)")
	}
	for i, c := range result.Commits {
		fmt.Fprintf(w, "  [%d] %s %s (%d rows)\n", i+1, c.BlockID, truncateID(c.Fingerprint), len(c.Rows))
		if verbose {
			fmt.Fprintf(w, "       Key: %s\n", c.Key)
			for _, row := range c.Rows {
				fmt.Fprintf(w, "       %s\n", strings.Join(row, "\t"))
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Commits: %d\n", result.Stats.Commits)
	fmt.Fprintf(w, "  Blocks:  %d\n", result.Stats.Blocks)
	fmt.Fprintf(w, "  Rows:    %d\n", result.Stats.Rows)
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

func runStatus(r TraceRun) string {
	if r.FinishedAt == nil {
		return r.Status + " (not finished)"
	}
	return fmt.Sprintf("%s in %s", r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
