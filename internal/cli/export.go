package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/store"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database   string
	BackendURL string
	Dataset    string
	Output     string // file path; stdout when empty
}

// ExportResult is reported in JSON mode.
type ExportResult struct {
	Dataset string `json:"dataset"`
	Rows    int    `json:"rows"`
	Output  string `json:"output"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a dataset's rows as CSV",
		Long: `Write the rows collected into a dataset as CSV, one record per row
in the order they were stored.

Without --dataset, lists the datasets in the local database.

Examples:
  harvest export
  harvest export --dataset books > books.csv
  harvest export --dataset books -o books.csv --backend http://coordinator:8090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.BackendURL, "backend", "", "coordination server URL (overrides config)")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "dataset id to export")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	cfg := opts.cfg()
	if opts.Database != "" {
		cfg.Database = opts.Database
		cfg.BackendURL = ""
	}
	if opts.BackendURL != "" {
		cfg.BackendURL = opts.BackendURL
	}

	if opts.Dataset == "" {
		return listDatasets(formatter, cfg, cmd)
	}

	conn, err := connect(cfg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to open backend", err)
	}
	defer conn.Close()

	rows, err := conn.Rows(cmd.Context(), opts.Dataset)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to read rows", err)
	}

	// JSON responses own stdout, so CSV needs a file there.
	if formatter.JSON() && opts.Output == "" {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--output is required with --format json", nil)
	}

	w := formatter.Writer
	dest := "stdout"
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to create output file", err)
		}
		defer f.Close()
		w, dest = f, opts.Output
	}

	if err := writeCSV(w, rows); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to write CSV", err)
	}
	logger.Info("dataset exported", "dataset", opts.Dataset, "rows", len(rows), "output", dest)

	if formatter.JSON() {
		return formatter.Success(ExportResult{Dataset: opts.Dataset, Rows: len(rows), Output: dest})
	}
	if opts.Output != "" {
		fmt.Fprintf(formatter.GetErrWriter(), "wrote %d rows of %s to %s\n", len(rows), opts.Dataset, dest)
	}
	return nil
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// DatasetsResult is reported by export without --dataset.
type DatasetsResult struct {
	Datasets []store.DatasetSummary `json:"datasets"`
}

// listDatasets prints the local database's datasets. A remote backend
// cannot list them.
func listDatasets(formatter *OutputFormatter, cfg *config.Config, cmd *cobra.Command) error {
	if cfg.BackendURL != "" {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--dataset is required with a remote backend", nil)
	}
	st, err := openStore(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to open database", err)
	}
	defer st.Close()

	datasets, err := st.Datasets(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to list datasets", err)
	}
	if formatter.JSON() {
		return formatter.Success(DatasetsResult{Datasets: datasets})
	}
	if len(datasets) == 0 {
		fmt.Fprintln(formatter.Writer, "No datasets found.")
		return nil
	}
	for _, d := range datasets {
		fmt.Fprintf(formatter.Writer, "%s\t%d rows\t%d runs\n", d.ID, d.Rows, d.Runs)
	}
	return nil
}
