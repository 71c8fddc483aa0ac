package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/ir"
)

// RelationsOptions holds flags for the relations command.
type RelationsOptions struct {
	*RootOptions
	Database   string
	BackendURL string
	Limit      int
}

// RelationSummary describes one catalogued relation.
type RelationSummary struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	RowXPath string   `json:"row_xpath"`
	Columns  []string `json:"columns"`
}

// RelationsResult holds the ranked candidates for a page.
type RelationsResult struct {
	URL       string            `json:"url"`
	Relations []RelationSummary `json:"relations"`
}

// NewRelationsCommand creates the relations command.
func NewRelationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RelationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "relations <url>",
		Short: "List catalogued relations that may apply to a page",
		Long: `List relations saved by earlier runs that may apply to a page, best
first: an exact URL match, then the same host and path, then the same host.

Examples:
  harvest relations https://books.test/history
  harvest relations https://books.test/history --limit 3 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelations(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.BackendURL, "backend", "", "coordination server URL (overrides config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "maximum relations to list (0: all)")

	return cmd
}

func runRelations(opts *RelationsOptions, pageURL string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Limit < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--limit must not be negative", nil)
	}

	cfg := opts.cfg()
	if opts.Database != "" {
		cfg.Database = opts.Database
		cfg.BackendURL = ""
	}
	if opts.BackendURL != "" {
		cfg.BackendURL = opts.BackendURL
	}

	conn, err := connect(cfg, opts.logger())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to open backend", err)
	}
	defer conn.Close()

	rels, err := conn.RetrieveCandidateRelations(cmd.Context(), pageURL, opts.Limit)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to retrieve relations", err)
	}

	result := RelationsResult{URL: pageURL, Relations: make([]RelationSummary, 0, len(rels))}
	for _, rel := range rels {
		result.Relations = append(result.Relations, summarizeRelation(rel))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	if len(result.Relations) == 0 {
		fmt.Fprintf(w, "No relations found for %s\n", pageURL)
		return nil
	}
	for i, r := range result.Relations {
		fmt.Fprintf(w, "%d. %s (%s)\n", i+1, r.Name, r.ID)
		fmt.Fprintf(w, "   %s\n", r.URL)
		fmt.Fprintf(w, "   rows: %s\n", r.RowXPath)
		fmt.Fprintf(w, "   columns: %s\n", strings.Join(r.Columns, ", "))
	}
	return nil
}

func summarizeRelation(rel ir.Relation) RelationSummary {
	s := RelationSummary{
		ID:       rel.ID,
		Name:     rel.Name,
		URL:      rel.URL,
		RowXPath: rel.RowXPath,
		Columns:  make([]string, len(rel.Columns)),
	}
	if s.Name == "" {
		s.Name = rel.ID
	}
	for i, c := range rel.Columns {
		s.Columns[i] = c.Name
	}
	return s
}
