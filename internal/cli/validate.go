package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/compiler"
	"github.com/roach88/harvest/internal/ir"
)

// ValidationIssue is one compile error with its source position.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// ProgramSummary describes a compiled program.
type ProgramSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Statements int      `json:"statements"`
	Relations  []string `json:"relations"`
	Parameters []string `json:"parameters,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Program *ProgramSummary   `json:"program,omitempty"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <program>",
		Short: "Compile a program without running it",
		Long: `Compile a program document (.cue, .json, .yaml or .yml) and report
every error with its position. Nothing is opened or launched.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "program not found", err)
	}

	formatter.VerboseLog("Compiling %s", path)
	prog, err := compiler.LoadFile(path)
	if err != nil {
		return outputValidationErrors(formatter, issuesFrom(err))
	}

	summary := summarize(prog)
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Program: summary})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s is valid (%d statements, %d relations)\n",
		summary.Name, summary.Statements, len(summary.Relations))
	return nil
}

func summarize(prog *ir.Program) *ProgramSummary {
	s := &ProgramSummary{ID: prog.ID, Name: prog.Name, Relations: []string{}}
	ir.Walk(prog.Statements, func(ir.Statement) bool {
		s.Statements++
		return true
	})
	for _, rel := range prog.Relations {
		name := rel.Name
		if name == "" {
			name = rel.ID
		}
		s.Relations = append(s.Relations, name)
	}
	for name := range prog.Parameters {
		s.Parameters = append(s.Parameters, name)
	}
	sort.Strings(s.Parameters)
	return s
}

// issuesFrom flattens compile errors. Errors without a position, such as
// an unreadable file, become a single issue.
func issuesFrom(err error) []ValidationIssue {
	var many compiler.CompileErrors
	if errors.As(err, &many) {
		issues := make([]ValidationIssue, 0, len(many))
		for _, ce := range many {
			issues = append(issues, issueFrom(ce))
		}
		return issues
	}
	var one *compiler.CompileError
	if errors.As(err, &one) {
		return []ValidationIssue{issueFrom(one)}
	}
	return []ValidationIssue{{Field: "program", Message: err.Error()}}
}

func issueFrom(ce *compiler.CompileError) ValidationIssue {
	issue := ValidationIssue{Field: ce.Field, Message: ce.Message}
	if ce.Pos.IsValid() {
		issue.File = ce.Pos.Filename()
		issue.Line = ce.Pos.Line()
		issue.Column = ce.Pos.Column()
	}
	return issue
}

// outputValidationErrors reports compile errors. Validation failures exit
// with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	err := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	if formatter.JSON() {
		if ferr := formatter.Failure(ErrCodeCompile, issues[0].Message, ValidationResult{Valid: false, Errors: issues}); ferr != nil {
			return ferr
		}
		return err
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", issue.File, issue.Line, issue.Column)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Field, issue.Message)
	}
	return err
}
