package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/backend"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string

	// ready is called with the bound address once the server accepts
	// connections.
	ready func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a database as the coordination backend",
		Long: `Expose a SQLite database over HTTP so workers on other machines share
skip block claims, commits, runs, rows and the relation catalogue.

Workers point at the server with backend_url in harvest.yaml or
--backend on the run command. Interrupt to shut down; requests in flight
are allowed to finish.

Examples:
  harvest serve --db books.db
  harvest serve --db books.db --addr 0.0.0.0:8090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8090", "address to listen on")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	cfg := opts.cfg()
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	st, err := openStore(cfg)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to open database", err)
	}
	defer st.Close()

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBackend, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           backend.NewServer(st, backend.WithServerLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logger.Info("coordination backend listening", "addr", ln.Addr().String(), "database", cfg.Database)
	fmt.Fprintf(formatter.GetErrWriter(), "serving %s on http://%s\n", cfg.Database, ln.Addr())
	if opts.ready != nil {
		opts.ready(ln.Addr())
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return formatter.Fail(ExitFailure, ErrCodeBackend, "server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down coordination backend")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeBackend, "shutdown failed", err)
	}
	return nil
}
