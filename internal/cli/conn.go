package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/harvest/internal/backend"
	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/engine"
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/skipblock"
	"github.com/roach88/harvest/internal/store"
)

// coordinator is what commands need from the coordination backend. Both
// a local store and a remote backend client provide it.
type coordinator interface {
	skipblock.Backend
	engine.Sink
	engine.RunRegistry
	SaveRelation(ctx context.Context, rel ir.Relation) error
	RetrieveCandidateRelations(ctx context.Context, pageURL string, limit int) ([]ir.Relation, error)
}

var (
	_ coordinator = (*store.Store)(nil)
	_ coordinator = (*backend.Client)(nil)
)

// connection is an open coordinator. Exactly one of Store and Client is
// set.
type connection struct {
	coordinator
	Store  *store.Store
	Client *backend.Client
}

// Rows reads a dataset's rows from whichever backend is open.
func (c *connection) Rows(ctx context.Context, datasetID string) ([][]string, error) {
	if c.Client != nil {
		return c.Client.Rows(ctx, datasetID)
	}
	records, err := c.Store.Rows(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = r.Cells
	}
	return rows, nil
}

func (c *connection) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// connect opens the backend named by cfg: the remote server when
// backend_url is set, the SQLite database otherwise.
func connect(cfg *config.Config, logger *slog.Logger) (*connection, error) {
	if cfg.BackendURL != "" {
		client, err := backend.NewClient(cfg.BackendURL, backend.WithClientLogger(logger))
		if err != nil {
			return nil, err
		}
		logger.Info("using remote backend", "url", cfg.BackendURL)
		return &connection{coordinator: client, Client: client}, nil
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("no database or backend_url configured")
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database ready", "path", cfg.Database)
	return &connection{coordinator: st, Store: st}, nil
}

// openStore opens the local database; commands that inspect stored runs
// cannot work through a remote backend.
func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("no database configured")
	}
	return store.Open(cfg.Database)
}
