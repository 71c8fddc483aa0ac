package backend

import (
	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/store"
)

// Routes served by Server.
const (
	pathCheckOrLock = "/v1/check-or-lock"
	pathCommit      = "/v1/commit"
	pathRuns        = "/v1/runs"
	pathRows        = "/v1/rows"
	pathRelations   = "/v1/relations"
)

type errorResponse struct {
	Error string `json:"error"`
}

type beginRunRequest struct {
	ID        string `json:"id"`
	Program   string `json:"program"`
	DatasetID string `json:"dataset_id"`
	Worker    string `json:"worker,omitempty"`
}

func (r beginRunRequest) info() store.RunInfo {
	return store.RunInfo{ID: r.ID, Program: r.Program, DatasetID: r.DatasetID, Worker: r.Worker}
}

type beginRunResponse struct {
	Seq int64 `json:"seq"`
}

type finishRunRequest struct {
	Status string `json:"status"`
}

type addRowRequest struct {
	DatasetID string   `json:"dataset_id"`
	RunID     string   `json:"run_id"`
	Cells     []string `json:"cells"`
}

type rowsResponse struct {
	Rows [][]string `json:"rows"`
}

type relationsResponse struct {
	Relations []ir.Relation `json:"relations"`
}
