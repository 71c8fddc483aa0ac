package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/skipblock"
	"github.com/roach88/harvest/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Server serves a store over HTTP.
type Server struct {
	store  *store.Store
	logger *slog.Logger
	mux    *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a handler for st.
func NewServer(st *store.Store, opts ...ServerOption) *Server {
	s := &Server{store: st, logger: slog.Default(), mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("POST "+pathCheckOrLock, s.handleCheckOrLock)
	s.mux.HandleFunc("POST "+pathCommit, s.handleCommit)
	s.mux.HandleFunc("POST "+pathRuns, s.handleBeginRun)
	s.mux.HandleFunc("POST "+pathRuns+"/{id}/finish", s.handleFinishRun)
	s.mux.HandleFunc("POST "+pathRows, s.handleAddRow)
	s.mux.HandleFunc("GET "+pathRows+"/{dataset}", s.handleRows)
	s.mux.HandleFunc("POST "+pathRelations, s.handleSaveRelation)
	s.mux.HandleFunc("GET "+pathRelations, s.handleRelations)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleCheckOrLock(w http.ResponseWriter, r *http.Request) {
	var req skipblock.LockRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Key == "" || req.RunID == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("key and run_id are required"))
		return
	}
	res, err := s.store.CheckOrLock(r.Context(), req)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Debug("check or lock",
		"key", req.Key,
		"run_id", req.RunID,
		"exists", res.Exists,
		"claimed", res.Claimed)
	s.reply(w, http.StatusOK, res)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var c skipblock.Commit
	if !s.decode(w, r, &c) {
		return
	}
	if c.Key == "" || c.RunID == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("key and run_id are required"))
		return
	}
	if err := s.store.Commit(r.Context(), c); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBeginRun(w http.ResponseWriter, r *http.Request) {
	var req beginRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("id is required"))
		return
	}
	seq, err := s.store.BeginRun(r.Context(), req.info())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("run registered", "run_id", req.ID, "seq", seq, "worker", req.Worker)
	s.reply(w, http.StatusOK, beginRunResponse{Seq: seq})
}

func (s *Server) handleFinishRun(w http.ResponseWriter, r *http.Request) {
	var req finishRunRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.FinishRun(r.Context(), r.PathValue("id"), req.Status); err != nil {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	var req addRowRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DatasetID == "" {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("dataset_id is required"))
		return
	}
	if err := s.store.AddRow(r.Context(), req.DatasetID, req.RunID, req.Cells); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Rows(r.Context(), r.PathValue("dataset"))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	resp := rowsResponse{Rows: make([][]string, len(recs))}
	for i, rec := range recs {
		resp.Rows[i] = rec.Cells
	}
	s.reply(w, http.StatusOK, resp)
}

func (s *Server) handleSaveRelation(w http.ResponseWriter, r *http.Request) {
	var rel ir.Relation
	if !s.decode(w, r, &rel) {
		return
	}
	if err := s.store.SaveRelation(r.Context(), rel); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	rels, err := s.store.RetrieveCandidateRelations(r.Context(), q.Get("url"), limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.reply(w, http.StatusOK, relationsResponse{Relations: rels})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "status", status, "error", err)
	}
	s.reply(w, status, errorResponse{Error: err.Error()})
}
