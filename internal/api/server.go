// Package api exposes the matching engine, reconciliation sessions and
// transfer-merge workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"bookledger/internal/engine"
	"bookledger/internal/models"
	"bookledger/internal/session"
	"bookledger/internal/transfer"
	"bookledger/pkg/logger"

	apperrors "bookledger/pkg/errors"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{Port: 8080}
}

// Server is the HTTP front end.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	log        logger.Logger

	engine    *engine.Engine
	sessions  *session.Manager
	transfers *transfer.Service
}

// NewServer creates the server and wires its routes.
func NewServer(cfg Config, eng *engine.Engine, sessions *session.Manager, transfers *transfer.Service, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}

	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		log:       log.WithComponent("api"),
		engine:    eng,
		sessions:  sessions,
		transfers: transfers,
	}

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.Recoverer)
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/accounts/{accountID}/matches/preview", s.handleMatchPreview)

		r.Post("/transfers/preview", s.handleTransferPreview)
		r.Post("/transfers/commit", s.handleTransferCommit)

		r.Post("/sessions", s.handleStartSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Get("/sessions/{sessionID}/status", s.handleSessionStatus)
		r.Post("/sessions/{sessionID}/reconcile", s.handleReconcile)
		r.Post("/sessions/{sessionID}/unreconcile", s.handleUnreconcile)
		r.Post("/sessions/{sessionID}/lock", s.handleLock)
		r.Post("/sessions/{sessionID}/unlock", s.handleUnlock)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	})
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", addr).Info("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the chi router for tests.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMatchPreview(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req MatchPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	window, err := req.Window.Window()
	if err != nil {
		s.writeBadRequest(w, "invalid window: "+err.Error())
		return
	}

	preview, err := s.engine.PreviewMatches(r.Context(), accountID, req.Records, window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleTransferPreview(w http.ResponseWriter, r *http.Request) {
	var req TransferPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.AccountA == "" || req.AccountB == "" {
		s.writeBadRequest(w, "account_a and account_b are required")
		return
	}
	window, err := req.Window.Window()
	if err != nil {
		s.writeBadRequest(w, "invalid window: "+err.Error())
		return
	}

	preview, err := s.transfers.Preview(r.Context(), req.AccountA, req.AccountB, window)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleTransferCommit(w http.ResponseWriter, r *http.Request) {
	var req TransferCommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	pairs := make([]transfer.PairRef, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		if p.EntryA == "" || p.EntryB == "" {
			s.writeBadRequest(w, "each pair needs entry_a and entry_b")
			return
		}
		pairs = append(pairs, transfer.PairRef{EntryA: p.EntryA, EntryB: p.EntryB})
	}

	result, err := s.transfers.Commit(r.Context(), pairs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		s.writeBadRequest(w, "account_id is required")
		return
	}

	params := session.StartParams{AccountID: req.AccountID}
	var err error
	if req.StatementStart != "" {
		if params.StatementStart, err = models.ParseCivilDate(req.StatementStart); err != nil {
			s.writeBadRequest(w, "invalid statement_start: "+err.Error())
			return
		}
	}
	if req.StatementEnd != "" {
		if params.StatementEnd, err = models.ParseCivilDate(req.StatementEnd); err != nil {
			s.writeBadRequest(w, "invalid statement_end: "+err.Error())
			return
		}
	}
	if params.StatementStartBalance, err = parseBalance(req.StatementStartBalance); err != nil {
		s.writeBadRequest(w, "invalid statement_start_balance: "+err.Error())
		return
	}
	if params.StatementEndBalance, err = parseBalance(req.StatementEndBalance); err != nil {
		s.writeBadRequest(w, "invalid statement_end_balance: "+err.Error())
		return
	}

	sess, err := s.sessions.Start(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toSessionResponse(*sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.writeBadRequest(w, "account_id query parameter is required")
		return
	}

	sessions, err := s.sessions.List(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toSessionResponse(*sess))
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.Status(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toStatusResponse(*status))
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.handleFlagUpdate(w, r, s.sessions.Reconcile)
}

func (s *Server) handleUnreconcile(w http.ResponseWriter, r *http.Request) {
	s.handleFlagUpdate(w, r, s.sessions.Unreconcile)
}

func (s *Server) handleFlagUpdate(w http.ResponseWriter, r *http.Request, op func(context.Context, string, []string) error) {
	sessionID := chi.URLParam(r, "sessionID")

	var req PostingFlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if len(req.PostingIDs) == 0 {
		s.writeBadRequest(w, "posting_ids cannot be empty")
		return
	}

	if err := op(r.Context(), sessionID, req.PostingIDs); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Lock(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Unlock(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "open"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, APIError{Code: "bad_request", Message: message})
}

// writeError maps domain error codes onto HTTP statuses. Errors reaching
// this boundary without taxonomy information are folded into a generic
// storage failure rather than leaking their message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := apperrors.WrapIfNeeded(err, apperrors.CategoryStorage, apperrors.CodeStorageFailure,
		"an internal error occurred")

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.CodeSessionNotFound, apperrors.CodeEntryNotFound, apperrors.CodePostingNotFound:
		status = http.StatusNotFound
	case apperrors.CodeSessionLocked, apperrors.CodeNotBalanced, apperrors.CodeSessionOverlap:
		status = http.StatusConflict
	case apperrors.CodeInvalidDateRange, apperrors.CodeInvalidAmount, apperrors.CodeInvalidDate, apperrors.CodeMissingField:
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed")
	}

	s.writeJSON(w, status, APIError{
		Code:       string(appErr.Code),
		Message:    appErr.Message,
		Suggestion: appErr.Suggestion,
	})
}
