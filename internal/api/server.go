package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/internal/events"
	"github.com/mixelka/mailsync/internal/scheduler"
	"github.com/mixelka/mailsync/pkg/models"
)

const (
	shutdownTimeout = 5 * time.Second

	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

// Scheduler accepts and tracks sync jobs
type Scheduler interface {
	Submit(accountID int64, trigger models.Trigger, cb events.ProgressFunc) (*scheduler.Job, error)
	Cancel(accountID int64) bool
	ActiveJob(accountID int64) *scheduler.Job
	IsBusy(accountID int64) bool
}

// RealTime controls the periodic poller
type RealTime interface {
	Start(interval time.Duration) bool
	Stop() bool
	Running() bool
	Interval() time.Duration
}

// StatusSource reports the latest known progress of an account
type StatusSource interface {
	Status(accountID int64) (events.Status, bool)
}

// Store reads accounts and stored mail
type Store interface {
	GetAccount(ctx context.Context, id int64) (*models.EmailAccount, error)
	DeleteAccount(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, accountID int64, limit int) ([]*models.EmailMessage, error)
	CountMessages(ctx context.Context, accountID int64) (int, error)
	GetMessage(ctx context.Context, accountID, messageID int64) (*models.EmailMessage, error)
	GetAttachments(ctx context.Context, messageID int64) ([]models.Attachment, error)
}

// Options configures the control API
type Options struct {
	Addr             string
	CheckWaitTimeout time.Duration
	RealTimeInterval time.Duration
}

// Server is the control HTTP API
type Server struct {
	opts      Options
	scheduler Scheduler
	realtime  RealTime
	statuses  StatusSource
	store     Store
	logger    *slog.Logger
	router    *mux.Router
}

// New creates the control API server
func New(sched Scheduler, realtime RealTime, statuses StatusSource, store Store, opts Options, logger *slog.Logger) *Server {
	if opts.CheckWaitTimeout <= 0 {
		opts.CheckWaitTimeout = 30 * time.Second
	}
	s := &Server{
		opts:      opts,
		scheduler: sched,
		realtime:  realtime,
		statuses:  statuses,
		store:     store,
		logger:    logger.With("component", "http_api"),
	}
	s.router = s.setupRoutes()
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error shutting down HTTP API server", "error", err)
		}
	}()

	s.logger.Info("starting HTTP API server", "addr", s.opts.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP API server failed: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/accounts/{id:[0-9]+}", s.handleDeleteAccount).Methods(http.MethodDelete)
	router.HandleFunc("/accounts/{id:[0-9]+}/check", s.handleCheck).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id:[0-9]+}/check", s.handleCancel).Methods(http.MethodDelete)
	router.HandleFunc("/accounts/{id:[0-9]+}/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id:[0-9]+}/messages", s.handleListMessages).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id:[0-9]+}/messages/{mid:[0-9]+}/attachments", s.handleListAttachments).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id:[0-9]+}/messages/{mid:[0-9]+}/attachments/{aid:[0-9]+}", s.handleGetAttachment).Methods(http.MethodGet)

	router.HandleFunc("/realtime", s.handleRealTimeStatus).Methods(http.MethodGet)
	router.HandleFunc("/realtime/start", s.handleRealTimeStart).Methods(http.MethodPost)
	router.HandleFunc("/realtime/stop", s.handleRealTimeStop).Methods(http.MethodPost)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}

	if !s.accountExists(w, r, id) {
		return
	}

	job, err := s.scheduler.Submit(id, models.TriggerManual, nil)
	switch {
	case err == nil:
	case errors.Is(err, scheduler.ErrAlreadyProcessing):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, scheduler.ErrQueueFull), errors.Is(err, scheduler.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		s.logger.Error("failed to submit check", "account_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit check")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CheckWaitTimeout)
	defer cancel()

	result, err := job.Wait(ctx)
	if errors.Is(err, scheduler.ErrTimeout) {
		s.writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "processing",
			"job_id": job.ID,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}

	if !s.scheduler.Cancel(id) {
		s.writeError(w, http.StatusNotFound, "no sync in progress")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// StatusResponse describes the sync state of one account
type StatusResponse struct {
	AccountID  int64              `json:"account_id"`
	Busy       bool               `json:"busy"`
	JobID      string             `json:"job_id,omitempty"`
	Trigger    models.Trigger     `json:"trigger,omitempty"`
	Percent    int                `json:"percent"`
	Message    string             `json:"message,omitempty"`
	LastResult *models.SyncResult `json:"last_result,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}

	resp := StatusResponse{AccountID: id}
	if job := s.scheduler.ActiveJob(id); job != nil {
		resp.Busy = true
		resp.JobID = job.ID
		resp.Trigger = job.Trigger
	}
	if st, found := s.statuses.Status(id); found {
		resp.Percent = st.Percent
		resp.Message = st.Message
		resp.LastResult = st.LastResult
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}

	// A running sync would write into rows that are about to disappear
	if s.scheduler.IsBusy(id) {
		s.writeError(w, http.StatusConflict, "sync in progress, cancel it first")
		return
	}

	if err := s.store.DeleteAccount(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("failed to delete account", "account_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete account")
		return
	}

	s.logger.Info("account deleted", "account_id", id)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleRealTimeStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.realTimeState())
}

func (s *Server) handleRealTimeStart(w http.ResponseWriter, r *http.Request) {
	interval := s.opts.RealTimeInterval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid interval")
			return
		}
		interval = d
	}

	if !s.realtime.Start(interval) {
		s.writeError(w, http.StatusConflict, "real-time polling is already running")
		return
	}
	s.writeJSON(w, http.StatusOK, s.realTimeState())
}

func (s *Server) handleRealTimeStop(w http.ResponseWriter, r *http.Request) {
	if !s.realtime.Stop() {
		s.writeError(w, http.StatusConflict, "real-time polling is not running")
		return
	}
	s.writeJSON(w, http.StatusOK, s.realTimeState())
}

func (s *Server) realTimeState() map[string]any {
	state := map[string]any{"running": s.realtime.Running()}
	if s.realtime.Running() {
		state["interval"] = s.realtime.Interval().String()
	}
	return state
}

func (s *Server) accountExists(w http.ResponseWriter, r *http.Request, id int64) bool {
	if _, err := s.store.GetAccount(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "account not found")
			return false
		}
		s.logger.Error("failed to load account", "account_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load account")
		return false
	}
	return true
}

func (s *Server) accountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
