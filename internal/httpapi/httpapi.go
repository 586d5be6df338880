// Package httpapi exposes the conversation over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spigell/job-agents/internal/aggregator"
	"github.com/spigell/job-agents/internal/chat"
	"github.com/spigell/job-agents/internal/jobs"
	"github.com/spigell/job-agents/internal/orchestrator"
	"github.com/spigell/job-agents/internal/router"
	"github.com/spigell/job-agents/internal/session"
	"github.com/spigell/job-agents/internal/store"
	"go.uber.org/zap"
)

const (
	maxRequestBodySize = 1 << 20
	shutdownTimeout    = 10 * time.Second
)

// Service is the conversation surface served over HTTP.
type Service interface {
	HandleInput(ctx context.Context, text string) (*orchestrator.TurnResult, error)
	Timeline() []aggregator.OrderedMessage
	Statuses() map[chat.Agent]session.Status
	Active() chat.Agent
	Clear(ctx context.Context) error
	Stop(agent chat.Agent) error
	Refresh(ctx context.Context) error
	SavedJobs() []jobs.Job
	Profile() *jobs.UserProfile
	SaveProfile(ctx context.Context, profile jobs.UserProfile) error
	DeleteJob(ctx context.Context, jobID string) error
}

type Handler struct {
	svc    Service
	logger *zap.Logger
}

type chatRequest struct {
	Text string `json:"text"`
}

type timelineResponse struct {
	Active   chat.Agent                    `json:"active"`
	Statuses map[chat.Agent]session.Status `json:"statuses"`
	Timeline []aggregator.OrderedMessage   `json:"timeline"`
}

// New builds the router with request id, panic recovery and access logging.
func New(svc Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.chat)
		r.Get("/timeline", h.timeline)
		r.Post("/conversation/clear", h.clear)
		r.Post("/sessions/{agent}/stop", h.stop)

		r.Get("/jobs", h.listJobs)
		r.Delete("/jobs/{id}", h.deleteJob)

		r.Get("/profile", h.getProfile)
		r.Put("/profile", h.putProfile)
	})

	return r
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.svc.HandleInput(r.Context(), req.Text)
	switch {
	case errors.Is(err, router.ErrSessionBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("chat turn failed", zap.String("request_id", chiMiddleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) timeline(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, timelineResponse{
		Active:   h.svc.Active(),
		Statuses: h.svc.Statuses(),
		Timeline: h.svc.Timeline(),
	})
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	agent := chat.Agent(chi.URLParam(r, "agent"))
	if !agent.Valid() {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	if err := h.svc.Stop(agent); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	saved := h.svc.SavedJobs()
	if saved == nil {
		saved = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteJob(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	profile := h.svc.Profile()
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile is not set")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request) {
	var profile jobs.UserProfile
	if !decode(w, r, &profile) {
		return
	}

	err := h.svc.SaveProfile(r.Context(), profile)
	switch {
	case errors.Is(err, jobs.ErrInvalidWeights):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Profile())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			)
		})
	}
}

// ListenAndServe serves handler on addr until ctx is done, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
