package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oshokin/alarm-relay/internal/domain/alarm"
	"github.com/oshokin/alarm-relay/internal/logger"
)

// Tracker exposes the arbitration reference; *arbitration.Tracker satisfies it.
type Tracker interface {
	Last() *alarm.Alarm
	Dispatched() uint64
}

// Notifiers lists registered targets; *notifier.Registry satisfies it.
type Notifiers interface {
	Names() []string
}

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server is the status HTTP API.
type Server struct {
	tracker   Tracker
	notifiers Notifiers
	startedAt time.Time
}

// New creates the API over the given state.
func New(tracker Tracker, notifiers Notifiers) *Server {
	return &Server{
		tracker:   tracker,
		notifiers: notifiers,
		startedAt: time.Now(),
	}
}

// Handler returns the routed API.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(ctx))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/alarms/last", s.handleLastAlarm)
		r.Get("/notifiers", s.handleNotifiers)
	})

	return r
}

// ListenAndServe serves the API on address until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	ctx = logger.WithName(ctx, "status-api")

	server := &http.Server{
		Addr:         address,
		Handler:      s.Handler(ctx),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.InfoKV(ctx, "Status API listening", "listen_address", address)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown status API: %w", err)
		}

		logger.Info(ctx, "Status API stopped")

		return nil
	case err := <-errCh:
		return fmt.Errorf("serve status API: %w", err)
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Dispatched uint64 `json:"dispatched"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Dispatched: s.tracker.Dispatched(),
	})
}

func (s *Server) handleLastAlarm(w http.ResponseWriter, _ *http.Request) {
	last := s.tracker.Last()
	if last == nil {
		respondError(w, http.StatusNotFound, "no alarm dispatched yet")

		return
	}

	respondJSON(w, http.StatusOK, last)
}

type notifiersResponse struct {
	Notifiers []string `json:"notifiers"`
}

func (s *Server) handleNotifiers(w http.ResponseWriter, _ *http.Request) {
	names := s.notifiers.Names()
	if names == nil {
		names = []string{}
	}

	respondJSON(w, http.StatusOK, notifiersResponse{Notifiers: names})
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// requestLogger logs every request at debug level through the context logger.
func requestLogger(ctx context.Context) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			next.ServeHTTP(ww, r)

			logger.DebugKV(ctx, "Status API request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(started),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
