package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the latest progress report of a run.
type Status struct {
	Phase     string    `json:"phase"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker keeps the latest progress report and mirrors it into a gauge.
type Tracker struct {
	mu       sync.RWMutex
	status   Status
	progress prometheus.Gauge
}

// NewTracker creates a tracker registered with reg.
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protoboot",
			Name:      "run_progress_ratio",
			Help:      "Progress of the current phase list, from 0 to 1.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.progress)
	}
	return t
}

// Update records a progress report. Its signature matches the orchestrator callback.
func (t *Tracker) Update(phase string, progress float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = Status{Phase: phase, Progress: progress, Message: message, UpdatedAt: time.Now().UTC()}
	t.progress.Set(progress)
}

// Status returns the latest report.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Server exposes /metrics, /healthz and /status.
type Server struct {
	gatherer prometheus.Gatherer
	tracker  *Tracker
	logger   *slog.Logger
	srv      *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, gatherer prometheus.Gatherer, tracker *Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{gatherer: gatherer, tracker: tracker, logger: logger}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var status Status
	if s.tracker != nil {
		status = s.tracker.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to encode status", slog.String("error", err.Error()))
	}
}

// Start serves in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info("serving metrics", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
}
