// Package status serves the node's local HTTP status surface: a health
// snapshot for probes and humans, Prometheus metrics, and the recent
// operational events.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/airnode/internal/buildinfo"
	"github.com/nugget/airnode/internal/events"
	"github.com/nugget/airnode/internal/measurement"
	"github.com/nugget/airnode/internal/metrics"
	"github.com/nugget/airnode/internal/mqtt"
	"github.com/nugget/airnode/internal/network"
)

// LinkSource reports connectivity. *network.Supervisor satisfies it.
type LinkSource interface {
	State() (network.State, uint64)
}

// BrokerSource reports the broker session state. *mqtt.Manager
// satisfies it.
type BrokerSource interface {
	State() mqtt.State
}

// Deps are the components the server reports on. Metrics and Recorder
// may be nil.
type Deps struct {
	Link     LinkSource
	Broker   BrokerSource
	Store    *measurement.Store
	Metrics  *metrics.Metrics
	Recorder *events.Recorder

	// BootCount is shown as-is; zero when no state is persisted.
	BootCount int64
}

// Config controls the server.
type Config struct {
	Listen string

	// StaleAfter is how old the latest reading may be before the
	// snapshot reports it stale.
	StaleAfter time.Duration
}

// ErrUnusableAddress wraps listen failures that retrying cannot fix: a
// malformed address or a port the process may not bind.
var ErrUnusableAddress = errors.New("status listen address unusable")

// Server is the status HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	logger *slog.Logger
	clock  measurement.Clock
}

// NewServer builds the router. Call Run to serve it.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "status"),
		clock:  measurement.SinceStart,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/healthz", s.handleHealth)
	r.Get("/events", s.handleEvents)
	r.Get("/version", s.handleVersion)
	if reg := s.deps.Metrics.Registry(); reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) || errors.Is(err, syscall.EACCES) {
			return fmt.Errorf("%w: %w", ErrUnusableAddress, err)
		}
		return err
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "listen", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// LinkStatus is the connectivity part of the health snapshot.
type LinkStatus struct {
	State string `json:"state"`
	Addr  string `json:"addr,omitempty"`
}

// ReadingStatus describes the latest stored measurement.
type ReadingStatus struct {
	Seq        uint64  `json:"seq"`
	AgeSeconds float64 `json:"age_seconds"`
	Stale      bool    `json:"stale"`
}

// Health is the /healthz response body.
type Health struct {
	Status    string         `json:"status"`
	Link      LinkStatus     `json:"link"`
	Broker    string         `json:"broker"`
	Reading   *ReadingStatus `json:"reading,omitempty"`
	BootCount int64          `json:"boot_count,omitempty"`
	Version   string         `json:"version"`
	Uptime    string         `json:"uptime"`
}

// Snapshot assembles the current health view.
func (s *Server) Snapshot() Health {
	h := Health{
		Version:   buildinfo.Version,
		Uptime:    buildinfo.Uptime().String(),
		BootCount: s.deps.BootCount,
	}

	link, _ := s.deps.Link.State()
	h.Link.State = link.Kind.String()
	if link.IsConnected() {
		h.Link.Addr = link.Addr.String()
	}

	broker := s.deps.Broker.State()
	h.Broker = broker.String()

	if m, seq, ok := s.deps.Store.Read(); ok {
		age := s.clock() - m.CapturedAt
		h.Reading = &ReadingStatus{
			Seq:        seq,
			AgeSeconds: age.Seconds(),
			Stale:      s.cfg.StaleAfter > 0 && age > s.cfg.StaleAfter,
		}
	}

	h.Status = "ok"
	if broker != mqtt.Publishing {
		h.Status = "degraded"
	}
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.Snapshot()
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h, s.logger)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evs := []events.Event{}
	if s.deps.Recorder != nil {
		evs = s.deps.Recorder.Recent()
	}
	writeJSON(w, http.StatusOK, evs, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Current(), s.logger)
}
