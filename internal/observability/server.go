package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds configuration for the observability server.
type ServerConfig struct {
	MetricsEnabled bool
	MetricsAddress string
	MetricsPort    int
	MetricsPath    string

	HealthEnabled bool
	HealthAddress string
	HealthPort    int
	LivenessPath  string
	ReadinessPath string
}

// Server serves metrics and health check endpoints.
type Server struct {
	cfg      ServerConfig
	gatherer prometheus.Gatherer
	health   *Health

	metricsServer *http.Server
	healthServer  *http.Server
	metricsAddr   net.Addr
	healthAddr    net.Addr
}

// NewServer creates a new observability server exposing the metrics held by
// gatherer.
func NewServer(cfg ServerConfig, gatherer prometheus.Gatherer, health *Health) *Server {
	return &Server{
		cfg:      cfg,
		gatherer: gatherer,
		health:   health,
	}
}

// Start binds the enabled listeners and serves them in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

		srv, addr, err := serve("metrics", s.cfg.MetricsAddress, s.cfg.MetricsPort, mux)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.metricsServer, s.metricsAddr = srv, addr
	}

	if s.cfg.HealthEnabled {
		mux := http.NewServeMux()
		mux.HandleFunc(s.cfg.LivenessPath, s.health.LivenessHandler())
		mux.HandleFunc(s.cfg.ReadinessPath, s.health.ReadinessHandler())
		mux.HandleFunc("/health/full", s.health.FullHealthHandler())

		srv, addr, err := serve("health", s.cfg.HealthAddress, s.cfg.HealthPort, mux)
		if err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		s.healthServer, s.healthAddr = srv, addr
	}

	return nil
}

func serve(name, host string, port int, handler http.Handler) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("server", name).Str("address", ln.Addr().String()).Msg("Observability server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("server", name).Msg("Observability server error")
		}
	}()

	return srv, ln.Addr(), nil
}

// MetricsAddr returns the bound metrics address, or nil if disabled.
func (s *Server) MetricsAddr() net.Addr {
	return s.metricsAddr
}

// HealthAddr returns the bound health address, or nil if disabled.
func (s *Server) HealthAddr() net.Addr {
	return s.healthAddr
}

// Stop gracefully stops the observability servers.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.metricsServer != nil {
		log.Info().Msg("Stopping metrics server...")
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if s.healthServer != nil {
		log.Info().Msg("Stopping health server...")
		if err := s.healthServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}
