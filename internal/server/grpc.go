package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"PerpParity/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server runs the gRPC health/reflection endpoint and the HTTP/JSON API.
type Server struct {
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	grpcAddr     string
	httpAddr     string
	logger       zerolog.Logger
}

// NewServer builds both servers. The HTTP handler is the gateway mux from
// NewGatewayMux.
func NewServer(grpcAddr, httpAddr string, deps *Deps, logger zerolog.Logger) (*Server, error) {
	mux, err := NewGatewayMux(deps)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:   grpcServer,
		healthServer: healthServer,
		httpServer:   &http.Server{Addr: httpAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		grpcAddr:     grpcAddr,
		httpAddr:     httpAddr,
		logger:       logger,
	}, nil
}

// SetServing flips the gRPC health status; main calls it once replay is done.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
}

// StartGRPC serves gRPC until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Deps are the read models and services the API is built on.
type Deps struct {
	Model   ModelView
	Parity  ParityReader
	Ingest  EventInjector
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// NewGatewayMux registers the JSON routes on a grpc-gateway runtime mux.
func NewGatewayMux(deps *Deps) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	h := &handlers{deps: deps}

	routes := []struct {
		method, path, endpoint string
		fn                     runtime.HandlerFunc
	}{
		{"GET", "/v1/quotes/close", "quote_close", h.quoteClose},
		{"GET", "/v1/quotes/borrowing", "quote_borrowing", h.quoteBorrowing},
		{"GET", "/v1/quotes/funding", "quote_funding", h.quoteFunding},
		{"GET", "/v1/pairs", "pairs", h.listPairs},
		{"GET", "/v1/pairs/{pair}", "pair", h.getPair},
		{"GET", "/v1/epoch", "epoch", h.getEpoch},
		{"GET", "/v1/parity/summary", "parity_summary", h.paritySummary},
		{"GET", "/v1/parity/rollup", "parity_rollup", h.parityRollup},
		{"GET", "/v1/parity/mismatches", "parity_mismatches", h.listMismatches},
		{"GET", "/v1/parity/checks/{id}", "parity_check", h.getCheck},
		{"GET", "/v1/admin/integrity", "admin_integrity", h.verifyIntegrity},
		{"POST", "/v1/admin/events/{type}", "admin_inject", h.injectEvent},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, h.instrument(r.endpoint, r.fn)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}

	if deps.Health != nil {
		if err := mux.HandlePath("GET", "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			deps.Health.LivenessHandler(w, r)
		}); err != nil {
			return nil, err
		}
		if err := mux.HandlePath("GET", "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			deps.Health.ReadinessHandler(w, r)
		}); err != nil {
			return nil, err
		}
	}
	return mux, nil
}
