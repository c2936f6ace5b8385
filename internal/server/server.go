// Package server exposes the engine over gRPC and HTTP/JSON. The gRPC
// side carries health checks and reflection for grpcurl; the read API
// is served as JSON on the gateway mux so dashboards and curl need no
// generated client.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/EquationDAO/equation-contracts-sub001/internal/engine"
	"github.com/EquationDAO/equation-contracts-sub001/internal/observability"
	"github.com/EquationDAO/equation-contracts-sub001/internal/query"
)

// Server wraps the gRPC server and the HTTP/JSON API mux.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	log           zerolog.Logger

	api *apiHandler
}

// Deps holds everything the API surface reads from.
type Deps struct {
	DB            *sql.DB
	Engine        *engine.Engine
	QueryService  *query.Service
	Metrics       *observability.Metrics
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// New creates a server with health and reflection registered.
func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		log:           deps.Logger,
		api: &apiHandler{
			db:      deps.DB,
			engine:  deps.Engine,
			queries: deps.QueryService,
			metrics: deps.Metrics,
			log:     deps.Logger,
		},
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.api.register(mux); err != nil {
		return fmt.Errorf("register api routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
