// Package api serves strategy comparisons over HTTP (echo) and gRPC.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"stratbench/internal/config"
	"stratbench/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server hosts the HTTP and gRPC endpoints.
type Server struct {
	cfg     config.Server
	svc     *Service
	metrics *metrics.Recorder
	log     *slog.Logger

	echo *echo.Echo
	grpc *grpc.Server
}

// NewServer creates a Server. rec may be nil, in which case /metrics is not
// served.
func NewServer(cfg config.Server, deps Deps, rec *metrics.Recorder) *Server {
	if rec != nil && deps.Recorder == nil {
		deps.Recorder = rec
	}
	if rec != nil {
		deps.Provider = rec.Provider(deps.Provider)
	}
	svc := NewService(deps)
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: rec,
		log:     svc.log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("http request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	s.registerRoutes(e)
	s.echo = e

	s.grpc = grpc.NewServer()
	RegisterComparisonServer(s.grpc, &comparisonServer{svc: svc})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// RegisterGRPC registers the comparison service on gs.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	RegisterComparisonServer(gs, &comparisonServer{svc: s.svc})
}

// ListenAndServe starts the HTTP listener and, when configured, the gRPC
// listener. It blocks until ctx is cancelled or a listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.cfg.Addr())
		if err := s.echo.Start(s.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if addr := s.cfg.GRPCAddr(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			_ = s.echo.Close()
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		g.Go(func() error {
			s.log.Info("grpc server listening", "addr", addr)
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})

	return g.Wait()
}

// Shutdown stops both servers, waiting for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	err := s.echo.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.log.Info("servers stopped")
	return nil
}
