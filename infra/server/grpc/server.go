// Package grpcsrv serves the standard gRPC health protocol, reporting
// SERVING only while the shared store answers.
package grpcsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/infra/server/grpc/interceptors"
	"github.com/webitel/im-forum-delivery/infra/store"
)

const (
	ServiceName   = "im_forum.delivery"
	probeInterval = 5 * time.Second
)

var Module = fx.Module("grpc_server",
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, s store.Store, logger *slog.Logger) {
		if cfg.GRPC.Addr == "" {
			return
		}
		srv := New(cfg.GRPC.Addr, s, logger.With("component", "grpc"))
		lc.Append(fx.Hook{
			OnStart: srv.Start,
			OnStop:  srv.Stop,
		})
	}),
)

type Server struct {
	addr   string
	store  store.Store
	logger *slog.Logger
	grpc   *grpc.Server
	health *health.Server
	ln     net.Listener

	stop chan struct{}
	wg   sync.WaitGroup
}

// interceptorLogger adapts slog to the go-grpc-middleware logging contract.
func interceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

func New(addr string, s store.Store, logger *slog.Logger) *Server {
	recoveryOpt := recovery.WithRecoveryHandler(func(p any) error {
		logger.Error("PANIC_RECOVERED", "err", p)
		return status.Errorf(codes.Internal, "internal error")
	})
	logOpts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
		logging.WithFieldsFromContext(func(ctx context.Context) logging.Fields {
			if id, ok := interceptors.GetRequestID(ctx); ok {
				return logging.Fields{"request_id", id}
			}
			return nil
		}),
	}

	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recoveryOpt),
			interceptors.NewUnaryRequestIDInterceptor(),
			logging.UnaryServerInterceptor(interceptorLogger(logger), logOpts...),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recoveryOpt),
			interceptors.NewStreamRequestIDInterceptor(),
			logging.StreamServerInterceptor(interceptorLogger(logger), logOpts...),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		addr:   addr,
		store:  s,
		logger: logger,
		grpc:   gs,
		health: hs,
		stop:   make(chan struct{}),
	}
}

// Probe pings the store once and publishes the result for both the overall
// server and ServiceName.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("HEALTH_PROBE_FAILED", "err", err)
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return st
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.Probe(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.grpc.Serve(ln); err != nil {
			s.logger.Error("GRPC_SERVER_FAILED", "err", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(probeInterval)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-t.C:
				pctx, cancel := context.WithTimeout(context.Background(), probeInterval)
				s.Probe(pctx)
				cancel()
			}
		}
	}()

	s.logger.Info("GRPC_SERVER_LISTENING", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	close(s.stop)
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	s.wg.Wait()
	return nil
}
