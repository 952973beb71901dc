package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

const DefaultListenAddr = "127.0.0.1:5050"

type Config struct {
	ListenAddr string
	Source     Source
	Logger     *slog.Logger
}

type Server struct {
	cfg Config

	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	stopOnce   sync.Once
}

func New(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("admin: source is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{cfg: cfg}, nil
}

// Start serves until ctx is cancelled or Stop is called. Health reports
// NOT_SERVING once the source's loop has exited.
func (s *Server) Start(ctx context.Context) error {
	if err := registerDescriptor(); err != nil {
		s.cfg.Logger.Warn("admin descriptor unavailable to reflection", "err", err)
	}

	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	RegisterDeviceAdminServer(s.grpcServer, &deviceService{src: s.cfg.Source, logger: s.cfg.Logger})

	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	reflection.Register(s.grpcServer)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.cfg.Source.Done():
			s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			<-ctx.Done()
		}
		s.Stop()
	}()
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.cfg.Logger.Error("admin serve", "err", err)
		}
	}()
	s.cfg.Logger.Info("admin listening", "addr", lis.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.health != nil {
			s.health.Shutdown()
		}
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
