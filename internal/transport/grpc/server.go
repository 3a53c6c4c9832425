// Package grpcx поднимает служебный gRPC: health-check релея и reflection.
package grpcx

import (
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName: имя, под которым health сообщает о релее.
const ServiceName = "telecare.signaling.Relay"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *slog.Logger
}

func NewServer(log *slog.Logger, unaryGuard time.Duration) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "grpc")

	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(log, unaryGuard)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs, log: log}
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc listen", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// MarkNotServing делает первый шаг остановки, после него балансировщики перестают слать трафик.
func (s *Server) MarkNotServing() {
	s.health.Shutdown()
}

func (s *Server) Stop() {
	s.MarkNotServing()
	s.grpc.GracefulStop()
}
