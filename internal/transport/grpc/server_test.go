package grpcx

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(nil, time.Second)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return srv, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthServing(t *testing.T) {
	_, c := startServer(t)

	for _, svc := range []string{"", ServiceName} {
		if got := check(t, c, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("%q status = %v", svc, got)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("unknown service: %v", err)
	}
}

func TestHealthNotServingOnShutdown(t *testing.T) {
	srv, c := startServer(t)
	srv.MarkNotServing()

	if got := check(t, c, ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v", got)
	}
}

func TestUnaryInterceptorRecoversPanic(t *testing.T) {
	ic := UnaryServerInterceptor(slog.Default(), time.Second)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Boom"}

	_, err := ic(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("want Internal, got %v", err)
	}
}

func TestUnaryInterceptorAddsDeadline(t *testing.T) {
	ic := UnaryServerInterceptor(slog.Default(), time.Second)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Svc/Deadline"}

	_, err := ic(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("handler context has no deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
}
