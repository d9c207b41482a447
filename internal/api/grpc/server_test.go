package grpcapi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"speech-relay-service/internal/observability/metrics"
)

func startServer(t *testing.T) (*Server, *metrics.Metrics, grpc_health_v1.HealthClient) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	m := metrics.NewMetrics(nil)
	s := New(m)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return s, m, grpc_health_v1.NewHealthClient(conn)
}

func check(t *testing.T, client grpc_health_v1.HealthClient, service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestServer_HealthStatus(t *testing.T) {
	s, _, client := startServer(t)

	if got := check(t, client, ServiceName); got != grpc_health_v1.HealthCheckResponse_NOT_SERVING {
		t.Errorf("expected NOT_SERVING before ready, got %v", got)
	}

	s.SetServing(true)

	for _, name := range []string{"", ServiceName} {
		if got := check(t, client, name); got != grpc_health_v1.HealthCheckResponse_SERVING {
			t.Errorf("service %q: expected SERVING, got %v", name, got)
		}
	}
}

func TestServer_RecordsRequestMetrics(t *testing.T) {
	s, m, client := startServer(t)
	s.SetServing(true)

	check(t, client, "")

	got := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("/grpc.health.v1.Health/Check", "OK"))
	if got != 1 {
		t.Errorf("expected 1 recorded request, got %v", got)
	}
}
