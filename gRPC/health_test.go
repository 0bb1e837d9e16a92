package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"CropDetServer/engine"
	iface "CropDetServer/interface"
	"CropDetServer/monitor"
	"CropDetServer/registry"
)

func dial(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthFollowsLoader(t *testing.T) {
	loader := registry.NewLoader(engine.Factory(engine.Options{}))
	defer loader.Close()

	s := New()
	s.Track(loader)
	client := dial(t, s)

	before := testutil.ToFloat64(monitor.GRPCTotal)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceName))

	desc := iface.ModelDescriptor{ID: "det", Name: "Detector", Kind: iface.KindPrimary, Runtime: iface.RuntimeMock, Enabled: true}
	select {
	case <-loader.Load(desc):
	case <-time.After(2 * time.Second):
		t.Fatal("load did not finish")
	}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceName))
	assert.Equal(t, before+4, testutil.ToFloat64(monitor.GRPCTotal))
}

func TestHealthUnknownService(t *testing.T) {
	client := dial(t, New())
	_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	assert.Error(t, err)
}

func TestSetStatus(t *testing.T) {
	s := New()
	client := dial(t, s)
	for _, tc := range []struct {
		status registry.Status
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{registry.StatusLoading, healthpb.HealthCheckResponse_NOT_SERVING},
		{registry.StatusReady, healthpb.HealthCheckResponse_SERVING},
		{registry.StatusError, healthpb.HealthCheckResponse_NOT_SERVING},
	} {
		t.Run(string(tc.status), func(t *testing.T) {
			s.SetStatus(tc.status)
			assert.Equal(t, tc.want, check(t, client, ServiceName))
		})
	}
}
