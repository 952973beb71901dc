package admin_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"

	"github.com/antonkrylov/picopty/internal/admin"
	"github.com/antonkrylov/picopty/internal/registry"
	"github.com/antonkrylov/picopty/internal/server"
)

type fakeSource struct {
	mu      sync.Mutex
	devices []registry.Info
	stopped bool
	done    chan struct{}
}

func newFakeSource(devices ...registry.Info) *fakeSource {
	return &fakeSource{devices: devices, done: make(chan struct{})}
}

func (f *fakeSource) Devices(context.Context) ([]registry.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil, server.ErrStopped
	}
	return append([]registry.Info(nil), f.devices...), nil
}

func (f *fakeSource) Disconnect(_ context.Context, serial string) (registry.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, info := range f.devices {
		if info.Serial == serial {
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			return info, nil
		}
	}
	return registry.Info{}, registry.ErrNotFound
}

func (f *fakeSource) Done() <-chan struct{} { return f.done }

func (f *fakeSource) stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	close(f.done)
}

func startAdmin(t *testing.T, src admin.Source) *grpc.ClientConn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := admin.New(admin.Config{ListenAddr: "127.0.0.1:0", Source: src})
	require.NoError(t, err)
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := grpc.DialContext(dialCtx, srv.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestListDevices(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := newFakeSource(
		registry.Info{Number: 1, Serial: "AAA", PTYPath: "/dev/pts/3", Link: "/tmp/pico1", Connected: true, ConnID: "c1", Remote: "10.0.0.2:4000", CreatedAt: created, ConnectedAt: created, QueuedWrites: 2},
		registry.Info{Number: 3, Serial: "CCC", CreatedAt: created},
	)
	client := admin.NewClient(startAdmin(t, src))

	list, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Equal(t, src.devices, list)
}

func TestDisconnect(t *testing.T) {
	src := newFakeSource(registry.Info{Number: 1, Serial: "AAA"})
	client := admin.NewClient(startAdmin(t, src))
	ctx := context.Background()

	require.NoError(t, client.Disconnect(ctx, "AAA"))
	list, err := client.ListDevices(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	err = client.Disconnect(ctx, "AAA")
	require.Equal(t, codes.NotFound, status.Code(err))

	err = client.Disconnect(ctx, "  ")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthFollowsSource(t *testing.T) {
	src := newFakeSource()
	conn := startAdmin(t, src)
	health := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: admin.ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	src.stop()
	require.Eventually(t, func() bool {
		resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, 3*time.Second, 10*time.Millisecond)

	_, err = admin.NewClient(conn).ListDevices(ctx)
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestReflectionDescribesService(t *testing.T) {
	conn := startAdmin(t, newFakeSource())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(conn).ServerReflectionInfo(ctx)
	require.NoError(t, err)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}))
	resp, err := stream.Recv()
	require.NoError(t, err)
	var names []string
	for _, svc := range resp.GetListServicesResponse().GetService() {
		names = append(names, svc.GetName())
	}
	require.Contains(t, names, admin.ServiceName)

	require.NoError(t, stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: admin.ServiceName},
	}))
	resp, err = stream.Recv()
	require.NoError(t, err)
	require.Nil(t, resp.GetErrorResponse())
	require.NotEmpty(t, resp.GetFileDescriptorResponse().GetFileDescriptorProto())
}

func TestInfoStructRoundTrip(t *testing.T) {
	info := registry.Info{Number: 7, Serial: "X", CreatedAt: time.Unix(1700000000, 0).UTC()}
	require.Equal(t, info, admin.InfoFromStruct(admin.InfoStruct(info)))
}

func TestNewRequiresSource(t *testing.T) {
	_, err := admin.New(admin.Config{})
	require.Error(t, err)
}
