// Package admin exposes the device registry over gRPC.
//
// The service uses only well-known message types, so it is registered
// through a hand-written service descriptor instead of generated stubs.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/antonkrylov/picopty/internal/registry"
	"github.com/antonkrylov/picopty/internal/server"
)

const (
	ServiceName = "picopty.v1.DeviceAdmin"

	listDevicesMethod = "/" + ServiceName + "/ListDevices"
	disconnectMethod  = "/" + ServiceName + "/Disconnect"
)

// Source is the device loop the service answers from.
type Source interface {
	Devices(ctx context.Context) ([]registry.Info, error)
	Disconnect(ctx context.Context, serial string) (registry.Info, error)
	Done() <-chan struct{}
}

// DeviceAdminServer is the server API for the DeviceAdmin service.
type DeviceAdminServer interface {
	ListDevices(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Disconnect(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

type deviceService struct {
	src    Source
	logger *slog.Logger
}

func (s *deviceService) ListDevices(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	list, err := s.src.Devices(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(list))}
	for _, info := range list {
		out.Values = append(out.Values, structpb.NewStructValue(InfoStruct(info)))
	}
	return out, nil
}

func (s *deviceService) Disconnect(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	serial := strings.TrimSpace(req.GetValue())
	if serial == "" {
		return nil, status.Error(codes.InvalidArgument, "serial is required")
	}
	info, err := s.src.Disconnect(ctx, serial)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("admin disconnect", "device", info.Number, "serial", info.Serial)
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, server.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RegisterDeviceAdminServer registers srv under ServiceName.
func RegisterDeviceAdminServer(s grpc.ServiceRegistrar, srv DeviceAdminServer) {
	s.RegisterService(&deviceAdminServiceDesc, srv)
}

var deviceAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeviceAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListDevices", Handler: listDevicesHandler},
		{MethodName: "Disconnect", Handler: disconnectHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: descriptorPath,
}

func listDevicesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceAdminServer).ListDevices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listDevicesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceAdminServer).ListDevices(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func disconnectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeviceAdminServer).Disconnect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: disconnectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DeviceAdminServer).Disconnect(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
