package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/antonkrylov/picopty/internal/registry"
)

// Client calls the DeviceAdmin service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) ListDevices(ctx context.Context, opts ...grpc.CallOption) ([]registry.Info, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, listDevicesMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	list := make([]registry.Info, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		list = append(list, InfoFromStruct(v.GetStructValue()))
	}
	return list, nil
}

func (c *Client) Disconnect(ctx context.Context, serial string, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, disconnectMethod, wrapperspb.String(serial), new(emptypb.Empty), opts...)
}
