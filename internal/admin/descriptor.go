package admin

import (
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

const descriptorPath = "picopty/v1/admin.proto"

var (
	descriptorOnce sync.Once
	descriptorErr  error
)

// registerDescriptor adds the DeviceAdmin file descriptor to the global
// registry so server reflection can describe the service.
func registerDescriptor() error {
	descriptorOnce.Do(func() {
		if _, err := protoregistry.GlobalFiles.FindFileByPath(descriptorPath); err == nil {
			return
		}
		var fd protoreflect.FileDescriptor
		fd, descriptorErr = protodesc.NewFile(fileDescriptorProto(), protoregistry.GlobalFiles)
		if descriptorErr != nil {
			return
		}
		descriptorErr = protoregistry.GlobalFiles.RegisterFile(fd)
	})
	return descriptorErr
}

func fileDescriptorProto() *descriptorpb.FileDescriptorProto {
	method := func(name, in, out string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(in),
			OutputType: proto.String(out),
		}
	}
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(descriptorPath),
		Package: proto.String("picopty.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
			"google/protobuf/wrappers.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("DeviceAdmin"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("ListDevices", ".google.protobuf.Empty", ".google.protobuf.ListValue"),
				method("Disconnect", ".google.protobuf.StringValue", ".google.protobuf.Empty"),
			},
		}},
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/antonkrylov/picopty/internal/admin"),
		},
	}
}
