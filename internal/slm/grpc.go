package slm

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "holofab.slm.v1.Display"

const streamHologramsMethod = "/" + ServiceName + "/StreamHolograms"

// DisplayServer is the server API for the Display service.
//
// StreamHolograms sends the latest hologram immediately, then every new
// one, each as a wrappers.BytesValue holding an EncodeFrame payload.
type DisplayServer interface {
	StreamHolograms(*emptypb.Empty, grpc.ServerStream) error
}

// RegisterDisplayServer registers srv on s.
func RegisterDisplayServer(s grpc.ServiceRegistrar, srv DisplayServer) {
	s.RegisterService(&DisplayServiceDesc, srv)
}

func streamHologramsHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DisplayServer).StreamHolograms(m, stream)
}

// DisplayServiceDesc describes the Display service. There is no .proto
// file; the messages are protobuf well-known types.
var DisplayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DisplayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamHolograms",
			Handler:       streamHologramsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "holofab/slm/v1/display",
}
