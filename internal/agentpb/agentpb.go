// Package agentpb defines the gRPC service idevice-agent exposes: a
// streaming telemetry feed and a one-shot snapshot/device-list API,
// mirroring the shape of the teacher's hand-wired
// "hasher/internal/proto/hasher/v1" package (internal/driver/host/bridge.go,
// internal/driver/device/server.go) but repurposed from hash-compute RPCs
// to device telemetry samples.
//
// The teacher's proto package is protoc-generated and isn't present in the
// retrieval pack as source, so messages here are written by hand rather
// than lifted from a .proto file. Hand-authoring a real protoreflect
// descriptor without running protoc is impractical, so these messages skip
// the generated proto.Message machinery and travel over a small JSON codec
// named "json" that the server forces (see codec.go) instead of the
// wire-format "proto" codec — still real grpc.Server/grpc.ClientConn
// transport and streaming, just not real protobuf encoding. See DESIGN.md.
package agentpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "idevicekit.agentpb.AgentService"

// TelemetrySample is one point-in-time reading, the direct analog of the
// teacher's ComputeHashResponse: CPU/mem/FPS/GPU in place of a hash.
// Timestamp is a real google.golang.org/protobuf well-known type rather
// than a bare int64: it is the one field in this hand-written message set
// that still rides on genuine generated protobuf code (timestamppb is
// protoc-generated and vendored by the protobuf module itself), even
// though the surrounding message travels over the JSON grpc codec.
type TelemetrySample struct {
	DeviceID         string                 `json:"device_id"`
	Timestamp        *timestamppb.Timestamp `json:"timestamp"`
	CPUPercent       float64                `json:"cpu_percent"`
	MemoryUsedBytes  uint64                 `json:"memory_used_bytes"`
	MemoryTotalBytes uint64                 `json:"memory_total_bytes"`
	FPS              float64                `json:"fps"`
	GPUUtilization   float64                `json:"gpu_utilization"`
}

// StreamRequest selects which device's telemetry channel to subscribe to.
type StreamRequest struct {
	DeviceID string `json:"device_id"`
}

// SnapshotRequest selects which device's last sample to return.
type SnapshotRequest struct {
	DeviceID string `json:"device_id"`
}

// DeviceSummary is the abbreviated per-device info ListDevices returns.
type DeviceSummary struct {
	DeviceID string `json:"device_id"`
	Serial   string `json:"serial"`
}

type ListDevicesRequest struct{}

type ListDevicesResponse struct {
	Devices []DeviceSummary `json:"devices"`
}

// AgentServiceServer is the server API for AgentService.
type AgentServiceServer interface {
	StreamTelemetry(*StreamRequest, AgentService_StreamTelemetryServer) error
	GetSnapshot(context.Context, *SnapshotRequest) (*TelemetrySample, error)
	ListDevices(context.Context, *ListDevicesRequest) (*ListDevicesResponse, error)
}

// UnimplementedAgentServiceServer may be embedded for forward compatibility,
// matching pb.UnimplementedHasherServiceServer's role in the teacher.
type UnimplementedAgentServiceServer struct{}

func (UnimplementedAgentServiceServer) StreamTelemetry(*StreamRequest, AgentService_StreamTelemetryServer) error {
	return status.Error(codes.Unimplemented, "method StreamTelemetry not implemented")
}

func (UnimplementedAgentServiceServer) GetSnapshot(context.Context, *SnapshotRequest) (*TelemetrySample, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSnapshot not implemented")
}

func (UnimplementedAgentServiceServer) ListDevices(context.Context, *ListDevicesRequest) (*ListDevicesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDevices not implemented")
}

// AgentService_StreamTelemetryServer is the server-side stream handle for
// StreamTelemetry, the analog of the generated HasherService_*Server types.
type AgentService_StreamTelemetryServer interface {
	Send(*TelemetrySample) error
	grpc.ServerStream
}

type agentServiceStreamTelemetryServer struct {
	grpc.ServerStream
}

func (s *agentServiceStreamTelemetryServer) Send(m *TelemetrySample) error {
	return s.ServerStream.SendMsg(m)
}

func streamTelemetryHandler(srv any, stream grpc.ServerStream) error {
	req := new(StreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(AgentServiceServer).StreamTelemetry(req, &agentServiceStreamTelemetryServer{stream})
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(SnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).GetSnapshot(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetSnapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).GetSnapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func listDevicesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ListDevicesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentServiceServer).ListDevices(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/ListDevices"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentServiceServer).ListDevices(ctx, req.(*ListDevicesRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc is the grpc.ServiceDesc the generated *_grpc.pb.go would
// normally emit from the .proto file's service definition.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSnapshot", Handler: getSnapshotHandler},
		{MethodName: "ListDevices", Handler: listDevicesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTelemetry", Handler: streamTelemetryHandler, ServerStreams: true},
	},
	Metadata: "idevicekit/agentpb.proto",
}

// RegisterAgentServiceServer registers srv against s, the same call shape
// as the generated pb.RegisterHasherServiceServer.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// AgentServiceClient is the client API for AgentService.
type AgentServiceClient interface {
	StreamTelemetry(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (AgentService_StreamTelemetryClient, error)
	GetSnapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*TelemetrySample, error)
	ListDevices(ctx context.Context, in *ListDevicesRequest, opts ...grpc.CallOption) (*ListDevicesResponse, error)
}

type agentServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAgentServiceClient mirrors pb.NewHasherServiceClient.
func NewAgentServiceClient(cc grpc.ClientConnInterface) AgentServiceClient {
	return &agentServiceClient{cc}
}

func (c *agentServiceClient) StreamTelemetry(ctx context.Context, in *StreamRequest, opts ...grpc.CallOption) (AgentService_StreamTelemetryClient, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], ServiceName+"/StreamTelemetry", opts...)
	if err != nil {
		return nil, err
	}
	clientStream := &agentServiceStreamTelemetryClient{stream}
	if err := clientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := clientStream.CloseSend(); err != nil {
		return nil, err
	}
	return clientStream, nil
}

func (c *agentServiceClient) GetSnapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*TelemetrySample, error) {
	out := new(TelemetrySample)
	if err := c.cc.Invoke(ctx, ServiceName+"/GetSnapshot", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *agentServiceClient) ListDevices(ctx context.Context, in *ListDevicesRequest, opts ...grpc.CallOption) (*ListDevicesResponse, error) {
	out := new(ListDevicesResponse)
	if err := c.cc.Invoke(ctx, ServiceName+"/ListDevices", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentService_StreamTelemetryClient is the client-side stream handle.
type AgentService_StreamTelemetryClient interface {
	Recv() (*TelemetrySample, error)
	grpc.ClientStream
}

type agentServiceStreamTelemetryClient struct {
	grpc.ClientStream
}

func (s *agentServiceStreamTelemetryClient) Recv() (*TelemetrySample, error) {
	m := new(TelemetrySample)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
