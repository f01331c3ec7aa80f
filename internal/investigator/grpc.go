package investigator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/moosh3/ack-agent/pkg/contracts"
)

// Investigator service over gRPC. Requests and responses are the contract
// JSON shapes carried as google.protobuf.Struct, so no generated stubs are
// needed on either side.
const (
	grpcServiceName  = "ackagent.v1.Investigator"
	grpcInvokeMethod = "/" + grpcServiceName + "/Invoke"
)

// structInvoker is the server-side handler type registered with grpc.
type structInvoker interface {
	invokeStruct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var investigatorServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*structInvoker)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ackagent/v1/investigator.proto",
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(structInvoker).invokeStruct(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcInvokeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(structInvoker).invokeStruct(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcServer exposes a local Investigator over gRPC.
type grpcServer struct {
	inv Investigator
}

// RegisterGRPCServer serves inv on s under ackagent.v1.Investigator.
func RegisterGRPCServer(s *grpc.Server, inv Investigator) {
	s.RegisterService(&investigatorServiceDesc, &grpcServer{inv: inv})
}

func (g *grpcServer) invokeStruct(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req contracts.TaskRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if req.Task == "" {
		return nil, status.Error(codes.InvalidArgument, "task is required")
	}
	resp, err := g.inv.Invoke(ctx, req.Task, req.Parameters)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "invoke %s: %v", req.Task, err)
	}
	if resp.TaskID == "" {
		resp.TaskID = req.TaskID
	}
	out, err := toStruct(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// GRPCInvestigator calls a remote investigator over gRPC.
type GRPCInvestigator struct {
	conn *grpc.ClientConn
}

// NewGRPCInvestigator connects lazily to target. Extra options (for example a
// bufconn dialer in tests) are appended to the defaults.
func NewGRPCInvestigator(target string, opts ...grpc.DialOption) (*GRPCInvestigator, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(16*1024*1024),
			grpc.MaxCallSendMsgSize(16*1024*1024),
		),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create investigator client for %s: %w", target, err)
	}
	return &GRPCInvestigator{conn: conn}, nil
}

// Invoke sends the task over the unary Invoke RPC.
func (g *GRPCInvestigator) Invoke(ctx context.Context, task string, params any) (*contracts.TaskResponse, error) {
	paramData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s parameters: %w", task, err)
	}
	in, err := toStruct(contracts.TaskRequest{Task: task, Parameters: paramData})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", task, err)
	}

	start := time.Now()
	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, grpcInvokeMethod, in, out); err != nil {
		return nil, fmt.Errorf("call %s: %w", task, err)
	}

	var resp contracts.TaskResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", task, err)
	}
	if resp.TaskName == "" {
		resp.TaskName = task
	}
	if resp.ExecutionTimeMs == 0 {
		resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return &resp, nil
}

// Close releases the connection.
func (g *GRPCInvestigator) Close() error {
	return g.conn.Close()
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
