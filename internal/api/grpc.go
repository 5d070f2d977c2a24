package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// The comparison service carries JSON-shaped messages as
// google.protobuf.Struct, mirroring the bodies of the HTTP API.
const (
	comparisonService     = "stratbench.v1.Comparison"
	compareMethod         = "/" + comparisonService + "/Compare"
	listStrategiesMethod  = "/" + comparisonService + "/ListStrategies"
	comparisonServiceFile = "stratbench/v1/comparison.proto"
)

// ComparisonServer is the server API for the Comparison service.
type ComparisonServer interface {
	Compare(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterComparisonServer registers srv on gs.
func RegisterComparisonServer(gs grpc.ServiceRegistrar, srv ComparisonServer) {
	gs.RegisterService(&comparisonServiceDesc, srv)
}

var comparisonServiceDesc = grpc.ServiceDesc{
	ServiceName: comparisonService,
	HandlerType: (*ComparisonServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compare", Handler: compareHandler},
		{MethodName: "ListStrategies", Handler: listStrategiesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: comparisonServiceFile,
}

func compareHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComparisonServer).Compare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: compareMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ComparisonServer).Compare(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listStrategiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComparisonServer).ListStrategies(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listStrategiesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ComparisonServer).ListStrategies(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ComparisonClient is the client API for the Comparison service.
type ComparisonClient struct {
	cc grpc.ClientConnInterface
}

// NewComparisonClient creates a client on cc.
func NewComparisonClient(cc grpc.ClientConnInterface) *ComparisonClient {
	return &ComparisonClient{cc: cc}
}

// Compare runs a comparison remotely.
func (c *ComparisonClient) Compare(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, compareMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStrategies lists the strategies registered on the server.
func (c *ComparisonClient) ListStrategies(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listStrategiesMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Server side
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ ComparisonServer = (*comparisonServer)(nil)

type comparisonServer struct {
	svc *Service
}

func (g *comparisonServer) Compare(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req CompareRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	if err := defaults.Set(&req); err != nil {
		return nil, status.Errorf(codes.Internal, "applying defaults: %v", err)
	}
	if err := validate.StructCtx(ctx, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := g.svc.Compare(ctx, &req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(resp)
}

func (g *comparisonServer) ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"strategies": g.svc.Strategies()})
}

// grpcError maps a service error onto a status code.
func grpcError(err error) error {
	switch {
	case errors.Is(err, errRunsDisabled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case isClientError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case isNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStruct decodes s into v through its JSON form.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// toStruct encodes v into a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// StructFrom encodes v as a Struct for use with ComparisonClient.
func StructFrom(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return s, nil
}

// DecodeStruct decodes a Struct returned by ComparisonClient into v.
func DecodeStruct(s *structpb.Struct, v any) error {
	return fromStruct(s, v)
}
