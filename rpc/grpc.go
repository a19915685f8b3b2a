package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"p2plend/rpc/middleware"
)

const (
	// GRPCServiceName is the fully qualified name of the mirror service.
	GRPCServiceName  = "p2plend.v1.Lending"
	grpcInvokeMethod = "/" + GRPCServiceName + "/Invoke"
)

// lendingServer is the handler type of the gRPC mirror. Requests and
// responses are google.protobuf.Struct documents shaped like the JSON-RPC
// call: {"method": "lend_get_offer", "params": {...}} in, {"result": ...} out.
type lendingServer interface {
	Invoke(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(lendingServer).Invoke(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcInvokeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(lendingServer).Invoke(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var lendingServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*lendingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "p2plend/v1/lending.proto",
}

type grpcService struct {
	server *Server
}

func (g grpcService) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["method"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "method required")
	}
	var raw json.RawMessage
	if params, ok := fields["params"]; ok && params != nil {
		encoded, err := protojson.Marshal(params)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "params: %v", err)
		}
		raw = encoded
	}
	var bearer string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			bearer = middleware.ExtractBearer(values[0])
		}
	}
	result, err := g.server.Invoke(ctx, name, raw, bearer)
	if err != nil {
		return nil, grpcError(err)
	}
	value, err := toValue(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"result": value}}, nil
}

func toValue(v interface{}) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	value := new(structpb.Value)
	if err := protojson.Unmarshal(data, value); err != nil {
		return nil, err
	}
	return value, nil
}

// grpcError translates the HTTP classification into a gRPC status.
func grpcError(err error) error {
	httpStatus, rpcErr := classify(err)
	code := codes.Internal
	switch httpStatus {
	case http.StatusBadRequest:
		code = codes.InvalidArgument
		if rpcErr.Code == codeLendingError {
			code = codes.FailedPrecondition
		}
	case http.StatusUnauthorized:
		code = codes.Unauthenticated
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusNotFound:
		code = codes.Unimplemented
	case http.StatusConflict:
		code = codes.Aborted
	case http.StatusTooManyRequests:
		code = codes.ResourceExhausted
	}
	return status.Error(code, rpcErr.Message)
}

// ServeGRPC serves the gRPC mirror on l until Shutdown.
func (s *Server) ServeGRPC(l net.Listener) error {
	gs := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	gs.RegisterService(&lendingServiceDesc, grpcService{server: s})
	s.serverMu.Lock()
	s.grpcServer = gs
	s.serverMu.Unlock()
	s.logger.Info("grpc server listening", slog.String("addr", l.Addr().String()))
	if err := gs.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// InvokeGRPC calls method over conn. params is marshalled to JSON first, so
// signed calls pass an *Envelope. The bearer token, when set, is sent as
// authorization metadata.
func InvokeGRPC(ctx context.Context, conn grpc.ClientConnInterface, method string, params interface{}, bearer string) (json.RawMessage, error) {
	fields := map[string]*structpb.Value{"method": structpb.NewStringValue(method)}
	if params != nil {
		value, err := toValue(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		fields["params"] = value
	}
	if bearer != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+bearer)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, grpcInvokeMethod, &structpb.Struct{Fields: fields}, out); err != nil {
		return nil, err
	}
	result, ok := out.GetFields()["result"]
	if !ok {
		return json.RawMessage("null"), nil
	}
	return protojson.Marshal(result)
}
