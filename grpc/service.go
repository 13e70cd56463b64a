package valgovgrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	"github.com/blockberries/valgov/types"
)

const serviceName = "valgov.v1.Application"

// ApplicationServer is the server-side interface for the application
// gRPC service.
type ApplicationServer interface {
	Handshake(context.Context, *types.HandshakeRequest) (*types.HandshakeResponse, error)
	CheckTx(context.Context, *CheckTxRequest) (*types.GateVerdict, error)
	ExecuteBlock(context.Context, *types.FinalizedBlock) (*types.BlockOutcome, error)
	Commit(context.Context, *CommitRequest) (*types.CommitResult, error)
	Query(context.Context, *types.StateQuery) (*types.StateQueryResult, error)
	Simulate(context.Context, *SimulateRequest) (*types.TxOutcome, error)
}

// RegisterApplicationServer registers srv on a gRPC server.
func RegisterApplicationServer(s *grpc.Server, srv ApplicationServer) {
	s.RegisterService(&serviceDesc, srv)
}

// --- Handler functions ---

func handlerHandshake(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(types.HandshakeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ApplicationServer).Handshake(ctx, req)
}

func handlerCheckTx(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(CheckTxRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ApplicationServer).CheckTx(ctx, req)
}

func handlerExecuteBlock(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(types.FinalizedBlock)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ApplicationServer).ExecuteBlock(ctx, req)
}

func handlerCommit(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(CommitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ApplicationServer).Commit(ctx, req)
}

func handlerQuery(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(types.StateQuery)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ApplicationServer).Query(ctx, req)
}

func handlerSimulate(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(SimulateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(ApplicationServer).Simulate(ctx, req)
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ApplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handshake", Handler: handlerHandshake},
		{MethodName: "CheckTx", Handler: handlerCheckTx},
		{MethodName: "ExecuteBlock", Handler: handlerExecuteBlock},
		{MethodName: "Commit", Handler: handlerCommit},
		{MethodName: "Query", Handler: handlerQuery},
		{MethodName: "Simulate", Handler: handlerSimulate},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "valgov/v1/service.cram",
}
