package valgovgrpc

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/server"
	"github.com/blockberries/valgov/types"
)

// Compile-time interface check.
var _ ApplicationServer = (*GRPCServer)(nil)

// GRPCServer wraps an application as a gRPC server. Domain types are
// serialized directly via cramberry.
type GRPCServer struct {
	srv *server.Server
}

// NewGRPCServer creates a gRPC server wrapping the given application.
func NewGRPCServer(app valgov.Lifecycle, logger *slog.Logger) *GRPCServer {
	var opts []server.Option
	if logger != nil {
		opts = append(opts, server.WithLogger(logger))
	}
	return &GRPCServer{
		srv: server.New(app, opts...),
	}
}

// Register adds the application service to a gRPC server.
func (s *GRPCServer) Register(gs *grpc.Server) {
	RegisterApplicationServer(gs, s)
}

// Serve starts the gRPC server on the given listener.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

// Server returns the underlying server for advanced use.
func (s *GRPCServer) Server() *server.Server {
	return s.srv
}

// statusError maps a halt to codes.Aborted so the engine can tell it
// from a transport failure.
func statusError(err error) error {
	if h, ok := valgov.IsHalt(err); ok {
		return status.Error(codes.Aborted, h.Reason)
	}
	return err
}

// errNotServing is returned to read-only callers that arrive before the
// engine has performed the handshake.
var errNotServing = status.Error(codes.Unavailable, "application handshake not completed")

// --- Lifecycle RPCs ---

func (s *GRPCServer) Handshake(ctx context.Context, req *types.HandshakeRequest) (*types.HandshakeResponse, error) {
	resp, err := s.srv.Handshake(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *GRPCServer) CheckTx(ctx context.Context, req *CheckTxRequest) (*types.GateVerdict, error) {
	if !s.srv.Serving() {
		return nil, errNotServing
	}
	verdict, err := s.srv.CheckTx(ctx, req.Tx, req.Context)
	if err != nil {
		return nil, err
	}
	return &verdict, nil
}

func (s *GRPCServer) ExecuteBlock(ctx context.Context, block *types.FinalizedBlock) (*types.BlockOutcome, error) {
	outcome, err := s.srv.ExecuteBlock(ctx, *block)
	if err != nil {
		return nil, statusError(err)
	}
	return &outcome, nil
}

func (s *GRPCServer) Commit(ctx context.Context, _ *CommitRequest) (*types.CommitResult, error) {
	result, err := s.srv.Commit(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return &result, nil
}

func (s *GRPCServer) Query(ctx context.Context, req *types.StateQuery) (*types.StateQueryResult, error) {
	if !s.srv.Serving() {
		return nil, errNotServing
	}
	result, err := s.srv.Query(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Simulator RPC ---

func (s *GRPCServer) Simulate(ctx context.Context, req *SimulateRequest) (*types.TxOutcome, error) {
	if !s.srv.Serving() {
		return nil, errNotServing
	}
	outcome, err := s.srv.Simulate(ctx, req.Tx)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}
