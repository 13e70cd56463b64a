package governance

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"

	valgovgrpc "github.com/blockberries/valgov/grpc"
)

const serviceName = "valgov.v1.Governance"

// CastVoteResponse carries the service's verdict. A zero Code means
// the vote was recorded.
type CastVoteResponse struct {
	Code uint32 `cramberry:"1"`
	Msg  string `cramberry:"2"`
}

// GovernanceServer is the server-side interface of the governance
// gRPC service.
type GovernanceServer interface {
	CastVote(context.Context, *CastVoteRequest) (*CastVoteResponse, error)
}

func handlerCastVote(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(CastVoteRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(GovernanceServer).CastVote(ctx, req)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GovernanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CastVote", Handler: handlerCastVote},
	},
	Metadata: "valgov/v1/governance.cram",
}

var _ GovernanceServer = (*GRPCServer)(nil)

// GRPCServer serves a Service over gRPC.
type GRPCServer struct {
	svc Service
}

// NewGRPCServer wraps svc.
func NewGRPCServer(svc Service) *GRPCServer {
	return &GRPCServer{svc: svc}
}

// Register adds the governance service to gs.
func (s *GRPCServer) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Serve starts a gRPC server on lis.
func (s *GRPCServer) Serve(lis net.Listener, opts ...grpc.ServerOption) error {
	gs := grpc.NewServer(opts...)
	s.Register(gs)
	return gs.Serve(lis)
}

// CastVote reports service failures in the response so their codes
// survive the transport.
func (s *GRPCServer) CastVote(ctx context.Context, req *CastVoteRequest) (*CastVoteResponse, error) {
	if err := s.svc.CastVote(ctx, req); err != nil {
		ge := AsError(err)
		return &CastVoteResponse{Code: ge.Code, Msg: ge.Msg}, nil
	}
	return &CastVoteResponse{}, nil
}

var _ Service = (*Client)(nil)

// Client is a Service backed by a remote governance server.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to a governance server.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(valgovgrpc.CramberryCodec{}),
	))
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("governance client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// CastVote forwards req. Transport failures are returned as is;
// rejected votes come back as *Error.
func (c *Client) CastVote(ctx context.Context, req *CastVoteRequest) error {
	resp := new(CastVoteResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CastVote", req, resp); err != nil {
		return fmt.Errorf("governance client: cast vote: %w", err)
	}
	if resp.Code != 0 {
		return &Error{Code: resp.Code, Msg: resp.Msg}
	}
	return nil
}
