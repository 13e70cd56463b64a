package valgovgrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/server"
	"github.com/blockberries/valgov/types"
)

// Compile-time interface check.
var _ valgov.Connection = (*Client)(nil)

// Client implements valgov.Connection for a remote application over
// gRPC using cramberry serialization.
type Client struct {
	cc     *grpc.ClientConn
	caps   types.Capabilities
	guard  *server.LifecycleGuard
	height uint64
}

// Dial connects to a remote application.
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(
		grpc.ForceCodec(CramberryCodec{}),
	))
	cc, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("valgov client: dial %s: %w", addr, err)
	}
	return &Client{
		cc:    cc,
		guard: server.NewLifecycleGuard(),
	}, nil
}

// Attach readies the client for CheckTx, Query and Simulate without a
// handshake. It is for tools talking to an application that a
// consensus engine already drives; the lifecycle calls stay unusable.
func (c *Client) Attach(caps types.Capabilities) {
	c.guard.BeginHandshake()
	c.caps = caps
	c.guard.EndHandshake(nil)
}

func (c *Client) Close() error {
	return c.cc.Close()
}

// haltError turns an Aborted status back into a HaltError.
func haltError(height uint64, err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.Aborted {
		return &valgov.HaltError{Height: height, Reason: st.Message(), Err: err}
	}
	return err
}

// --- Lifecycle ---

func (c *Client) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	c.guard.BeginHandshake()

	resp := new(types.HandshakeResponse)
	err := c.cc.Invoke(ctx, fullMethod("Handshake"), &req, resp)
	if err == nil {
		c.caps = resp.Capabilities
	}
	c.guard.EndHandshake(err)
	if err != nil {
		return types.HandshakeResponse{}, err
	}
	return *resp, nil
}

func (c *Client) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	c.guard.RequireOpen("CheckTx")

	req := &CheckTxRequest{Tx: tx, Context: mctx}
	resp := new(types.GateVerdict)
	if err := c.cc.Invoke(ctx, fullMethod("CheckTx"), req, resp); err != nil {
		return types.GateVerdict{}, err
	}
	return *resp, nil
}

func (c *Client) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if err := c.guard.BeginExecute(); err != nil {
		return types.BlockOutcome{}, err
	}

	resp := new(types.BlockOutcome)
	err := c.cc.Invoke(ctx, fullMethod("ExecuteBlock"), &block, resp)
	if err != nil {
		err = haltError(block.Height, err)
		c.guard.EndExecute(err)
		return types.BlockOutcome{}, err
	}

	c.height = block.Height
	c.guard.EndExecute(nil)
	return *resp, nil
}

func (c *Client) Commit(ctx context.Context) (types.CommitResult, error) {
	if err := c.guard.BeginCommit(); err != nil {
		return types.CommitResult{}, err
	}

	req := &CommitRequest{}
	resp := new(types.CommitResult)
	if err := c.cc.Invoke(ctx, fullMethod("Commit"), req, resp); err != nil {
		err = haltError(c.height, err)
		c.guard.EndCommit(err)
		return types.CommitResult{}, err
	}
	c.guard.EndCommit(nil)
	return *resp, nil
}

func (c *Client) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	c.guard.RequireOpen("Query")

	resp := new(types.StateQueryResult)
	if err := c.cc.Invoke(ctx, fullMethod("Query"), &req, resp); err != nil {
		return types.StateQueryResult{}, err
	}
	return *resp, nil
}

// --- Capability Accessors ---

func (c *Client) Capabilities() types.Capabilities { return c.caps }

func (c *Client) AsSimulator() valgov.Simulator {
	if c.caps.Has(types.CapSimulation) {
		return &clientSimulator{c}
	}
	return nil
}

// --- Simulator wrapper ---

type clientSimulator struct{ c *Client }

func (w *clientSimulator) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	req := &SimulateRequest{Tx: tx}
	resp := new(types.TxOutcome)
	if err := w.c.cc.Invoke(ctx, fullMethod("Simulate"), req, resp); err != nil {
		return types.TxOutcome{}, err
	}
	return *resp, nil
}
