// Package valgov defines the boundary between a consensus engine and
// the governance delegation application.
//
// The core [Lifecycle] interface is required. [Simulator] is an
// optional capability discovered via Go type assertion at handshake
// time.
package valgov

import (
	"context"

	"github.com/blockberries/valgov/types"
)

// Lifecycle is the interface the application implements. It covers
// the complete path from boot to steady-state block execution.
//
// The engine guarantees the following call order:
//  1. Handshake is called exactly once, before anything else.
//  2. ExecuteBlock(h) is called exactly once per committed height h.
//  3. Commit is called exactly once after each ExecuteBlock.
//  4. CheckTx, Query may be called concurrently at any time after Handshake.
type Lifecycle interface {
	// Handshake is called once on every startup (cold start or restart).
	//
	// The engine communicates the last block it committed. If LastCommitted
	// is nil, this is a fresh genesis and Genesis will be populated.
	//
	// The application returns its own view of its state so the engine can
	// detect and recover from any divergence.
	Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error)

	// CheckTx gate-checks a transaction before it enters the mempool:
	// decoding, signatures and known programs. It does not execute.
	//
	// This method MUST be safe for concurrent use.
	CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error)

	// ExecuteBlock deterministically executes a finalized block.
	//
	// Every transaction runs atomically and in order; a failed transaction
	// leaves no trace in state but its outcome.
	//
	// This method MUST NOT persist state to disk; that happens in Commit.
	// The AppHash in the returned BlockOutcome must be deterministic: all
	// correct nodes executing the same block must produce the same AppHash.
	ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error)

	// Commit persists all state changes from the last ExecuteBlock to
	// durable storage.
	//
	// Called exactly once after each ExecuteBlock. Must be crash-safe:
	// either all changes land, or none do (atomic persistence).
	Commit(ctx context.Context) (types.CommitResult, error)

	// Query reads the last committed application state.
	//
	// This method MUST be safe for concurrent use, including concurrent
	// with ExecuteBlock.
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// Simulator provides a dedicated path for dry-run execution.
//
// Declared via: types.CapSimulation in HandshakeResponse.Capabilities
type Simulator interface {
	// Simulate dry-runs a transaction against current committed state
	// without persisting any changes. Returns the execution result
	// including events and program logs.
	//
	// This method MUST be safe for concurrent use.
	Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error)
}

// Application embeds every interface the delegation application
// implements.
type Application interface {
	Lifecycle
	Simulator
}

// Connection represents a transport-agnostic connection to an
// application. Both gRPC clients and in-process adapters implement this.
type Connection interface {
	Lifecycle

	// Capabilities returns the capabilities discovered at handshake.
	// Must only be called after Handshake completes.
	Capabilities() types.Capabilities

	// AsSimulator returns the Simulator interface if available.
	AsSimulator() Simulator

	// Close terminates the connection.
	Close() error
}
