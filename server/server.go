package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/types"
)

// Server wraps an application with lifecycle enforcement and
// capability routing. The consensus engine interacts with the
// application exclusively through this server.
type Server struct {
	app    valgov.Lifecycle
	guard  *LifecycleGuard
	caps   types.Capabilities
	logger *slog.Logger

	// Optional interfaces (nil if not supported).
	simulator valgov.Simulator

	// Last block outcome (held between ExecuteBlock and Commit).
	mu             sync.Mutex
	lastOutcome    *types.BlockOutcome
	lastExecHeight uint64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new Server wrapping the given application.
func New(app valgov.Lifecycle, opts ...Option) *Server {
	s := &Server{
		app:   app,
		guard: NewLifecycleGuard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "server")
	// Pre-discover optional interfaces (validated after handshake).
	s.simulator, _ = app.(valgov.Simulator)
	return s
}

// Handshake performs the startup handshake, validates capability
// declarations, and transitions the state machine to Ready.
func (s *Server) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	s.guard.BeginHandshake()

	resp, err := s.app.Handshake(ctx, req)
	if err == nil {
		err = s.discoverCapabilities(resp.Capabilities)
	}
	if err == nil {
		s.caps = resp.Capabilities
	}
	s.guard.EndHandshake(err)
	return resp, err
}

// CheckTx gate-checks a transaction for mempool admission.
// Safe for concurrent use.
func (s *Server) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	s.guard.RequireOpen("CheckTx")
	return s.app.CheckTx(ctx, tx, mctx)
}

// ExecuteBlock deterministically executes a finalized block.
func (s *Server) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if err := s.guard.BeginExecute(); err != nil {
		return types.BlockOutcome{}, err
	}

	outcome, err := s.app.ExecuteBlock(ctx, block)
	if err == nil {
		s.mu.Lock()
		s.lastOutcome = &outcome
		s.lastExecHeight = block.Height
		s.mu.Unlock()
	}
	if s.guard.EndExecute(err) {
		s.logHalt()
	}
	return outcome, err
}

// Commit persists state changes from the last ExecuteBlock.
func (s *Server) Commit(ctx context.Context) (types.CommitResult, error) {
	if err := s.guard.BeginCommit(); err != nil {
		return types.CommitResult{}, err
	}

	result, err := s.app.Commit(ctx)

	s.mu.Lock()
	s.lastOutcome = nil
	s.mu.Unlock()

	if s.guard.EndCommit(err) {
		s.logHalt()
	}
	return result, err
}

func (s *Server) logHalt() {
	h := s.guard.Halted()
	s.logger.Error("application requested halt", "height", h.Height, "reason", h.Reason)
}

// Halted returns the halt the application requested, or nil. Once set,
// ExecuteBlock and Commit return it without calling the application.
func (s *Server) Halted() *valgov.HaltError {
	return s.guard.Halted()
}

// Serving reports whether the handshake has completed.
func (s *Server) Serving() bool {
	return s.guard.Open()
}

// Query reads application state. Safe for concurrent use.
func (s *Server) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	s.guard.RequireOpen("Query")
	return s.app.Query(ctx, req)
}

// Capabilities returns the application's declared capabilities.
// Only valid after Handshake completes.
func (s *Server) Capabilities() types.Capabilities {
	return s.caps
}

// Simulate delegates to Simulator if supported.
// Safe for concurrent use.
func (s *Server) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	if s.simulator == nil {
		return types.TxOutcome{}, fmt.Errorf("valgov: Simulator not supported")
	}
	s.guard.RequireOpen("Simulate")
	return s.simulator.Simulate(ctx, tx)
}

// AsSimulator returns the Simulator interface or nil.
func (s *Server) AsSimulator() valgov.Simulator {
	if s.caps.Has(types.CapSimulation) {
		return s.simulator
	}
	return nil
}

// LastOutcome returns the most recent BlockOutcome (between
// ExecuteBlock and Commit). Returns nil if no outcome is pending.
func (s *Server) LastOutcome() *types.BlockOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// Close is a no-op for the server wrapper.
func (s *Server) Close() error { return nil }

// discoverCapabilities checks which optional interfaces the app
// implements and verifies consistency with declared capabilities.
func (s *Server) discoverCapabilities(declared types.Capabilities) error {
	_, hasSimulator := s.app.(valgov.Simulator)

	if declared.Has(types.CapSimulation) && !hasSimulator {
		return fmt.Errorf("valgov: app declared CapSimulation but does not implement Simulator")
	}

	// Warn (but don't error) if the app implements an interface but didn't declare it.
	if !declared.Has(types.CapSimulation) && hasSimulator {
		s.logger.Warn("app implements Simulator but did not declare it; capability will not be used")
	}
	return nil
}
