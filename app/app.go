// Package app is the governance delegation application: it executes
// blocks of signed transactions against the ledger through the
// runtime, with the delegation program and the governance program
// registered, and persists the results on Commit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/governance"
	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/store"
	"github.com/blockberries/valgov/types"
)

// Compile-time interface checks.
var (
	_ valgov.Lifecycle = (*App)(nil)
	_ valgov.Simulator = (*App)(nil)
)

// ErrNoExecutedBlock is returned by Commit when no block is pending.
var ErrNoExecutedBlock = errors.New("commit without an executed block")

// pendingBlock is the result of ExecuteBlock awaiting Commit.
type pendingBlock struct {
	height    uint64
	appHash   types.AppHash
	changes   []ledger.Change
	processed []types.Hash
	outcomes  []types.TxOutcome
}

// App implements valgov.Lifecycle and valgov.Simulator.
type App struct {
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	metrics      *appMetrics

	programCfg program.Config
	governance governance.Service

	state *ledger.State
	rt    *runtime.Runtime
	prog  *program.Program

	mu      sync.Mutex
	params  types.Params
	pending *pendingBlock
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// WithPromRegistry enables metrics on the given registry.
func WithPromRegistry(registry prometheus.Registerer) Option {
	return func(a *App) {
		a.promRegistry = registry
	}
}

// WithProgramConfig overrides program.DefaultConfig.
func WithProgramConfig(cfg program.Config) Option {
	return func(a *App) {
		a.programCfg = cfg
	}
}

// WithGovernance sets the service votes are forwarded to. The default
// is an in-memory governance.Recorder.
func WithGovernance(svc governance.Service) Option {
	return func(a *App) {
		a.governance = svc
	}
}

// New opens the application on st.
func New(st store.Store, opts ...Option) (*App, error) {
	a := &App{
		programCfg: program.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.governance == nil {
		a.governance = governance.NewRecorder()
	}
	if a.promRegistry != nil {
		a.initMetrics()
	}

	state, err := ledger.OpenState(st)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	a.state = state

	a.rt = runtime.New(runtime.WithLogger(a.logger))
	progOpts := []program.Option{program.WithLogger(a.logger)}
	if a.promRegistry != nil {
		progOpts = append(progOpts, program.WithPromRegistry(a.promRegistry))
	}
	a.prog = program.New(a.programCfg, progOpts...)
	if err := a.rt.Register(a.prog); err != nil {
		return nil, err
	}
	gov := governance.NewProgram(a.programCfg.GovernanceProgramID, a.governance, a.logger)
	if err := a.rt.Register(gov); err != nil {
		return nil, err
	}

	a.logger = a.logger.With("component", "app")
	a.logger.Info(
		"application opened",
		"height", state.Height(),
		"program_id", a.programCfg.ProgramID.String(),
		"governance_program_id", a.programCfg.GovernanceProgramID.String(),
	)
	return a, nil
}

// ProgramConfig returns the delegation program's config.
func (a *App) ProgramConfig() program.Config { return a.programCfg }

// initialized reports whether genesis has been applied to the state.
func (a *App) initialized() bool {
	return a.state.Height() > 0 || a.state.AppHash() != (types.AppHash{})
}

func (a *App) Handshake(_ context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	caps := types.CapSimulation

	if req.LastCommitted == nil && !a.initialized() {
		if req.Genesis == nil {
			return types.HandshakeResponse{}, errors.New("handshake: genesis document required")
		}
		if err := a.initChain(*req.Genesis); err != nil {
			return types.HandshakeResponse{}, err
		}
		h := a.state.AppHash()
		return types.HandshakeResponse{
			AppHash:      &h,
			Capabilities: caps,
		}, nil
	}

	// Restart.
	h := a.state.AppHash()
	resp := types.HandshakeResponse{
		AppHash:      &h,
		Capabilities: caps,
	}
	if a.state.Height() > 0 {
		resp.LastBlock = &types.BlockID{Height: a.state.Height()}
	}
	return resp, nil
}

func (a *App) initChain(doc types.GenesisDoc) error {
	gs, err := ParseGenesisState(doc.AppState)
	if err != nil {
		return err
	}
	overlay := ledger.NewOverlay(a.state)
	if err := gs.apply(overlay, a.rt.ProgramIDs()); err != nil {
		return err
	}

	height := uint64(0)
	if doc.InitialHeight > 0 {
		height = doc.InitialHeight - 1
	}
	changes := overlay.Changes()
	hash, err := ledger.HashChanges(types.AppHash{}, height, changes, nil)
	if err != nil {
		return err
	}
	if err := a.state.Commit(height, hash, changes, nil); err != nil {
		return valgov.HaltOnError(height, err)
	}

	a.mu.Lock()
	a.params = doc.Params
	a.mu.Unlock()

	a.logger.Info(
		"genesis applied",
		"chain_id", doc.ChainID,
		"accounts", len(gs.Accounts),
		"app_hash", fmt.Sprintf("%x", hash),
	)
	return nil
}

func (a *App) maxTxBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params.MaxTxBytes
}

func (a *App) CheckTx(_ context.Context, tx types.Tx, _ types.MempoolContext) (types.GateVerdict, error) {
	if limit := a.maxTxBytes(); limit > 0 && uint64(len(tx)) > limit {
		return types.GateVerdict{
			Code: runtime.CodeDecode,
			Info: fmt.Sprintf("transaction is %d bytes, limit %d", len(tx), limit),
		}, nil
	}
	decoded, err := a.rt.Validate(a.state, tx)
	if errors.Is(err, ledger.ErrStorage) {
		return types.GateVerdict{}, err
	}
	if err != nil {
		return types.GateVerdict{Code: runtime.CodeOf(err), Info: err.Error()}, nil
	}
	payer := decoded.Message.Payer
	acct, ok, err := a.state.Account(payer)
	if err != nil {
		return types.GateVerdict{}, err
	}
	if !ok || acct.Lamports == 0 {
		return types.GateVerdict{
			Code:   runtime.CodeAccount,
			Info:   fmt.Sprintf("payer %s has no funds", payer),
			Sender: payer.String(),
		}, nil
	}
	return types.GateVerdict{Sender: payer.String()}, nil
}

func (a *App) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if err := ctx.Err(); err != nil {
		return types.BlockOutcome{}, err
	}
	if committed := a.state.Height(); block.Height <= committed {
		return types.BlockOutcome{}, fmt.Errorf("block height %d is not above committed height %d", block.Height, committed)
	}

	start := time.Now()
	overlay := ledger.NewOverlay(a.state)
	outcomes := make([]types.TxOutcome, len(block.Txs))
	failed := 0
	for i, tx := range block.Txs {
		out, err := a.rt.ExecuteTransaction(ctx, overlay, tx)
		if err != nil {
			a.logger.Error(
				"state failure during execution",
				"height", block.Height,
				"tx", i,
				"error", err,
			)
			return types.BlockOutcome{}, valgov.HaltOnError(block.Height, err)
		}
		out.Index = uint32(i)
		if !out.OK() {
			failed++
		}
		outcomes[i] = out
	}

	changes := overlay.Changes()
	processed := overlay.ProcessedIDs()
	hash, err := ledger.HashChanges(a.state.AppHash(), block.Height, changes, processed)
	if err != nil {
		return types.BlockOutcome{}, valgov.HaltOnError(block.Height, err)
	}

	a.mu.Lock()
	a.pending = &pendingBlock{
		height:   block.Height,
		appHash:   hash,
		changes:   changes,
		processed: processed,
		outcomes:  outcomes,
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.blockExecution.Observe(time.Since(start).Seconds())
		a.metrics.txs.WithLabelValues("ok").Add(float64(len(block.Txs) - failed))
		a.metrics.txs.WithLabelValues("failed").Add(float64(failed))
	}
	a.logger.Debug(
		"executed block",
		"height", block.Height,
		"txs", len(block.Txs),
		"failed", failed,
		"changes", len(changes),
	)
	return types.BlockOutcome{
		TxOutcomes: outcomes,
		AppHash:    hash,
	}, nil
}

func (a *App) Commit(_ context.Context) (types.CommitResult, error) {
	a.mu.Lock()
	p := a.pending
	a.pending = nil
	a.mu.Unlock()
	if p == nil {
		return types.CommitResult{}, ErrNoExecutedBlock
	}

	if err := a.state.Commit(p.height, p.appHash, p.changes, p.processed); err != nil {
		a.logger.Error("commit failed", "height", p.height, "error", err)
		return types.CommitResult{}, valgov.HaltOnError(p.height, err)
	}
	for _, out := range p.outcomes {
		a.prog.ObserveOutcome(out)
	}
	if a.metrics != nil {
		a.metrics.blockHeight.Set(float64(p.height))
	}
	a.logger.Info(
		"committed block",
		"height", p.height,
		"app_hash", fmt.Sprintf("%x", p.appHash),
	)
	return types.CommitResult{}, nil
}

// Simulate executes tx against the committed state and discards the
// result. Governance calls are marked as dry runs.
func (a *App) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	overlay := ledger.NewOverlay(a.state)
	return a.rt.ExecuteTransaction(governance.WithDryRun(ctx), overlay, tx)
}
