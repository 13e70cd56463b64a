// Package runtime executes transactions against a ledger overlay:
// signature verification, instruction dispatch to registered programs,
// and cross-program invocation with program-derived signers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/types"
)

// DefaultMaxInvokeDepth bounds nested cross-program invocations. The
// top-level instruction runs at depth 1.
const DefaultMaxInvokeDepth = 4

// Program is an on-ledger program.
type Program interface {
	// ID is the address instructions target.
	ID() types.Pubkey
	// Process executes one instruction. Any returned error aborts the
	// enclosing transaction.
	Process(ictx *InvokeContext, ix types.Instruction) error
}

// Runtime dispatches instructions to registered programs.
type Runtime struct {
	mu       sync.RWMutex
	programs map[types.Pubkey]Program

	rent     ledger.Rent
	maxDepth int
	logger   *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger program logs are mirrored to at debug
// level.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithRent overrides the rent parameters.
func WithRent(rent ledger.Rent) Option {
	return func(r *Runtime) {
		r.rent = rent
	}
}

// WithMaxInvokeDepth overrides DefaultMaxInvokeDepth.
func WithMaxInvokeDepth(depth int) Option {
	return func(r *Runtime) {
		r.maxDepth = depth
	}
}

// New returns a runtime with the system program registered.
func New(opts ...Option) *Runtime {
	r := &Runtime{
		programs: make(map[types.Pubkey]Program),
		rent:     ledger.DefaultRent,
		maxDepth: DefaultMaxInvokeDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	r.programs[SystemProgramID] = systemProgram{}
	return r
}

// Register adds a program. Program ids must be unique.
func (r *Runtime) Register(p Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.programs[p.ID()]; ok {
		return fmt.Errorf("program %s already registered", p.ID())
	}
	r.programs[p.ID()] = p
	return nil
}

// Program looks up a registered program.
func (r *Runtime) Program(id types.Pubkey) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

// ProgramIDs returns every registered program id.
func (r *Runtime) ProgramIDs() []types.Pubkey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Pubkey, 0, len(r.programs))
	for id := range r.programs {
		out = append(out, id)
	}
	return out
}

// Rent returns the rent parameters.
func (r *Runtime) Rent() ledger.Rent { return r.rent }

// Validate decodes raw and checks its signatures and program ids
// without executing it. A message already applied to committed is
// rejected with ErrAlreadyProcessed.
func (r *Runtime) Validate(committed ledger.Reader, raw types.Tx) (types.Transaction, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return tx, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if _, err := tx.Verify(); err != nil {
		return tx, err
	}
	for _, ix := range tx.Message.Instructions {
		if _, ok := r.Program(ix.ProgramID); !ok {
			return tx, fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
		}
	}
	if _, err := checkFresh(committed, tx.Message); err != nil {
		return tx, err
	}
	return tx, nil
}

// checkFresh returns the message hash, or ErrAlreadyProcessed if r has
// seen it.
func checkFresh(r ledger.Reader, m types.Message) (types.Hash, error) {
	id, err := m.Hash()
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	seen, err := r.Processed(id)
	if err != nil {
		return types.Hash{}, err
	}
	if seen {
		return types.Hash{}, fmt.Errorf("%w: %x", ErrAlreadyProcessed, id[:8])
	}
	return id, nil
}

// txState collects the observable output of one transaction.
type txState struct {
	logs       []string
	events     []types.Event
	returnData []byte
}

// ExecuteTransaction runs raw in a child of parent and merges the
// child into parent when every instruction succeeds. A successful
// transaction's message hash is recorded, so the same signed message
// cannot be applied twice. Transaction failures are reported in the
// outcome; the returned error is non-nil only when the backing state
// failed.
func (r *Runtime) ExecuteTransaction(ctx context.Context, parent *ledger.Overlay, raw types.Tx) (types.TxOutcome, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return types.TxOutcome{Code: CodeDecode, Info: err.Error()}, nil
	}
	if _, err := tx.Verify(); err != nil {
		return types.TxOutcome{Code: CodeOf(err), Info: err.Error()}, nil
	}
	id, err := checkFresh(parent, tx.Message)
	if errors.Is(err, ledger.ErrStorage) {
		return types.TxOutcome{}, err
	}
	if err != nil {
		return types.TxOutcome{Code: CodeOf(err), Info: err.Error()}, nil
	}

	overlay := parent.Child()
	st := &txState{}
	for i, ix := range tx.Message.Instructions {
		ictx := &InvokeContext{
			ctx:       ctx,
			rt:        r,
			state:     overlay,
			tx:        st,
			programID: ix.ProgramID,
			accounts:  ix.Accounts,
			depth:     1,
		}
		if err := ictx.dispatch(ix); err != nil {
			if errors.Is(err, ledger.ErrStorage) {
				return types.TxOutcome{}, err
			}
			r.logger.Debug(
				"transaction failed",
				"component", "runtime",
				"instruction", i,
				"error", err,
			)
			return types.TxOutcome{
				Code: CodeOf(err),
				Info: fmt.Sprintf("instruction %d: %s", i, err),
				Logs: st.logs,
			}, nil
		}
	}

	overlay.MarkProcessed(id)
	parent.Merge(overlay)
	return types.TxOutcome{
		Code:   CodeOK,
		Data:   st.returnData,
		Events: st.events,
		Logs:   st.logs,
	}, nil
}
