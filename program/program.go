// Package program implements the governance delegation program: a
// validator registers a delegation record naming a governance key, and
// the holder of that key casts governance votes for the validator. The
// program signs those votes with the record's derived address, which
// only it can produce.
package program

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

// Default program ids.
var (
	DefaultProgramID           = types.MustPubkey("HwA9L25ttH6SBuFJt2QWj68S1htkueosbBCwef38tT5R")
	DefaultGovernanceProgramID = types.MustPubkey("GovER5Lthms3bLBqWub97yVrMmEogzX7xNjdXpPPCVZw")
)

// Config fixes the program's identity. It does not change after the
// program is constructed.
type Config struct {
	// ProgramID is the address of this program and the namespace of its
	// derived addresses.
	ProgramID types.Pubkey
	// GovernanceProgramID is the governance program votes are forwarded
	// to.
	GovernanceProgramID types.Pubkey
}

// DefaultConfig returns the config with the default program ids.
func DefaultConfig() Config {
	return Config{
		ProgramID:           DefaultProgramID,
		GovernanceProgramID: DefaultGovernanceProgramID,
	}
}

// Program is the delegation program.
type Program struct {
	cfg          Config
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	metrics      *programMetrics
}

// Option configures a Program.
type Option func(*Program)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Program) {
		p.logger = logger
	}
}

// WithPromRegistry enables metrics on the given registry.
func WithPromRegistry(registry prometheus.Registerer) Option {
	return func(p *Program) {
		p.promRegistry = registry
	}
}

// New returns the program for cfg.
func New(cfg Config, opts ...Option) *Program {
	p := &Program{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "program")
	if p.promRegistry != nil {
		p.initMetrics()
	}
	return p
}

// ID implements runtime.Program.
func (p *Program) ID() types.Pubkey { return p.cfg.ProgramID }

// Config returns the program's config.
func (p *Program) Config() Config { return p.cfg }

// Process implements runtime.Program.
func (p *Program) Process(ictx *runtime.InvokeContext, ix types.Instruction) error {
	kind, args, err := DecodeInstruction(ix.Data)
	if err != nil {
		return err
	}
	p.logger.Debug(
		"processing instruction",
		"instruction", kind.String(),
		"depth", ictx.Depth(),
	)
	switch kind {
	case KindCreateDelegation:
		return p.createDelegation(ictx, args)
	case KindRevokeDelegation:
		return p.revokeDelegation(ictx)
	case KindExecuteVote:
		return p.executeVoteAsDelegate(ictx, args)
	default:
		return fmt.Errorf("%w: %s", runtime.ErrInvalidInstructionData, kind)
	}
}

// loadRecord reads the delegation record at addr. Accounts that do not
// exist, belong to another program or hold other data are reported as
// ErrRecordNotFound.
func (p *Program) loadRecord(ictx *runtime.InvokeContext, addr types.Pubkey) (DelegationRecord, error) {
	acct, ok, err := ictx.Account(addr)
	if err != nil {
		return DelegationRecord{}, err
	}
	if !ok || acct.Owner != p.cfg.ProgramID {
		return DelegationRecord{}, newError(ErrRecordNotFound, "no delegation record at %s", addr)
	}
	rec, err := DecodeRecord(acct.Data)
	if err != nil {
		e := newError(ErrRecordNotFound, "no delegation record at %s", addr)
		e.Err = err
		return DelegationRecord{}, e
	}
	return rec, nil
}

// ReadRecord reads validator's record from committed or pending state
// outside of a transaction.
func ReadRecord(r ledger.Reader, programID, validator types.Pubkey) (DelegationRecord, types.Pubkey, bool, error) {
	addr, _, err := FindDelegationAddress(programID, validator)
	if err != nil {
		return DelegationRecord{}, types.Pubkey{}, false, err
	}
	acct, ok, err := r.Account(addr)
	if err != nil || !ok || acct.Owner != programID {
		return DelegationRecord{}, addr, false, err
	}
	rec, err := DecodeRecord(acct.Data)
	if err != nil {
		return DelegationRecord{}, addr, false, err
	}
	return rec, addr, true, nil
}
