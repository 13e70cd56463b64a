package governance

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

// Program exposes a Service to the runtime under the governance
// program id.
type Program struct {
	id     types.Pubkey
	svc    Service
	logger *slog.Logger
}

// NewProgram returns a runtime program that forwards cast-vote calls to
// svc.
func NewProgram(id types.Pubkey, svc Service, logger *slog.Logger) *Program {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Program{id: id, svc: svc, logger: logger}
}

func (p *Program) ID() types.Pubkey { return p.id }

// Process checks the signer flags the call contract requires and hands
// the call to the service. Any service failure is returned as *Error.
func (p *Program) Process(ictx *runtime.InvokeContext, ix types.Instruction) error {
	accounts, vote, err := DecodeCastVote(ix)
	if err != nil {
		return fmt.Errorf("%w: %v", runtime.ErrInvalidInstructionData, err)
	}
	req := &CastVoteRequest{
		RequestID: uuid.NewString(),
		ProgramID: p.id,
		Accounts:  accounts,
		Vote:      vote,
		DryRun:    IsDryRun(ictx.Context()),
	}
	if !ictx.IsSigner(req.VotingAuthority()) {
		return Errorf(CodeInvalidAuthority, "voting authority %s did not sign", req.VotingAuthority())
	}
	if !ictx.IsSigner(req.Payer()) {
		return Errorf(CodeInvalidAuthority, "payer %s did not sign", req.Payer())
	}

	p.logger.Debug(
		"cast vote",
		"component", "governance",
		"request_id", req.RequestID,
		"proposal", req.Proposal().String(),
		"voting_authority", req.VotingAuthority().String(),
		"dry_run", req.DryRun,
	)
	if err := p.svc.CastVote(ictx.Context(), req); err != nil {
		return AsError(err)
	}
	ictx.Log("Vote recorded for %s", req.VotingAuthority())
	return nil
}
