package program

import (
	"errors"
	"fmt"

	"github.com/blockberries/valgov/governance"
	"github.com/blockberries/valgov/pda"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

// Accounts: delegation, validator_identity, governance_key(w,s),
// governance, proposal(w), proposal_owner_record,
// voter_token_owner_record(w), vote_record(w), governance_program,
// system_program.
//
// Every check runs before the governance program is called. The vote
// payload is forwarded without being decoded.
func (p *Program) executeVoteAsDelegate(ictx *runtime.InvokeContext, payload []byte) error {
	accts := ictx.Accounts()
	if len(accts) < voteAccountCount {
		return fmt.Errorf("%w: need %d, have %d", runtime.ErrNotEnoughAccounts, voteAccountCount, len(accts))
	}
	var (
		delegation = accts[0].Pubkey
		validator  = accts[1].Pubkey
		govKey     = accts[2].Pubkey
		govProgram = accts[8].Pubkey
	)

	rec, err := p.loadRecord(ictx, delegation)
	if err != nil {
		return err
	}
	if err := pda.Verify(delegation, DelegationSeeds(validator), rec.Bump, p.cfg.ProgramID); err != nil {
		return newError(ErrAddressMismatch, "delegation account %s is not derived from %s: %v", delegation, validator, err)
	}
	if rec.GovernanceKey != govKey {
		return newError(ErrKeyMismatch, "governance key %s is not the delegate", govKey)
	}
	if !ictx.IsSigner(govKey) {
		return newError(ErrUnauthorized, "governance key %s must sign", govKey)
	}
	if rec.ValidatorIdentity != validator {
		return newError(ErrKeyMismatch, "validator %s does not own the delegation", validator)
	}
	if govProgram != p.cfg.GovernanceProgramID {
		return newError(ErrAddressMismatch, "governance program %s is not %s", govProgram, p.cfg.GovernanceProgramID)
	}

	ictx.Log("Executing vote as delegate...")
	ix := governance.CastVoteInstruction(p.cfg.GovernanceProgramID, governance.CastVoteAccounts{
		Governance:            accts[3].Pubkey,
		Proposal:              accts[4].Pubkey,
		ProposalOwnerRecord:   accts[5].Pubkey,
		VoterTokenOwnerRecord: accts[6].Pubkey,
		VotingAuthority:       delegation,
		VoteRecord:            accts[7].Pubkey,
		Payer:                 govKey,
		SystemProgram:         accts[9].Pubkey,
	}, payload)
	if err := ictx.InvokeSigned(ix, signerSeeds(validator, rec.Bump)); err != nil {
		var ge *governance.Error
		if errors.As(err, &ge) {
			return externalError(ge)
		}
		return err
	}

	ictx.Log("Vote cast successfully by delegate!")
	ictx.Emit(types.Event{
		Kind: EventVoteForwarded,
		Attributes: []types.EventAttribute{
			{Key: "validator_identity", Value: validator.String(), Index: true},
			{Key: "governance_key", Value: govKey.String(), Index: true},
			{Key: "proposal", Value: accts[4].Pubkey.String(), Index: true},
		},
	})
	return nil
}
