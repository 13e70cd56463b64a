package governance

import (
	"errors"
	"fmt"

	"github.com/blockberries/valgov/types"
)

// CastVoteTag is the instruction index of cast-vote in the governance
// program's instruction set.
const CastVoteTag = 13

// castVoteAccountCount is the number of accounts a cast-vote takes.
const castVoteAccountCount = 8

// ErrInvalidInstruction is returned when decoding a malformed
// cast-vote instruction.
var ErrInvalidInstruction = errors.New("governance: invalid cast vote instruction")

// CastVoteAccounts are the accounts a cast-vote call requires. They are
// opaque to callers; the governance program validates their contents.
type CastVoteAccounts struct {
	Governance            types.Pubkey
	Proposal              types.Pubkey
	ProposalOwnerRecord   types.Pubkey
	VoterTokenOwnerRecord types.Pubkey
	// VotingAuthority must sign. It is the account the vote is cast
	// on behalf of.
	VotingAuthority types.Pubkey
	VoteRecord      types.Pubkey
	// Payer must sign and funds the vote record.
	Payer         types.Pubkey
	SystemProgram types.Pubkey
}

// Metas returns the accounts in call order with the privileges the
// call contract requires.
func (a CastVoteAccounts) Metas() []types.AccountMeta {
	return []types.AccountMeta{
		types.ReadOnly(a.Governance),
		types.Writable(a.Proposal),
		types.ReadOnly(a.ProposalOwnerRecord),
		types.Writable(a.VoterTokenOwnerRecord),
		types.Signer(a.VotingAuthority, false),
		types.Writable(a.VoteRecord),
		types.Signer(a.Payer, true),
		types.ReadOnly(a.SystemProgram),
	}
}

// CastVoteInstruction builds a cast-vote call. vote is forwarded as is.
func CastVoteInstruction(programID types.Pubkey, accounts CastVoteAccounts, vote []byte) types.Instruction {
	data := make([]byte, 0, 1+len(vote))
	data = append(data, CastVoteTag)
	data = append(data, vote...)
	return types.Instruction{
		ProgramID: programID,
		Accounts:  accounts.Metas(),
		Data:      data,
	}
}

// DecodeCastVote splits a cast-vote instruction into its accounts and
// the raw vote payload.
func DecodeCastVote(ix types.Instruction) ([]types.AccountMeta, []byte, error) {
	if len(ix.Data) == 0 || ix.Data[0] != CastVoteTag {
		return nil, nil, fmt.Errorf("%w: unexpected tag", ErrInvalidInstruction)
	}
	if len(ix.Accounts) < castVoteAccountCount {
		return nil, nil, fmt.Errorf("%w: %d accounts, need %d", ErrInvalidInstruction, len(ix.Accounts), castVoteAccountCount)
	}
	vote := make([]byte, len(ix.Data)-1)
	copy(vote, ix.Data[1:])
	return ix.Accounts[:castVoteAccountCount], vote, nil
}
