package program

import (
	"bytes"
	"fmt"

	"github.com/blockberries/valgov/governance"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

// InstructionKind identifies a delegation program instruction.
type InstructionKind uint8

const (
	KindCreateDelegation InstructionKind = iota + 1
	KindRevokeDelegation
	KindExecuteVote
)

var instructionNames = map[InstructionKind]string{
	KindCreateDelegation: "create_delegation",
	KindRevokeDelegation: "revoke_delegation",
	KindExecuteVote:      "execute_vote_as_delegate",
}

var instructionDiscriminators = func() map[[8]byte]InstructionKind {
	m := make(map[[8]byte]InstructionKind, len(instructionNames))
	for k, name := range instructionNames {
		m[discriminator("global:"+name)] = k
	}
	return m
}()

func (k InstructionKind) String() string {
	if name, ok := instructionNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Discriminator returns the 8-byte prefix of the kind's instruction
// data.
func (k InstructionKind) Discriminator() [8]byte {
	return discriminator("global:" + k.String())
}

func instructionData(k InstructionKind, args []byte) []byte {
	d := k.Discriminator()
	out := make([]byte, 0, len(d)+len(args))
	out = append(out, d[:]...)
	return append(out, args...)
}

// DecodeInstruction splits instruction data into its kind and
// arguments.
func DecodeInstruction(data []byte) (InstructionKind, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("%w: %d bytes", runtime.ErrInvalidInstructionData, len(data))
	}
	k, ok := instructionDiscriminators[[8]byte(data[:8])]
	if !ok {
		return 0, nil, fmt.Errorf("%w: unknown discriminator %x", runtime.ErrInvalidInstructionData, data[:8])
	}
	return k, bytes.Clone(data[8:]), nil
}

// CreateDelegationInstruction registers governanceKey as validator's
// delegate. validator signs and pays.
func CreateDelegationInstruction(cfg Config, validator, governanceKey types.Pubkey) (types.Instruction, error) {
	addr, _, err := FindDelegationAddress(cfg.ProgramID, validator)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: cfg.ProgramID,
		Accounts: []types.AccountMeta{
			types.Writable(addr),
			types.Signer(validator, true),
			types.ReadOnly(runtime.SystemProgramID),
		},
		Data: instructionData(KindCreateDelegation, governanceKey[:]),
	}, nil
}

// RevokeDelegationInstruction removes validator's delegation record
// and refunds its deposit to validator.
func RevokeDelegationInstruction(cfg Config, validator types.Pubkey) (types.Instruction, error) {
	addr, _, err := FindDelegationAddress(cfg.ProgramID, validator)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: cfg.ProgramID,
		Accounts: []types.AccountMeta{
			types.Signer(validator, true),
			types.Writable(addr),
		},
		Data: instructionData(KindRevokeDelegation, nil),
	}, nil
}

// VoteAccounts are the accounts of a vote cast by a delegate. The
// governance accounts are passed through to the governance program
// untouched.
type VoteAccounts struct {
	ValidatorIdentity     types.Pubkey
	GovernanceKey         types.Pubkey
	Governance            types.Pubkey
	Proposal              types.Pubkey
	ProposalOwnerRecord   types.Pubkey
	VoterTokenOwnerRecord types.Pubkey
	VoteRecord            types.Pubkey
}

const voteAccountCount = 10

// ExecuteVoteInstruction casts vote on behalf of ValidatorIdentity.
// GovernanceKey signs and pays for the vote record.
func ExecuteVoteInstruction(cfg Config, accts VoteAccounts, vote governance.Vote) (types.Instruction, error) {
	payload, err := vote.Encode()
	if err != nil {
		return types.Instruction{}, err
	}
	addr, _, err := FindDelegationAddress(cfg.ProgramID, accts.ValidatorIdentity)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: cfg.ProgramID,
		Accounts: []types.AccountMeta{
			types.ReadOnly(addr),
			types.ReadOnly(accts.ValidatorIdentity),
			types.Signer(accts.GovernanceKey, true),
			types.ReadOnly(accts.Governance),
			types.Writable(accts.Proposal),
			types.ReadOnly(accts.ProposalOwnerRecord),
			types.Writable(accts.VoterTokenOwnerRecord),
			types.Writable(accts.VoteRecord),
			types.ReadOnly(cfg.GovernanceProgramID),
			types.ReadOnly(runtime.SystemProgramID),
		},
		Data: instructionData(KindExecuteVote, payload),
	}, nil
}
