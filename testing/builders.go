package valgovtest

import (
	"bytes"
	"testing"

	"github.com/blockberries/valgov/governance"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/types"
)

// Key derives a deterministic keypair from n.
func Key(n byte) types.Keypair {
	kp, err := types.KeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		panic(err)
	}
	return kp
}

// Builder produces signed, encoded delegation transactions. Every
// transaction gets a fresh nonce so repeated calls never collide.
type Builder struct {
	t     *testing.T
	cfg   program.Config
	nonce uint64
}

// NewBuilder returns a Builder for the program described by cfg.
func NewBuilder(t *testing.T, cfg program.Config) *Builder {
	return &Builder{t: t, cfg: cfg}
}

// Tx signs ixs with payer first, then extra, and encodes the result.
func (b *Builder) Tx(payer types.Keypair, ixs []types.Instruction, extra ...types.Keypair) types.Tx {
	b.t.Helper()
	b.nonce++
	tx := types.Transaction{Message: types.Message{
		Payer:        payer.Pubkey,
		Nonce:        b.nonce,
		Instructions: ixs,
	}}
	if err := tx.Sign(append([]types.Keypair{payer}, extra...)...); err != nil {
		b.t.Fatalf("sign: %v", err)
	}
	raw, err := tx.Encode()
	if err != nil {
		b.t.Fatalf("encode: %v", err)
	}
	return raw
}

// Create registers governanceKey as validator's delegate.
func (b *Builder) Create(validator types.Keypair, governanceKey types.Pubkey) types.Tx {
	b.t.Helper()
	ix, err := program.CreateDelegationInstruction(b.cfg, validator.Pubkey, governanceKey)
	if err != nil {
		b.t.Fatalf("create instruction: %v", err)
	}
	return b.Tx(validator, []types.Instruction{ix})
}

// Revoke closes validator's delegation.
func (b *Builder) Revoke(validator types.Keypair) types.Tx {
	b.t.Helper()
	ix, err := program.RevokeDelegationInstruction(b.cfg, validator.Pubkey)
	if err != nil {
		b.t.Fatalf("revoke instruction: %v", err)
	}
	return b.Tx(validator, []types.Instruction{ix})
}

// Vote casts vote on proposal as validator's delegate.
func (b *Builder) Vote(delegate types.Keypair, validator types.Pubkey, proposal byte, vote governance.Vote) types.Tx {
	b.t.Helper()
	ix, err := program.ExecuteVoteInstruction(b.cfg, VoteAccounts(validator, delegate.Pubkey, proposal), vote)
	if err != nil {
		b.t.Fatalf("vote instruction: %v", err)
	}
	return b.Tx(delegate, []types.Instruction{ix})
}

// VoteAccounts returns governance accounts derived from proposal.
// Different proposal values give disjoint account sets.
func VoteAccounts(validator, governanceKey types.Pubkey, proposal byte) program.VoteAccounts {
	acct := func(role byte) types.Pubkey {
		var pk types.Pubkey
		pk[0], pk[1], pk[31] = 0xee, proposal, role
		return pk
	}
	return program.VoteAccounts{
		ValidatorIdentity:     validator,
		GovernanceKey:         governanceKey,
		Governance:            acct(1),
		Proposal:              acct(2),
		ProposalOwnerRecord:   acct(3),
		VoterTokenOwnerRecord: acct(4),
		VoteRecord:            acct(5),
	}
}
