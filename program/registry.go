package program

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

// Event kinds emitted by the program.
const (
	EventDelegationCreated = "delegation_created"
	EventDelegationRevoked = "delegation_revoked"
	EventVoteForwarded     = "vote_forwarded"
)

// Accounts: delegation(w), validator_identity(w,s), system_program.
func (p *Program) createDelegation(ictx *runtime.InvokeContext, args []byte) error {
	if len(args) != 32 {
		return fmt.Errorf("%w: governance key is %d bytes", runtime.ErrInvalidInstructionData, len(args))
	}
	governanceKey := types.Pubkey(args)

	delegation, err := ictx.Meta(0)
	if err != nil {
		return err
	}
	validator, err := ictx.Meta(1)
	if err != nil {
		return err
	}
	v := validator.Pubkey
	if !ictx.IsSigner(v) {
		return newError(ErrUnauthorized, "validator %s must sign", v)
	}

	addr, bump, err := FindDelegationAddress(p.cfg.ProgramID, v)
	if err != nil {
		return err
	}
	if delegation.Pubkey != addr {
		return newError(ErrAddressMismatch, "delegation account %s is not %s", delegation.Pubkey, addr)
	}
	// A bare balance sent to the address does not count as a delegation.
	if acct, exists, err := ictx.Account(addr); err != nil {
		return err
	} else if exists && (acct.Owner == p.cfg.ProgramID || len(acct.Data) > 0) {
		return newError(ErrAlreadyDelegated, "validator %s already has a delegation", v)
	}

	err = ictx.CreateAccount(v, addr, RecordSize, p.cfg.ProgramID, signerSeeds(v, bump))
	if errors.Is(err, ledger.ErrAccountInUse) {
		return newError(ErrAlreadyDelegated, "validator %s already has a delegation", v)
	}
	if err != nil {
		return err
	}

	rec := DelegationRecord{
		ValidatorIdentity: v,
		GovernanceKey:     governanceKey,
		Bump:              bump,
	}
	if err := ictx.SetData(addr, rec.Encode()); err != nil {
		return err
	}

	ictx.Log("Delegation account created for: %s", v)
	ictx.Log("Governance key set to: %s", governanceKey)
	ictx.Emit(types.Event{
		Kind: EventDelegationCreated,
		Attributes: []types.EventAttribute{
			{Key: "validator_identity", Value: v.String(), Index: true},
			{Key: "governance_key", Value: governanceKey.String(), Index: true},
			{Key: "delegation", Value: addr.String()},
			{Key: "bump", Value: strconv.Itoa(int(bump))},
		},
	})
	return nil
}

// Accounts: validator_identity(w,s), delegation(w).
func (p *Program) revokeDelegation(ictx *runtime.InvokeContext) error {
	validator, err := ictx.Meta(0)
	if err != nil {
		return err
	}
	delegation, err := ictx.Meta(1)
	if err != nil {
		return err
	}
	v := validator.Pubkey

	rec, err := p.loadRecord(ictx, delegation.Pubkey)
	if err != nil {
		return err
	}
	if !ictx.IsSigner(v) || rec.ValidatorIdentity != v {
		return newError(ErrUnauthorized, "%s may not revoke the delegation of %s", v, rec.ValidatorIdentity)
	}

	refund, err := ictx.CloseAccount(delegation.Pubkey, v)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return newError(ErrRecordNotFound, "no delegation record at %s", delegation.Pubkey)
	}
	if err != nil {
		return err
	}

	ictx.Log("Delegation revoked for: %s", v)
	ictx.Emit(types.Event{
		Kind: EventDelegationRevoked,
		Attributes: []types.EventAttribute{
			{Key: "validator_identity", Value: v.String(), Index: true},
			{Key: "delegation", Value: delegation.Pubkey.String()},
			{Key: "refund", Value: strconv.FormatUint(refund, 10)},
		},
	})
	return nil
}
