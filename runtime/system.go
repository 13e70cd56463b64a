package runtime

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/types"
)

// SystemProgramID is the address of the built-in system program.
var SystemProgramID = ledger.SystemProgramID

// System instruction kinds.
const (
	SystemCreateAccount uint8 = iota
	SystemTransfer
	SystemAllocate
)

// SystemInstruction is the payload of a system program instruction.
type SystemInstruction struct {
	Kind     uint8        `cramberry:"1"`
	Lamports uint64       `cramberry:"2"`
	Space    uint64       `cramberry:"3"`
	Owner    types.Pubkey `cramberry:"4"`
}

func systemInstruction(si SystemInstruction, accounts ...types.AccountMeta) types.Instruction {
	data, err := cramberry.Marshal(si)
	if err != nil {
		// Fixed-shape struct; encoding cannot fail.
		panic(fmt.Sprintf("encode system instruction: %v", err))
	}
	return types.Instruction{
		ProgramID: SystemProgramID,
		Accounts:  accounts,
		Data:      data,
	}
}

// CreateAccountInstruction funds and allocates newAccount. Both payer
// and newAccount must sign.
func CreateAccountInstruction(payer, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) types.Instruction {
	return systemInstruction(
		SystemInstruction{Kind: SystemCreateAccount, Lamports: lamports, Space: space, Owner: owner},
		types.Signer(payer, true),
		types.Signer(newAccount, true),
	)
}

// TransferInstruction moves lamports between system-owned accounts.
func TransferInstruction(from, to types.Pubkey, lamports uint64) types.Instruction {
	return systemInstruction(
		SystemInstruction{Kind: SystemTransfer, Lamports: lamports},
		types.Signer(from, true),
		types.Writable(to),
	)
}

// AllocateInstruction gives a system-owned account with no data space
// bytes and assigns it to owner. addr must sign.
func AllocateInstruction(addr types.Pubkey, space uint64, owner types.Pubkey) types.Instruction {
	return systemInstruction(
		SystemInstruction{Kind: SystemAllocate, Space: space, Owner: owner},
		types.Signer(addr, true),
	)
}

type systemProgram struct{}

func (systemProgram) ID() types.Pubkey { return SystemProgramID }

func (systemProgram) Process(ictx *InvokeContext, ix types.Instruction) error {
	var si SystemInstruction
	if err := cramberry.Unmarshal(ix.Data, &si); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstructionData, err)
	}
	switch si.Kind {
	case SystemCreateAccount:
		payer, err := signerWritable(ictx, 0)
		if err != nil {
			return err
		}
		addr, err := signerWritable(ictx, 1)
		if err != nil {
			return err
		}
		if err := systemOwned(ictx, payer); err != nil {
			return err
		}
		return ictx.state.Allocate(payer, addr, si.Lamports, int(si.Space), si.Owner)
	case SystemTransfer:
		from, err := signerWritable(ictx, 0)
		if err != nil {
			return err
		}
		to, err := ictx.Meta(1)
		if err != nil {
			return err
		}
		if !to.IsWritable {
			return fmt.Errorf("%w: %s", ErrReadonlyAccount, to.Pubkey)
		}
		if err := systemOwned(ictx, from); err != nil {
			return err
		}
		return ictx.state.Transfer(from, to.Pubkey, si.Lamports)
	case SystemAllocate:
		addr, err := signerWritable(ictx, 0)
		if err != nil {
			return err
		}
		return ictx.state.Assign(addr, int(si.Space), si.Owner)
	default:
		return fmt.Errorf("%w: unknown system instruction %d", ErrInvalidInstructionData, si.Kind)
	}
}

func signerWritable(ictx *InvokeContext, i int) (types.Pubkey, error) {
	m, err := ictx.Meta(i)
	if err != nil {
		return types.Pubkey{}, err
	}
	if !m.IsSigner {
		return types.Pubkey{}, fmt.Errorf("%w: %s", ErrMissingSigner, m.Pubkey)
	}
	if !m.IsWritable {
		return types.Pubkey{}, fmt.Errorf("%w: %s", ErrReadonlyAccount, m.Pubkey)
	}
	return m.Pubkey, nil
}

// systemOwned rejects debits from accounts owned by other programs.
func systemOwned(ictx *InvokeContext, pk types.Pubkey) error {
	a, ok, err := ictx.state.Account(pk)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, pk)
	}
	if a.Owner != SystemProgramID || len(a.Data) > 0 {
		return fmt.Errorf("%w: %s", ErrIllegalOwner, pk)
	}
	return nil
}
