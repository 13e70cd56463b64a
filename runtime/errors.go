package runtime

import (
	"errors"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/types"
)

var (
	// ErrMalformedTx is returned for transaction bytes that do not
	// decode.
	ErrMalformedTx = errors.New("malformed transaction")
	// ErrUnknownProgram is returned when an instruction targets a
	// program id the runtime has no program for.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrMissingAccount is returned when a program touches an account
	// that was not passed to its instruction.
	ErrMissingAccount = errors.New("account not passed to instruction")
	// ErrNotEnoughAccounts is returned when an instruction carries
	// fewer accounts than the program requires.
	ErrNotEnoughAccounts = errors.New("not enough account keys")
	// ErrMissingSigner is returned when a program requires a signature
	// the instruction does not carry.
	ErrMissingSigner = errors.New("missing required signature for instruction")
	// ErrReadonlyAccount is returned when writing an account the
	// instruction passed read-only.
	ErrReadonlyAccount = errors.New("instruction modified a read-only account")
	// ErrIllegalOwner is returned when a program writes an account it
	// does not own.
	ErrIllegalOwner = errors.New("program does not own the account")
	// ErrPrivilegeEscalation is returned when a cross-program call
	// raises the signer or writable flag of an account.
	ErrPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")
	// ErrInvalidSeeds is returned when signer seeds do not derive a
	// program address.
	ErrInvalidSeeds = errors.New("could not create program address with signer seeds")
	// ErrCallDepth is returned when nested invocations exceed the limit.
	ErrCallDepth = errors.New("cross-program invocation call depth too deep")
	// ErrInvalidInstructionData is returned for undecodable instruction
	// payloads.
	ErrInvalidInstructionData = errors.New("invalid instruction data")
	// ErrAccountDataSize is returned when a write changes the size of
	// an account's data.
	ErrAccountDataSize = errors.New("account data size changed")
	// ErrAlreadyProcessed is returned for a transaction whose message
	// was already applied.
	ErrAlreadyProcessed = errors.New("transaction already processed")
)

// Transaction result codes for runtime-level failures. Programs report
// their own codes through Coder.
const (
	CodeOK uint32 = iota
	CodeDecode
	CodeSignature
	CodeUnknownProgram
	CodeAccount
	CodePrivilege
	CodeInsufficientFunds
	CodeInstruction
	CodeCallDepth
	CodeDuplicate
	CodeInternal = 99
)

// Coder is implemented by errors that carry their own result code.
type Coder interface {
	ErrorCode() uint32
}

// CodeOf maps an execution error to a transaction result code.
func CodeOf(err error) uint32 {
	if err == nil {
		return CodeOK
	}
	var c Coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	switch {
	case errors.Is(err, types.ErrBadSignature),
		errors.Is(err, types.ErrMissingSignature),
		errors.Is(err, ErrMissingSigner):
		return CodeSignature
	case errors.Is(err, types.ErrEmptyTransaction),
		errors.Is(err, ErrMalformedTx):
		return CodeDecode
	case errors.Is(err, ErrUnknownProgram):
		return CodeUnknownProgram
	case errors.Is(err, ErrPrivilegeEscalation),
		errors.Is(err, ErrInvalidSeeds):
		return CodePrivilege
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ErrCallDepth):
		return CodeCallDepth
	case errors.Is(err, ErrAlreadyProcessed):
		return CodeDuplicate
	case errors.Is(err, ErrMissingAccount),
		errors.Is(err, ErrNotEnoughAccounts),
		errors.Is(err, ErrReadonlyAccount),
		errors.Is(err, ErrIllegalOwner),
		errors.Is(err, ErrAccountDataSize),
		errors.Is(err, ledger.ErrAccountInUse),
		errors.Is(err, ledger.ErrAccountNotFound):
		return CodeAccount
	case errors.Is(err, ErrInvalidInstructionData):
		return CodeInstruction
	default:
		return CodeInternal
	}
}
