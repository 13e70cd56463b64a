package program

import (
	"errors"
	"fmt"

	"github.com/blockberries/valgov/governance"
)

// Error kinds. Compare with errors.Is.
var (
	// ErrAlreadyDelegated is returned when the validator already has a
	// delegation record.
	ErrAlreadyDelegated = errors.New("AlreadyDelegated")
	// ErrRecordNotFound is returned when the delegation account holds no
	// record of this program.
	ErrRecordNotFound = errors.New("RecordNotFound")
	// ErrUnauthorized is returned when a required signer did not sign or
	// is not the record's owner.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrAddressMismatch is returned when the delegation account is not
	// the validator's derived address.
	ErrAddressMismatch = errors.New("AddressMismatch")
	// ErrKeyMismatch is returned when a supplied key differs from the
	// one stored in the record.
	ErrKeyMismatch = errors.New("KeyMismatch")
	// ErrExternalService is returned when the governance program
	// rejected a forwarded vote.
	ErrExternalService = errors.New("ExternalServiceError")
)

// Custom error numbers, starting where the runtime reserves program
// errors.
const (
	CodeAlreadyDelegated uint32 = 6000 + iota
	CodeRecordNotFound
	CodeUnauthorized
	CodeAddressMismatch
	CodeKeyMismatch
	CodeExternalService
)

var kindCodes = map[error]uint32{
	ErrAlreadyDelegated: CodeAlreadyDelegated,
	ErrRecordNotFound:   CodeRecordNotFound,
	ErrUnauthorized:     CodeUnauthorized,
	ErrAddressMismatch:  CodeAddressMismatch,
	ErrKeyMismatch:      CodeKeyMismatch,
	ErrExternalService:  CodeExternalService,
}

// Error is an instruction failure of the delegation program.
type Error struct {
	Code uint32
	Kind error
	Msg  string
	// Err is the underlying failure, if any.
	Err error
}

func newError(kind error, format string, args ...any) *Error {
	return &Error{Code: kindCodes[kind], Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// externalError wraps a governance failure keeping the callee's code
// and message.
func externalError(ge *governance.Error) *Error {
	code := ge.Code
	if code == 0 {
		code = CodeExternalService
	}
	return &Error{Code: code, Kind: ErrExternalService, Msg: ge.Msg, Err: ge}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Msg)
}

// ErrorCode implements runtime.Coder.
func (e *Error) ErrorCode() uint32 { return e.Code }

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
