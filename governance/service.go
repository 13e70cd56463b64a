package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockberries/valgov/types"
)

// Result codes reported by governance services. They share the
// transaction result code space, so they stay clear of the runtime's
// low codes and the delegation program's 6000 range.
const (
	CodeUnavailable       uint32 = 500
	CodeInvalidVote       uint32 = 501
	CodeInvalidAuthority  uint32 = 502
	CodeProposalNotVoting uint32 = 503
	CodeVoteAlreadyCast   uint32 = 504
)

// IsErrorCode reports whether code lies in the governance code range.
func IsErrorCode(code uint32) bool {
	return code >= 500 && code < 600
}

// Error is a failure reported by the governance program. Its code and
// message reach the transaction outcome unchanged.
type Error struct {
	Code uint32 `cramberry:"1"`
	Msg  string `cramberry:"2"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("governance error %d: %s", e.Code, e.Msg)
}

// ErrorCode implements runtime.Coder.
func (e *Error) ErrorCode() uint32 { return e.Code }

// Errorf returns an *Error with the given code.
func Errorf(code uint32, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// AsError converts any error into an *Error. Errors that are not
// already governance errors are reported as CodeUnavailable.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Code: CodeUnavailable, Msg: err.Error()}
}

// CastVoteRequest is one cast-vote call as the governance program
// receives it. Accounts carry the privileges the runtime verified.
type CastVoteRequest struct {
	RequestID string              `cramberry:"1"`
	ProgramID types.Pubkey        `cramberry:"2"`
	Accounts  []types.AccountMeta `cramberry:"3"`
	Vote      []byte              `cramberry:"4"`
	// DryRun marks calls made while simulating a transaction. The
	// service validates the vote but must not record it.
	DryRun bool `cramberry:"5"`
}

// VotingAuthority returns the account the vote is cast on behalf of.
func (r *CastVoteRequest) VotingAuthority() types.Pubkey {
	return r.account(4)
}

// Payer returns the account funding the vote record.
func (r *CastVoteRequest) Payer() types.Pubkey {
	return r.account(6)
}

// Proposal returns the proposal voted on.
func (r *CastVoteRequest) Proposal() types.Pubkey {
	return r.account(1)
}

func (r *CastVoteRequest) account(i int) types.Pubkey {
	if i >= len(r.Accounts) {
		return types.Pubkey{}
	}
	return r.Accounts[i].Pubkey
}

type dryRunKey struct{}

// WithDryRun marks ctx as a simulation.
func WithDryRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, dryRunKey{}, true)
}

// IsDryRun reports whether ctx was marked by WithDryRun.
func IsDryRun(ctx context.Context) bool {
	v, _ := ctx.Value(dryRunKey{}).(bool)
	return v
}

// Service records votes. Implementations are the governance program's
// logic; a nil error means the vote was recorded.
type Service interface {
	CastVote(ctx context.Context, req *CastVoteRequest) error
}
