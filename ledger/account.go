// Package ledger holds account state: the account model, rent, the
// transactional overlays transactions execute in, and the committed
// state persisted through a store backend.
package ledger

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/valgov/types"
)

var (
	// ErrAccountInUse is returned when allocating an address that
	// already holds an account.
	ErrAccountInUse = errors.New("account already in use")
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrStorage wraps failures of the backing store. They are not
	// transaction failures and must halt block execution.
	ErrStorage = errors.New("ledger storage failure")
)

// SystemProgramID owns every plain wallet account.
var SystemProgramID = types.Pubkey{}

// Account is a ledger entry.
type Account struct {
	Lamports   uint64       `cramberry:"1"`
	Owner      types.Pubkey `cramberry:"2"`
	Data       []byte       `cramberry:"3"`
	Executable bool         `cramberry:"4"`
}

// Exists reports whether the account holds anything. Accounts with no
// lamports and no data are removed at commit.
func (a Account) Exists() bool {
	return a.Lamports > 0 || len(a.Data) > 0
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	out := a
	if a.Data != nil {
		out.Data = bytes.Clone(a.Data)
	}
	return out
}

// Encode returns the canonical encoding used for storage and hashing.
func (a Account) Encode() ([]byte, error) {
	data, err := cramberry.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode account: %w", err)
	}
	return data, nil
}

// DecodeAccount is the inverse of Account.Encode.
func DecodeAccount(data []byte) (Account, error) {
	var a Account
	if err := cramberry.Unmarshal(data, &a); err != nil {
		return Account{}, fmt.Errorf("decode account: %w", err)
	}
	return a, nil
}
