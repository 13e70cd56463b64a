package ledger

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/blockberries/valgov/types"
)

// Reader reads accounts and the set of executed messages.
type Reader interface {
	// Account returns the account at pk and whether it exists.
	Account(pk types.Pubkey) (Account, bool, error)
	// Processed reports whether a transaction with this message hash
	// has already been applied.
	Processed(id types.Hash) (bool, error)
}

// Change is a single account write recorded by an overlay. A nil
// Account removes the entry.
type Change struct {
	Pubkey  types.Pubkey
	Account *Account
}

// Overlay buffers account writes over a parent reader. Transactions run
// in an overlay stacked on the block overlay; a failed transaction
// drops its overlay and leaves the block untouched.
//
// An Overlay is not safe for concurrent use.
type Overlay struct {
	parent    Reader
	dirty     map[types.Pubkey]*Account
	processed map[types.Hash]struct{}
}

// NewOverlay returns an empty overlay on top of parent.
func NewOverlay(parent Reader) *Overlay {
	return &Overlay{
		parent:    parent,
		dirty:     make(map[types.Pubkey]*Account),
		processed: make(map[types.Hash]struct{}),
	}
}

// Child returns a new overlay reading through o.
func (o *Overlay) Child() *Overlay {
	return NewOverlay(o)
}

// Account implements Reader. The returned account is a copy.
func (o *Overlay) Account(pk types.Pubkey) (Account, bool, error) {
	if a, ok := o.dirty[pk]; ok {
		if a == nil || !a.Exists() {
			return Account{}, false, nil
		}
		return a.Clone(), true, nil
	}
	if o.parent == nil {
		return Account{}, false, nil
	}
	return o.parent.Account(pk)
}

// Processed implements Reader.
func (o *Overlay) Processed(id types.Hash) (bool, error) {
	if _, ok := o.processed[id]; ok {
		return true, nil
	}
	if o.parent == nil {
		return false, nil
	}
	return o.parent.Processed(id)
}

// MarkProcessed records id as applied.
func (o *Overlay) MarkProcessed(id types.Hash) {
	o.processed[id] = struct{}{}
}

// ProcessedIDs returns the message hashes marked in o, sorted.
func (o *Overlay) ProcessedIDs() []types.Hash {
	out := make([]types.Hash, 0, len(o.processed))
	for id := range o.processed {
		out = append(out, id)
	}
	slices.SortFunc(out, func(a, b types.Hash) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}

// Set stores a copy of a at pk.
func (o *Overlay) Set(pk types.Pubkey, a Account) {
	c := a.Clone()
	o.dirty[pk] = &c
}

// Delete removes pk.
func (o *Overlay) Delete(pk types.Pubkey) {
	o.dirty[pk] = nil
}

// Changes returns the buffered writes sorted by address. Accounts left
// empty are reported as removals.
func (o *Overlay) Changes() []Change {
	out := make([]Change, 0, len(o.dirty))
	for pk, a := range o.dirty {
		c := Change{Pubkey: pk}
		if a != nil && a.Exists() {
			acct := a.Clone()
			c.Account = &acct
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Change) int {
		return bytes.Compare(a.Pubkey[:], b.Pubkey[:])
	})
	return out
}

// Merge applies a child's writes to o.
func (o *Overlay) Merge(child *Overlay) {
	for pk, a := range child.dirty {
		if a == nil {
			o.dirty[pk] = nil
			continue
		}
		c := a.Clone()
		o.dirty[pk] = &c
	}
	for id := range child.processed {
		o.processed[id] = struct{}{}
	}
}

// Len returns the number of touched addresses.
func (o *Overlay) Len() int { return len(o.dirty) }

// Credit adds lamports to pk, creating a system-owned account if none
// exists.
func (o *Overlay) Credit(pk types.Pubkey, lamports uint64) error {
	a, ok, err := o.Account(pk)
	if err != nil {
		return err
	}
	if !ok {
		a = Account{Owner: SystemProgramID}
	}
	if a.Lamports > math.MaxUint64-lamports {
		return fmt.Errorf("credit %s: lamport overflow", pk)
	}
	a.Lamports += lamports
	o.Set(pk, a)
	return nil
}

// Debit removes lamports from pk.
func (o *Overlay) Debit(pk types.Pubkey, lamports uint64) error {
	a, ok, err := o.Account(pk)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, pk)
	}
	if a.Lamports < lamports {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, pk, a.Lamports, lamports)
	}
	a.Lamports -= lamports
	o.Set(pk, a)
	return nil
}

// Transfer moves lamports between two accounts.
func (o *Overlay) Transfer(from, to types.Pubkey, lamports uint64) error {
	if err := o.Debit(from, lamports); err != nil {
		return err
	}
	return o.Credit(to, lamports)
}

// Allocate creates a zeroed account of space bytes at addr owned by
// owner, funded with lamports taken from payer. The address must be
// unused.
func (o *Overlay) Allocate(payer, addr types.Pubkey, lamports uint64, space int, owner types.Pubkey) error {
	_, exists, err := o.Account(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	if err := o.Debit(payer, lamports); err != nil {
		return err
	}
	o.Set(addr, Account{
		Lamports: lamports,
		Owner:    owner,
		Data:     make([]byte, space),
	})
	return nil
}

// Assign gives an existing system-owned account with no data space
// zeroed bytes and hands it to owner. Its lamports are left as they
// are.
func (o *Overlay) Assign(addr types.Pubkey, space int, owner types.Pubkey) error {
	a, ok, err := o.Account(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	if a.Owner != SystemProgramID || len(a.Data) > 0 {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	a.Owner = owner
	a.Data = make([]byte, space)
	o.Set(addr, a)
	return nil
}

// Close removes addr and credits its lamports to refundTo. It returns
// the refunded amount.
func (o *Overlay) Close(addr, refundTo types.Pubkey) (uint64, error) {
	a, ok, err := o.Account(addr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	o.Delete(addr)
	if err := o.Credit(refundTo, a.Lamports); err != nil {
		return 0, err
	}
	return a.Lamports, nil
}
