package runtime

import (
	"bytes"
	"context"
	"fmt"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/pda"
	"github.com/blockberries/valgov/types"
)

// InvokeContext is what a program sees while processing one
// instruction: the accounts passed in with their privileges, the
// transaction's state overlay, and the means to call other programs.
type InvokeContext struct {
	ctx       context.Context
	rt        *Runtime
	state     *ledger.Overlay
	tx        *txState
	programID types.Pubkey
	accounts  []types.AccountMeta
	depth     int
}

// Context returns the context of the enclosing block execution.
func (c *InvokeContext) Context() context.Context { return c.ctx }

// ProgramID returns the id of the executing program.
func (c *InvokeContext) ProgramID() types.Pubkey { return c.programID }

// Depth returns the invocation depth, 1 for top-level instructions.
func (c *InvokeContext) Depth() int { return c.depth }

// Rent returns the rent parameters.
func (c *InvokeContext) Rent() ledger.Rent { return c.rt.rent }

// Accounts returns the instruction's accounts in order.
func (c *InvokeContext) Accounts() []types.AccountMeta { return c.accounts }

// Meta returns the i-th account.
func (c *InvokeContext) Meta(i int) (types.AccountMeta, error) {
	if i < 0 || i >= len(c.accounts) {
		return types.AccountMeta{}, fmt.Errorf("%w: need index %d, have %d", ErrNotEnoughAccounts, i, len(c.accounts))
	}
	return c.accounts[i], nil
}

// privileges folds every occurrence of pk in the instruction.
func (c *InvokeContext) privileges(pk types.Pubkey) (types.AccountMeta, bool) {
	out := types.AccountMeta{Pubkey: pk}
	found := false
	for _, m := range c.accounts {
		if m.Pubkey != pk {
			continue
		}
		found = true
		out.IsSigner = out.IsSigner || m.IsSigner
		out.IsWritable = out.IsWritable || m.IsWritable
	}
	return out, found
}

// IsSigner reports whether pk signed this instruction, either with a
// transaction signature or as a program-derived address of the caller.
func (c *InvokeContext) IsSigner(pk types.Pubkey) bool {
	m, _ := c.privileges(pk)
	return m.IsSigner
}

// IsWritable reports whether pk was passed writable.
func (c *InvokeContext) IsWritable(pk types.Pubkey) bool {
	m, _ := c.privileges(pk)
	return m.IsWritable
}

// Account reads an account passed to the instruction.
func (c *InvokeContext) Account(pk types.Pubkey) (ledger.Account, bool, error) {
	if _, ok := c.privileges(pk); !ok {
		return ledger.Account{}, false, fmt.Errorf("%w: %s", ErrMissingAccount, pk)
	}
	return c.state.Account(pk)
}

func (c *InvokeContext) writableOwned(pk types.Pubkey) (ledger.Account, error) {
	m, ok := c.privileges(pk)
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: %s", ErrMissingAccount, pk)
	}
	if !m.IsWritable {
		return ledger.Account{}, fmt.Errorf("%w: %s", ErrReadonlyAccount, pk)
	}
	a, exists, err := c.state.Account(pk)
	if err != nil {
		return ledger.Account{}, err
	}
	if !exists {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, pk)
	}
	if a.Owner != c.programID {
		return ledger.Account{}, fmt.Errorf("%w: %s is owned by %s", ErrIllegalOwner, pk, a.Owner)
	}
	return a, nil
}

// SetData overwrites the data of an account the program owns. The
// length must match the allocated size.
func (c *InvokeContext) SetData(pk types.Pubkey, data []byte) error {
	a, err := c.writableOwned(pk)
	if err != nil {
		return err
	}
	if len(data) != len(a.Data) {
		return fmt.Errorf("%w: %s has %d bytes, got %d", ErrAccountDataSize, pk, len(a.Data), len(data))
	}
	a.Data = bytes.Clone(data)
	c.state.Set(pk, a)
	return nil
}

// CreateAccount allocates a rent-exempt account of space bytes at addr
// owned by owner, paid for by payer. It calls the system program, so
// the system program must be among the instruction's accounts, payer
// must have signed and addr must either have signed or be derived from
// one of signerSeeds under this program's id.
//
// Lamports sent to addr beforehand do not block creation: a
// system-owned account with no data is topped up to the rent-exempt
// minimum from payer and then allocated in place.
func (c *InvokeContext) CreateAccount(payer, addr types.Pubkey, space int, owner types.Pubkey, signerSeeds ...[][]byte) error {
	lamports := c.rt.rent.MinimumBalance(space)
	a, exists, err := c.state.Account(addr)
	if err != nil {
		return err
	}
	if !exists {
		ix := CreateAccountInstruction(payer, addr, lamports, uint64(space), owner)
		return c.InvokeSigned(ix, signerSeeds...)
	}
	if a.Owner != SystemProgramID || len(a.Data) > 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountInUse, addr)
	}
	if a.Lamports < lamports {
		if err := c.InvokeSigned(TransferInstruction(payer, addr, lamports-a.Lamports), signerSeeds...); err != nil {
			return err
		}
	}
	return c.InvokeSigned(AllocateInstruction(addr, uint64(space), owner), signerSeeds...)
}

// CloseAccount removes an account the program owns and credits its
// lamports to refundTo. It returns the refunded amount.
func (c *InvokeContext) CloseAccount(addr, refundTo types.Pubkey) (uint64, error) {
	if _, err := c.writableOwned(addr); err != nil {
		return 0, err
	}
	m, ok := c.privileges(refundTo)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingAccount, refundTo)
	}
	if !m.IsWritable {
		return 0, fmt.Errorf("%w: %s", ErrReadonlyAccount, refundTo)
	}
	return c.state.Close(addr, refundTo)
}

// Log appends a program log line to the transaction's logs.
func (c *InvokeContext) Log(format string, args ...any) {
	c.log("Program log: " + fmt.Sprintf(format, args...))
}

func (c *InvokeContext) log(line string) {
	c.tx.logs = append(c.tx.logs, line)
	c.rt.logger.Debug(line, "component", "runtime", "program", c.programID.String())
}

// Emit records an event. Events of failed transactions are dropped.
func (c *InvokeContext) Emit(ev types.Event) {
	c.tx.events = append(c.tx.events, ev)
}

// SetReturnData sets the data reported in the transaction outcome.
func (c *InvokeContext) SetReturnData(data []byte) {
	c.tx.returnData = bytes.Clone(data)
}

// Invoke calls another program with no additional signers.
func (c *InvokeContext) Invoke(ix types.Instruction) error {
	return c.InvokeSigned(ix)
}

// InvokeSigned calls another program. Each entry of signerSeeds is a
// full seed list, bump included; the runtime derives the address under
// the calling program's id and lets it act as a signer in the callee.
//
// The callee's accounts may not gain privileges: every account must be
// available to the caller, writable only if the caller has it writable,
// and a signer only if it signed the caller's instruction or is one of
// the derived addresses.
func (c *InvokeContext) InvokeSigned(ix types.Instruction, signerSeeds ...[][]byte) error {
	if c.depth+1 > c.rt.maxDepth {
		return fmt.Errorf("%w: %d", ErrCallDepth, c.depth+1)
	}

	derived := make(map[types.Pubkey]struct{}, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := pda.CreateProgramAddress(seeds, c.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		derived[addr] = struct{}{}
	}

	if _, ok := c.privileges(ix.ProgramID); !ok {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, ix.ProgramID)
	}
	for _, m := range ix.Accounts {
		have, ok := c.privileges(m.Pubkey)
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, m.Pubkey)
		}
		if m.IsWritable && !have.IsWritable {
			return fmt.Errorf("%w: %s writable", ErrPrivilegeEscalation, m.Pubkey)
		}
		if m.IsSigner && !have.IsSigner {
			if _, ok := derived[m.Pubkey]; !ok {
				return fmt.Errorf("%w: %s signer", ErrPrivilegeEscalation, m.Pubkey)
			}
		}
	}

	callee := &InvokeContext{
		ctx:       c.ctx,
		rt:        c.rt,
		state:     c.state,
		tx:        c.tx,
		programID: ix.ProgramID,
		accounts:  ix.Accounts,
		depth:     c.depth + 1,
	}
	return callee.dispatch(ix)
}

func (c *InvokeContext) dispatch(ix types.Instruction) error {
	p, ok := c.rt.Program(ix.ProgramID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, ix.ProgramID)
	}
	c.log(fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, c.depth))
	if err := p.Process(c, ix); err != nil {
		c.log(fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	c.log(fmt.Sprintf("Program %s success", ix.ProgramID))
	return nil
}
