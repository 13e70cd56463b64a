package runtime

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/pda"
	"github.com/blockberries/valgov/types"
)

func keypair(t *testing.T, n byte) types.Keypair {
	t.Helper()
	kp, err := types.KeypairFromSeed(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		t.Fatalf("KeypairFromSeed: %v", err)
	}
	return kp
}

// nonces keeps messages built by signedTx distinct.
var nonces atomic.Uint64

func signedTx(t *testing.T, payer types.Keypair, ixs []types.Instruction, extra ...types.Keypair) types.Tx {
	t.Helper()
	tx := types.Transaction{Message: types.Message{Payer: payer.Pubkey, Nonce: nonces.Add(1), Instructions: ixs}}
	if err := tx.Sign(append([]types.Keypair{payer}, extra...)...); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := tx.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return raw
}

// funcProgram adapts a function to Program.
type funcProgram struct {
	id types.Pubkey
	fn func(*InvokeContext, types.Instruction) error
}

func (p funcProgram) ID() types.Pubkey { return p.id }

func (p funcProgram) Process(ictx *InvokeContext, ix types.Instruction) error {
	return p.fn(ictx, ix)
}

var seedTag = []byte("vault")

func TestExecute_SystemTransfer(t *testing.T) {
	rt := New()
	alice := keypair(t, 1)
	bob := keypair(t, 2)

	block := ledger.NewOverlay(nil)
	if err := block.Credit(alice.Pubkey, 1000); err != nil {
		t.Fatal(err)
	}

	raw := signedTx(t, alice, []types.Instruction{
		TransferInstruction(alice.Pubkey, bob.Pubkey, 300),
		{ProgramID: SystemProgramID, Accounts: []types.AccountMeta{types.ReadOnly(SystemProgramID)}, Data: nil},
	})
	out, err := rt.ExecuteTransaction(context.Background(), block, raw)
	if err != nil {
		t.Fatal(err)
	}
	// Second instruction is malformed: the whole transaction aborts.
	if out.OK() {
		t.Fatal("expected failure")
	}
	if a, _, _ := block.Account(bob.Pubkey); a.Lamports != 0 {
		t.Fatalf("failed tx leaked a transfer: %d", a.Lamports)
	}

	raw = signedTx(t, alice, []types.Instruction{TransferInstruction(alice.Pubkey, bob.Pubkey, 300)})
	out, err = rt.ExecuteTransaction(context.Background(), block, raw)
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK() {
		t.Fatalf("transfer failed: %d %s", out.Code, out.Info)
	}
	a, _, _ := block.Account(alice.Pubkey)
	b, _, _ := block.Account(bob.Pubkey)
	if a.Lamports != 700 || b.Lamports != 300 {
		t.Fatalf("balances: alice=%d bob=%d", a.Lamports, b.Lamports)
	}
	if len(out.Logs) == 0 {
		t.Fatal("expected invoke logs")
	}
}

func TestExecute_ReplayRejected(t *testing.T) {
	rt := New()
	alice := keypair(t, 1)
	bob := keypair(t, 2)
	block := ledger.NewOverlay(nil)
	if err := block.Credit(alice.Pubkey, 1000); err != nil {
		t.Fatal(err)
	}
	balances := func() (uint64, uint64) {
		a, _, _ := block.Account(alice.Pubkey)
		b, _, _ := block.Account(bob.Pubkey)
		return a.Lamports, b.Lamports
	}

	// Too large at first: a failed message may be submitted again.
	tooMuch := signedTx(t, alice, []types.Instruction{TransferInstruction(alice.Pubkey, bob.Pubkey, 1500)})
	out, _ := rt.ExecuteTransaction(context.Background(), block, tooMuch)
	if out.Code != CodeInsufficientFunds {
		t.Fatalf("expected CodeInsufficientFunds, got %d (%s)", out.Code, out.Info)
	}
	if _, err := rt.Validate(block, tooMuch); err != nil {
		t.Fatalf("failed message must stay valid: %v", err)
	}

	raw := signedTx(t, alice, []types.Instruction{TransferInstruction(alice.Pubkey, bob.Pubkey, 300)})
	out, err := rt.ExecuteTransaction(context.Background(), block, raw)
	if err != nil || !out.OK() {
		t.Fatalf("transfer: err=%v code=%d %s", err, out.Code, out.Info)
	}

	for i := 0; i < 2; i++ {
		out, err = rt.ExecuteTransaction(context.Background(), block, raw)
		if err != nil {
			t.Fatal(err)
		}
		if out.Code != CodeDuplicate {
			t.Fatalf("replay %d: expected CodeDuplicate, got %d (%s)", i, out.Code, out.Info)
		}
	}
	if a, b := balances(); a != 700 || b != 300 {
		t.Fatalf("replay moved funds: alice=%d bob=%d", a, b)
	}
	if _, err := rt.Validate(block, raw); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("Validate: expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestExecute_DecodeAndSignatureFailures(t *testing.T) {
	rt := New()
	block := ledger.NewOverlay(nil)

	out, err := rt.ExecuteTransaction(context.Background(), block, types.Tx{0xff, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != CodeDecode {
		t.Fatalf("expected CodeDecode, got %d", out.Code)
	}

	alice := keypair(t, 1)
	bob := keypair(t, 2)
	tx := types.Transaction{Message: types.Message{
		Payer:        alice.Pubkey,
		Instructions: []types.Instruction{TransferInstruction(bob.Pubkey, alice.Pubkey, 1)},
	}}
	if err := tx.Sign(alice); err != nil {
		t.Fatal(err)
	}
	raw, _ := tx.Encode()
	out, _ = rt.ExecuteTransaction(context.Background(), block, raw)
	if out.Code != CodeSignature {
		t.Fatalf("expected CodeSignature, got %d (%s)", out.Code, out.Info)
	}
}

func TestExecute_UnknownProgram(t *testing.T) {
	rt := New()
	alice := keypair(t, 1)
	raw := signedTx(t, alice, []types.Instruction{{ProgramID: keypair(t, 42).Pubkey}})
	out, err := rt.ExecuteTransaction(context.Background(), ledger.NewOverlay(nil), raw)
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != CodeUnknownProgram {
		t.Fatalf("expected CodeUnknownProgram, got %d", out.Code)
	}
	if _, err := rt.Validate(ledger.NewOverlay(nil), raw); !errors.Is(err, ErrUnknownProgram) {
		t.Fatalf("Validate: expected ErrUnknownProgram, got %v", err)
	}
}

// setupVault registers a program that creates an account at its PDA
// and then asks a callee to act with the PDA as signer.
func setupVault(t *testing.T, rt *Runtime, seeds func(types.Pubkey, uint8) [][]byte) (vault, callee types.Pubkey, calls *int) {
	t.Helper()
	vault = keypair(t, 10).Pubkey
	callee = keypair(t, 11).Pubkey
	calls = new(int)

	err := rt.Register(funcProgram{id: callee, fn: func(ictx *InvokeContext, ix types.Instruction) error {
		m, err := ictx.Meta(0)
		if err != nil {
			return err
		}
		if !ictx.IsSigner(m.Pubkey) {
			return ErrMissingSigner
		}
		*calls++
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	err = rt.Register(funcProgram{id: vault, fn: func(ictx *InvokeContext, ix types.Instruction) error {
		payer := ictx.Accounts()[0].Pubkey
		addr, bump, err := pda.FindProgramAddress([][]byte{seedTag, payer[:]}, ictx.ProgramID())
		if err != nil {
			return err
		}
		signer := seeds(payer, bump)
		if err := ictx.CreateAccount(payer, addr, 4, ictx.ProgramID(), signer); err != nil {
			return err
		}
		if err := ictx.SetData(addr, []byte{1, 2, 3, 4}); err != nil {
			return err
		}
		ictx.Emit(types.Event{Kind: "vault_created"})
		return ictx.InvokeSigned(types.Instruction{
			ProgramID: callee,
			Accounts:  []types.AccountMeta{types.Signer(addr, false)},
		}, signer)
	}})
	if err != nil {
		t.Fatal(err)
	}
	return vault, callee, calls
}

func vaultIx(payer, vault, callee types.Pubkey) types.Instruction {
	addr, _, _ := pda.FindProgramAddress([][]byte{seedTag, payer[:]}, vault)
	return types.Instruction{
		ProgramID: vault,
		Accounts: []types.AccountMeta{
			types.Signer(payer, true),
			types.Writable(addr),
			types.ReadOnly(SystemProgramID),
			types.ReadOnly(callee),
		},
	}
}

func TestInvokeSigned_ProgramDerivedSigner(t *testing.T) {
	rt := New()
	vault, callee, calls := setupVault(t, rt, func(payer types.Pubkey, bump uint8) [][]byte {
		return [][]byte{seedTag, payer[:], {bump}}
	})
	alice := keypair(t, 1)
	block := ledger.NewOverlay(nil)
	if err := block.Credit(alice.Pubkey, 10_000_000); err != nil {
		t.Fatal(err)
	}

	out, err := rt.ExecuteTransaction(context.Background(), block, signedTx(t, alice, []types.Instruction{vaultIx(alice.Pubkey, vault, callee)}))
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK() {
		t.Fatalf("vault tx failed: %d %s", out.Code, out.Info)
	}
	if *calls != 1 {
		t.Fatalf("callee calls: %d", *calls)
	}
	if len(out.Events) != 1 || out.Events[0].Kind != "vault_created" {
		t.Fatalf("unexpected events: %+v", out.Events)
	}

	addr, _, _ := pda.FindProgramAddress([][]byte{seedTag, alice.Pubkey[:]}, vault)
	acct, ok, _ := block.Account(addr)
	if !ok || acct.Owner != vault || !bytes.Equal(acct.Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("vault account: %+v", acct)
	}
	if acct.Lamports != ledger.DefaultRent.MinimumBalance(4) {
		t.Fatalf("vault lamports: %d", acct.Lamports)
	}

	// A second run collides with the existing account.
	out, _ = rt.ExecuteTransaction(context.Background(), block, signedTx(t, alice, []types.Instruction{vaultIx(alice.Pubkey, vault, callee)}))
	if out.Code != CodeAccount {
		t.Fatalf("expected CodeAccount on collision, got %d (%s)", out.Code, out.Info)
	}
}

func TestInvokeSigned_WrongSeedsCannotSign(t *testing.T) {
	rt := New()
	vault, callee, calls := setupVault(t, rt, func(payer types.Pubkey, bump uint8) [][]byte {
		// Seeds for a different address.
		return [][]byte{[]byte("other"), payer[:]}
	})
	alice := keypair(t, 1)
	block := ledger.NewOverlay(nil)
	if err := block.Credit(alice.Pubkey, 10_000_000); err != nil {
		t.Fatal(err)
	}
	out, err := rt.ExecuteTransaction(context.Background(), block, signedTx(t, alice, []types.Instruction{vaultIx(alice.Pubkey, vault, callee)}))
	if err != nil {
		t.Fatal(err)
	}
	if out.Code != CodePrivilege {
		t.Fatalf("expected CodePrivilege, got %d (%s)", out.Code, out.Info)
	}
	if *calls != 0 {
		t.Fatal("callee must not run")
	}
	a, _, _ := block.Account(alice.Pubkey)
	if a.Lamports != 10_000_000 {
		t.Fatalf("failed tx charged the payer: %d", a.Lamports)
	}
}

func TestInvokeSigned_NoWritableEscalation(t *testing.T) {
	rt := New()
	alice := keypair(t, 1)
	bob := keypair(t, 2)
	caller := keypair(t, 20).Pubkey
	err := rt.Register(funcProgram{id: caller, fn: func(ictx *InvokeContext, ix types.Instruction) error {
		// bob was passed read-only; the callee may not receive it writable.
		return ictx.Invoke(TransferInstruction(alice.Pubkey, bob.Pubkey, 1))
	}})
	if err != nil {
		t.Fatal(err)
	}
	block := ledger.NewOverlay(nil)
	if err := block.Credit(alice.Pubkey, 100); err != nil {
		t.Fatal(err)
	}
	raw := signedTx(t, alice, []types.Instruction{{
		ProgramID: caller,
		Accounts: []types.AccountMeta{
			types.Signer(alice.Pubkey, true),
			types.ReadOnly(bob.Pubkey),
			types.ReadOnly(SystemProgramID),
		},
	}})
	out, _ := rt.ExecuteTransaction(context.Background(), block, raw)
	if out.Code != CodePrivilege {
		t.Fatalf("expected CodePrivilege, got %d (%s)", out.Code, out.Info)
	}
}

func TestInvoke_CallDepth(t *testing.T) {
	rt := New(WithMaxInvokeDepth(2))
	self := keypair(t, 30).Pubkey
	err := rt.Register(funcProgram{id: self, fn: func(ictx *InvokeContext, ix types.Instruction) error {
		return ictx.Invoke(ix)
	}})
	if err != nil {
		t.Fatal(err)
	}
	alice := keypair(t, 1)
	raw := signedTx(t, alice, []types.Instruction{{
		ProgramID: self,
		Accounts:  []types.AccountMeta{types.ReadOnly(self)},
	}})
	out, _ := rt.ExecuteTransaction(context.Background(), ledger.NewOverlay(nil), raw)
	if out.Code != CodeCallDepth {
		t.Fatalf("expected CodeCallDepth, got %d (%s)", out.Code, out.Info)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	rt := New()
	if err := rt.Register(funcProgram{id: SystemProgramID}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
