package ledger

import (
	"errors"
	"testing"

	"github.com/blockberries/valgov/store"
	"github.com/blockberries/valgov/types"
)

func pk(b byte) types.Pubkey {
	var p types.Pubkey
	p[0] = b
	p[31] = b
	return p
}

func TestRent_MinimumBalance(t *testing.T) {
	if got := DefaultRent.MinimumBalance(73); got != 1_398_960 {
		t.Fatalf("MinimumBalance(73): got %d, want 1398960", got)
	}
	if got := DefaultRent.MinimumBalance(0); got != 890_880 {
		t.Fatalf("MinimumBalance(0): got %d, want 890880", got)
	}
}

func TestOverlay_ChildDiscard(t *testing.T) {
	block := NewOverlay(nil)
	if err := block.Credit(pk(1), 100); err != nil {
		t.Fatal(err)
	}

	tx := block.Child()
	if err := tx.Transfer(pk(1), pk(2), 40); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	a, _, _ := tx.Account(pk(1))
	if a.Lamports != 60 {
		t.Fatalf("child view: got %d", a.Lamports)
	}

	// Dropping the child leaves the block untouched.
	a, _, _ = block.Account(pk(1))
	if a.Lamports != 100 {
		t.Fatalf("parent after discard: got %d", a.Lamports)
	}
	if _, ok, _ := block.Account(pk(2)); ok {
		t.Fatal("recipient must not exist in parent")
	}

	block.Merge(tx)
	a, _, _ = block.Account(pk(2))
	if a.Lamports != 40 {
		t.Fatalf("parent after merge: got %d", a.Lamports)
	}
}

func TestOverlay_AllocateClose(t *testing.T) {
	o := NewOverlay(nil)
	payer, addr, owner := pk(1), pk(2), pk(3)
	if err := o.Credit(payer, 2_000_000); err != nil {
		t.Fatal(err)
	}

	if err := o.Allocate(payer, addr, 1_398_960, 73, owner); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a, ok, _ := o.Account(addr)
	if !ok || a.Owner != owner || len(a.Data) != 73 || a.Lamports != 1_398_960 {
		t.Fatalf("unexpected account: %+v", a)
	}
	if err := o.Allocate(payer, addr, 1, 1, owner); !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("expected ErrAccountInUse, got %v", err)
	}

	refund, err := o.Close(addr, payer)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if refund != 1_398_960 {
		t.Fatalf("refund: got %d", refund)
	}
	p, _, _ := o.Account(payer)
	if p.Lamports != 2_000_000 {
		t.Fatalf("payer after refund: got %d", p.Lamports)
	}
	if _, err := o.Close(addr, payer); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestOverlay_Assign(t *testing.T) {
	o := NewOverlay(nil)
	addr, owner := pk(2), pk(3)
	if err := o.Assign(addr, 73, owner); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	// A plain balance left at the address keeps its lamports.
	if err := o.Credit(addr, 5); err != nil {
		t.Fatal(err)
	}
	if err := o.Assign(addr, 73, owner); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	a, _, _ := o.Account(addr)
	if a.Owner != owner || len(a.Data) != 73 || a.Lamports != 5 {
		t.Fatalf("unexpected account: %+v", a)
	}

	if err := o.Assign(addr, 73, pk(4)); !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("expected ErrAccountInUse, got %v", err)
	}
}

func TestOverlay_InsufficientFunds(t *testing.T) {
	o := NewOverlay(nil)
	if err := o.Credit(pk(1), 10); err != nil {
		t.Fatal(err)
	}
	if err := o.Allocate(pk(1), pk(2), 11, 0, pk(3)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := o.Debit(pk(9), 1); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestOverlay_ChangesSortedAndEmptyRemoved(t *testing.T) {
	o := NewOverlay(nil)
	o.Set(pk(5), Account{Lamports: 1})
	o.Set(pk(2), Account{Lamports: 2})
	o.Set(pk(3), Account{}) // empty
	o.Delete(pk(4))

	ch := o.Changes()
	if len(ch) != 4 {
		t.Fatalf("expected 4 changes, got %d", len(ch))
	}
	want := []types.Pubkey{pk(2), pk(3), pk(4), pk(5)}
	for i, c := range ch {
		if c.Pubkey != want[i] {
			t.Fatalf("change %d: got %s, want %s", i, c.Pubkey, want[i])
		}
	}
	if ch[1].Account != nil || ch[2].Account != nil {
		t.Fatal("empty and deleted accounts must be removals")
	}
}

func TestState_CommitReload(t *testing.T) {
	st, err := store.NewMemLevelDB()
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	s, err := OpenState(st)
	if err != nil {
		t.Fatalf("OpenState: %v", err)
	}
	if s.Height() != 0 {
		t.Fatalf("fresh height: %d", s.Height())
	}

	o := NewOverlay(s)
	o.Set(pk(1), Account{Lamports: 5, Owner: pk(7), Data: []byte{1, 2}})
	o.MarkProcessed(types.Hash{9})
	changes := o.Changes()
	hash, err := HashChanges(s.AppHash(), 1, changes, o.ProcessedIDs())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(1, hash, changes, o.ProcessedIDs()); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reloaded, err := OpenState(st)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Height() != 1 || reloaded.AppHash() != hash {
		t.Fatalf("reloaded meta: height=%d hash=%x", reloaded.Height(), reloaded.AppHash())
	}
	a, ok, err := reloaded.Account(pk(1))
	if err != nil || !ok {
		t.Fatalf("Account: ok=%v err=%v", ok, err)
	}
	if a.Lamports != 5 || a.Owner != pk(7) || len(a.Data) != 2 {
		t.Fatalf("unexpected account: %+v", a)
	}

	var n int
	if err := reloaded.Accounts(func(types.Pubkey, Account) error { n++; return nil }); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 account, got %d", n)
	}
	if seen, err := reloaded.Processed(types.Hash{9}); err != nil || !seen {
		t.Fatalf("Processed after reload: seen=%v err=%v", seen, err)
	}
	if seen, _ := reloaded.Processed(types.Hash{8}); seen {
		t.Fatal("unknown message reported as processed")
	}

	// Deleting through a later commit removes the entry.
	o = NewOverlay(reloaded)
	o.Delete(pk(1))
	if err := reloaded.Commit(2, hash, o.Changes(), nil); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reloaded.Account(pk(1)); ok {
		t.Fatal("account should be gone")
	}
}

func TestHashChanges_Deterministic(t *testing.T) {
	a := NewOverlay(nil)
	a.Set(pk(1), Account{Lamports: 1})
	a.Set(pk(2), Account{Lamports: 2})

	b := NewOverlay(nil)
	b.Set(pk(2), Account{Lamports: 2})
	b.Set(pk(1), Account{Lamports: 1})

	ha, err := HashChanges(types.AppHash{}, 1, a.Changes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := HashChanges(types.AppHash{}, 1, b.Changes(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatal("insertion order must not affect the hash")
	}
	hc, _ := HashChanges(types.AppHash{}, 2, a.Changes(), nil)
	if hc == ha {
		t.Fatal("height must affect the hash")
	}
	hd, _ := HashChanges(types.AppHash{}, 1, a.Changes(), []types.Hash{{1}})
	if hd == ha {
		t.Fatal("processed messages must affect the hash")
	}
}

func TestOverlay_ProcessedMerge(t *testing.T) {
	block := NewOverlay(nil)
	tx := block.Child()
	tx.MarkProcessed(types.Hash{2})
	tx.MarkProcessed(types.Hash{1})

	if seen, _ := block.Processed(types.Hash{1}); seen {
		t.Fatal("unmerged child leaked into the block")
	}
	block.Merge(tx)
	ids := block.ProcessedIDs()
	if len(ids) != 2 || ids[0] != (types.Hash{1}) || ids[1] != (types.Hash{2}) {
		t.Fatalf("ProcessedIDs: %x", ids)
	}
	if seen, _ := block.Child().Processed(types.Hash{2}); !seen {
		t.Fatal("child must see the block's processed messages")
	}
}
