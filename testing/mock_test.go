package valgovtest

import (
	"testing"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/types"
)

func TestMockApp_Compliance(t *testing.T) {
	RunComplianceSuite(t, func() valgov.Lifecycle { return &MockApp{} })
}

func TestMockApp_CallCounters(t *testing.T) {
	m := &MockApp{DeclaredCapabilities: types.CapSimulation}
	h := NewHarness(t, m)
	h.GenesisDefault()
	h.ExecuteAndCommit(MakeEmptyBlock(1))
	h.Simulate(types.Tx{0x01})

	if m.HandshakeCalls.Load() != 1 || m.ExecuteBlockCalls.Load() != 1 || m.CommitCalls.Load() != 1 {
		t.Errorf("unexpected counters: handshake=%d execute=%d commit=%d",
			m.HandshakeCalls.Load(), m.ExecuteBlockCalls.Load(), m.CommitCalls.Load())
	}
	if m.SimulateCalls.Load() != 1 {
		t.Errorf("expected 1 simulate call, got %d", m.SimulateCalls.Load())
	}
}

func TestBuilder_UniqueNonces(t *testing.T) {
	b := NewBuilder(t, program.DefaultConfig())
	v := Key(1)
	tx1 := b.Create(v, Key(2).Pubkey)
	tx2 := b.Create(v, Key(2).Pubkey)
	if string(tx1) == string(tx2) {
		t.Fatal("identical transactions from one builder")
	}
	for _, raw := range []types.Tx{tx1, tx2} {
		tx, err := types.DecodeTransaction(raw)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := tx.Verify(); err != nil {
			t.Errorf("verify: %v", err)
		}
	}
}

func TestVoteAccounts_Disjoint(t *testing.T) {
	a := VoteAccounts(Key(1).Pubkey, Key(2).Pubkey, 1)
	b := VoteAccounts(Key(1).Pubkey, Key(2).Pubkey, 2)
	if a.Proposal == b.Proposal || a.VoteRecord == b.VoteRecord {
		t.Error("different proposals share accounts")
	}
}
