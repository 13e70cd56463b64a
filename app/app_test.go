package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/blockberries/valgov"
	"github.com/blockberries/valgov/app"
	"github.com/blockberries/valgov/governance"
	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/store"
	valgovtest "github.com/blockberries/valgov/testing"
	"github.com/blockberries/valgov/types"
)

const initialBalance = 10_000_000_000

// flakyStore fails reads or writes on demand.
type flakyStore struct {
	store.Store
	failGets   atomic.Bool
	failWrites atomic.Bool
}

var errDisk = errors.New("disk on fire")

func (f *flakyStore) Get(key []byte) ([]byte, error) {
	if f.failGets.Load() {
		return nil, errDisk
	}
	return f.Store.Get(key)
}

func (f *flakyStore) Write(b *store.Batch) error {
	if f.failWrites.Load() {
		return errDisk
	}
	return f.Store.Write(b)
}

func memStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewMemLevelDB()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newApp(t *testing.T, st store.Store, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(st, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

type fixture struct {
	t         *testing.T
	app       *app.App
	h         *valgovtest.Harness
	b         *valgovtest.Builder
	votes     *governance.Recorder
	validator types.Keypair
	delegate  types.Keypair
	height    uint64
}

func newFixture(t *testing.T, st store.Store, opts ...app.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:         t,
		votes:     governance.NewRecorder(),
		validator: valgovtest.Key(1),
		delegate:  valgovtest.Key(2),
	}
	f.app = newApp(t, st, append([]app.Option{app.WithGovernance(f.votes)}, opts...)...)
	f.h = valgovtest.NewHarness(t, f.app)
	f.b = valgovtest.NewBuilder(t, f.app.ProgramConfig())
	f.h.Genesis(valgovtest.FundedGenesis(initialBalance, f.validator.Pubkey, f.delegate.Pubkey))
	return f
}

func (f *fixture) block(txs ...types.Tx) types.BlockOutcome {
	f.t.Helper()
	f.height++
	return f.h.ExecuteAndCommit(valgovtest.MakeBlock(f.height, txs...))
}

func (f *fixture) balance(pk types.Pubkey) uint64 {
	f.t.Helper()
	acct, _, err := f.app.Account(pk)
	if err != nil {
		f.t.Fatal(err)
	}
	return acct.Lamports
}

func mustOK(t *testing.T, out types.TxOutcome) {
	t.Helper()
	if !out.OK() {
		t.Fatalf("tx %d failed: code=%d info=%s logs=%v", out.Index, out.Code, out.Info, out.Logs)
	}
}

func TestApp_Compliance(t *testing.T) {
	valgovtest.RunComplianceSuite(t, func() valgov.Lifecycle {
		return newApp(t, memStore(t))
	})
}

func TestApp_DelegationFlow(t *testing.T) {
	f := newFixture(t, memStore(t))
	rent := ledger.DefaultRent.MinimumBalance(program.RecordSize)
	if rent != 1_398_960 {
		t.Fatalf("rent for a record = %d", rent)
	}

	out := f.block(f.b.Create(f.validator, f.delegate.Pubkey)).TxOutcomes[0]
	mustOK(t, out)
	if got := f.balance(f.validator.Pubkey); got != initialBalance-rent {
		t.Errorf("validator balance = %d, want %d", got, initialBalance-rent)
	}
	view, ok, err := f.app.Delegation(f.validator.Pubkey)
	if err != nil || !ok {
		t.Fatalf("Delegation: ok=%v err=%v", ok, err)
	}
	if view.GovernanceKey != f.delegate.Pubkey || view.Lamports != rent {
		t.Errorf("unexpected view: %+v", view)
	}

	out = f.block(f.b.Vote(f.delegate, f.validator.Pubkey, 1, governance.Approve())).TxOutcomes[0]
	mustOK(t, out)
	votes := f.votes.Votes()
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(votes))
	}
	if votes[0].VotingAuthority != view.Address {
		t.Errorf("voting authority = %s, want delegation %s", votes[0].VotingAuthority, view.Address)
	}

	out = f.block(f.b.Revoke(f.validator)).TxOutcomes[0]
	mustOK(t, out)
	if got := f.balance(f.validator.Pubkey); got != initialBalance {
		t.Errorf("validator balance after revoke = %d, want %d", got, initialBalance)
	}
	if _, ok, _ := f.app.Delegation(f.validator.Pubkey); ok {
		t.Error("delegation still present after revoke")
	}

	out = f.block(f.b.Vote(f.delegate, f.validator.Pubkey, 2, governance.Approve())).TxOutcomes[0]
	if out.Code != program.CodeRecordNotFound {
		t.Errorf("vote after revoke: code %d, want %d", out.Code, program.CodeRecordNotFound)
	}
	if len(f.votes.Votes()) != 1 {
		t.Error("vote after revoke reached governance")
	}
}

func TestApp_FailedTxLeavesNoTrace(t *testing.T) {
	f := newFixture(t, memStore(t))
	mustOK(t, f.block(f.b.Create(f.validator, f.delegate.Pubkey)).TxOutcomes[0])

	stranger := valgovtest.Key(3)
	outcome := f.block(
		f.b.Vote(stranger, f.validator.Pubkey, 1, governance.Approve()),
		f.b.Create(f.validator, stranger.Pubkey),
	)
	if outcome.TxOutcomes[0].Code != program.CodeKeyMismatch {
		t.Errorf("stranger vote: code %d, want %d", outcome.TxOutcomes[0].Code, program.CodeKeyMismatch)
	}
	if outcome.TxOutcomes[1].Code != program.CodeAlreadyDelegated {
		t.Errorf("second create: code %d, want %d", outcome.TxOutcomes[1].Code, program.CodeAlreadyDelegated)
	}
	view, _, _ := f.app.Delegation(f.validator.Pubkey)
	if view.GovernanceKey != f.delegate.Pubkey {
		t.Error("failed create changed the record")
	}
	if len(f.votes.Votes()) != 0 {
		t.Error("rejected vote was recorded")
	}
}

func TestApp_ReplayAfterRevoke(t *testing.T) {
	f := newFixture(t, memStore(t))
	create := f.b.Create(f.validator, f.delegate.Pubkey)
	mustOK(t, f.block(create).TxOutcomes[0])
	mustOK(t, f.block(f.b.Revoke(f.validator)).TxOutcomes[0])

	if v := f.h.CheckTx(create); v.Code != runtime.CodeDuplicate {
		t.Errorf("CheckTx of replayed create: code %d, want %d (%s)", v.Code, runtime.CodeDuplicate, v.Info)
	}
	out := f.block(create).TxOutcomes[0]
	if out.Code != runtime.CodeDuplicate {
		t.Fatalf("replayed create: code %d, want %d (%s)", out.Code, runtime.CodeDuplicate, out.Info)
	}
	if _, ok, _ := f.app.Delegation(f.validator.Pubkey); ok {
		t.Fatal("replay restored a revoked delegation")
	}
	if got := f.balance(f.validator.Pubkey); got != initialBalance {
		t.Errorf("replay charged the validator: balance %d", got)
	}

	// The same message twice in one block runs once.
	fresh := f.b.Create(f.validator, f.delegate.Pubkey)
	outcome := f.block(fresh, fresh)
	mustOK(t, outcome.TxOutcomes[0])
	if outcome.TxOutcomes[1].Code != runtime.CodeDuplicate {
		t.Errorf("in-block duplicate: code %d, want %d", outcome.TxOutcomes[1].Code, runtime.CodeDuplicate)
	}
}

func TestApp_Determinism(t *testing.T) {
	f1 := newFixture(t, memStore(t))
	f2 := newFixture(t, memStore(t))
	txs := []types.Tx{
		f1.b.Create(f1.validator, f1.delegate.Pubkey),
		f1.b.Vote(f1.delegate, f1.validator.Pubkey, 1, governance.Approve()),
		f1.b.Revoke(valgovtest.Key(9)),
	}
	for i, tx := range txs {
		o1 := f1.block(tx)
		o2 := f2.block(tx)
		if o1.AppHash != o2.AppHash {
			t.Fatalf("block %d: app hash %x != %x", i+1, o1.AppHash, o2.AppHash)
		}
	}
}

func TestApp_RestartPersistsState(t *testing.T) {
	dir := t.TempDir()
	st, err := store.OpenLevelDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, st)
	outcome := f.block(f.b.Create(f.validator, f.delegate.Pubkey))
	mustOK(t, outcome.TxOutcomes[0])
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = store.OpenLevelDB(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	a := newApp(t, st)
	h := valgovtest.NewHarness(t, a)
	resp := h.Restart(types.BlockID{Height: 1})
	if resp.LastBlock == nil || resp.LastBlock.Height != 1 {
		t.Fatalf("restart LastBlock = %+v", resp.LastBlock)
	}
	if resp.AppHash == nil || *resp.AppHash != outcome.AppHash {
		t.Fatalf("restart app hash mismatch")
	}
	if _, ok, err := a.Delegation(f.validator.Pubkey); err != nil || !ok {
		t.Fatalf("delegation lost across restart: ok=%v err=%v", ok, err)
	}

	// Genesis is not applied twice.
	genesis := valgovtest.FundedGenesis(1, valgovtest.Key(50).Pubkey)
	resp = handshakeGenesis(t, newApp(t, st), genesis)
	if resp.LastBlock == nil {
		t.Error("initialized state treated as fresh genesis")
	}
}

func handshakeGenesis(t *testing.T, a *app.App, doc types.GenesisDoc) types.HandshakeResponse {
	t.Helper()
	resp, err := a.Handshake(context.Background(), types.HandshakeRequest{Genesis: &doc})
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestApp_HandshakeRequiresGenesis(t *testing.T) {
	a := newApp(t, memStore(t))
	if _, err := a.Handshake(context.Background(), types.HandshakeRequest{}); err == nil {
		t.Fatal("expected error without genesis")
	}
}

func TestApp_GenesisRejectsDuplicates(t *testing.T) {
	a := newApp(t, memStore(t))
	pk := valgovtest.Key(1).Pubkey
	gs := app.GenesisState{Accounts: []app.GenesisAccount{{Pubkey: pk, Lamports: 1}, {Pubkey: pk, Lamports: 2}}}
	raw, err := gs.Encode()
	if err != nil {
		t.Fatal(err)
	}
	doc := valgovtest.DefaultGenesis()
	doc.AppState = raw
	if _, err := a.Handshake(context.Background(), types.HandshakeRequest{Genesis: &doc}); err == nil {
		t.Fatal("expected duplicate genesis account error")
	}
}

func TestApp_CheckTx(t *testing.T) {
	f := newFixture(t, memStore(t))
	pauper := valgovtest.Key(7)

	good := f.b.Create(f.validator, f.delegate.Pubkey)
	decoded, err := types.DecodeTransaction(good)
	if err != nil {
		t.Fatal(err)
	}
	decoded.Signatures[0].Signature[0] ^= 0xff
	tampered, err := decoded.Encode()
	if err != nil {
		t.Fatal(err)
	}

	unknown := f.b.Tx(f.validator, []types.Instruction{{ProgramID: valgovtest.Key(99).Pubkey}})

	tests := []struct {
		name string
		tx   types.Tx
		code uint32
	}{
		{"accepted", good, runtime.CodeOK},
		{"garbage", types.Tx{0x01}, runtime.CodeDecode},
		{"tampered", tampered, runtime.CodeSignature},
		{"unknown program", unknown, runtime.CodeUnknownProgram},
		{"unfunded payer", f.b.Create(pauper, f.delegate.Pubkey), runtime.CodeAccount},
		{"oversized", make(types.Tx, 64*1024+1), runtime.CodeDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.h.CheckTx(tt.tx)
			if v.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", v.Code, tt.code, v.Info)
			}
		})
	}

	if v := f.h.CheckTx(good); v.Sender != f.validator.Pubkey.String() {
		t.Errorf("sender = %q", v.Sender)
	}
}

func TestApp_Query(t *testing.T) {
	f := newFixture(t, memStore(t))
	mustOK(t, f.block(f.b.Create(f.validator, f.delegate.Pubkey)).TxOutcomes[0])
	addr, bump, err := program.FindDelegationAddress(f.app.ProgramConfig().ProgramID, f.validator.Pubkey)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("delegation", func(t *testing.T) {
		res := f.h.Query(app.PathDelegation, []byte(f.validator.Pubkey.String()))
		if res.Code != app.QueryOK {
			t.Fatalf("code %d: %s", res.Code, res.Info)
		}
		var view app.DelegationView
		if err := json.Unmarshal(res.Value, &view); err != nil {
			t.Fatal(err)
		}
		if view.Address != addr || view.Bump != bump || view.ValidatorIdentity != f.validator.Pubkey {
			t.Errorf("unexpected view %+v", view)
		}
	})

	t.Run("address", func(t *testing.T) {
		key := valgovtest.Key(40)
		res := f.h.Query(app.PathDelegationAddress, key.Pubkey[:])
		if res.Code != app.QueryOK {
			t.Fatalf("code %d: %s", res.Code, res.Info)
		}
		var view app.AddressView
		if err := json.Unmarshal(res.Value, &view); err != nil {
			t.Fatal(err)
		}
		want, _, _ := program.FindDelegationAddress(f.app.ProgramConfig().ProgramID, valgovtest.Key(40).Pubkey)
		if view.Address != want {
			t.Errorf("address = %s, want %s", view.Address, want)
		}
	})

	t.Run("32-character text key", func(t *testing.T) {
		short := types.Pubkey{31: 5}
		text := short.String()
		if len(text) != types.PubkeySize {
			t.Fatalf("%q is %d characters", text, len(text))
		}
		res := f.h.Query(app.PathDelegationAddress, []byte(text))
		if res.Code != app.QueryOK {
			t.Fatalf("code %d: %s", res.Code, res.Info)
		}
		var view app.AddressView
		if err := json.Unmarshal(res.Value, &view); err != nil {
			t.Fatal(err)
		}
		want, _, _ := program.FindDelegationAddress(f.app.ProgramConfig().ProgramID, short)
		if view.Address != want {
			t.Errorf("address = %s, want %s (key read as raw bytes)", view.Address, want)
		}
	})

	t.Run("account", func(t *testing.T) {
		res := f.h.Query(app.PathAccount, addr[:])
		var view app.AccountView
		if err := json.Unmarshal(res.Value, &view); err != nil {
			t.Fatal(err)
		}
		if view.Owner != f.app.ProgramConfig().ProgramID || len(view.Data) != program.RecordSize {
			t.Errorf("unexpected account %+v", view)
		}
	})

	t.Run("not found", func(t *testing.T) {
		key := valgovtest.Key(41)
		res := f.h.Query(app.PathDelegation, key.Pubkey[:])
		if res.Code != app.QueryNotFound {
			t.Errorf("code = %d", res.Code)
		}
	})

	t.Run("bad key", func(t *testing.T) {
		res := f.h.Query(app.PathDelegation, []byte("not-base58-0OIl"))
		if res.Code != app.QueryBadRequest {
			t.Errorf("code = %d", res.Code)
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		res := f.h.Query("/nope", nil)
		if res.Code != app.QueryUnknownPath {
			t.Errorf("code = %d", res.Code)
		}
	})

	t.Run("historical height", func(t *testing.T) {
		old := uint64(0)
		res, err := f.app.Query(context.Background(), types.StateQuery{Path: app.PathAccount, Data: addr[:], Height: &old})
		if err != nil {
			t.Fatal(err)
		}
		if res.Code != app.QueryBadRequest {
			t.Errorf("code = %d", res.Code)
		}
	})
}

func TestApp_SimulateDoesNotPersist(t *testing.T) {
	f := newFixture(t, memStore(t))
	mustOK(t, f.block(f.b.Create(f.validator, f.delegate.Pubkey)).TxOutcomes[0])
	before := f.balance(f.validator.Pubkey)

	out := f.h.Simulate(f.b.Revoke(f.validator))
	mustOK(t, out)
	if len(out.Logs) == 0 {
		t.Error("simulation returned no logs")
	}
	out = f.h.Simulate(f.b.Vote(f.delegate, f.validator.Pubkey, 1, governance.Approve()))
	mustOK(t, out)

	if _, ok, _ := f.app.Delegation(f.validator.Pubkey); !ok {
		t.Error("simulated revoke removed the delegation")
	}
	if f.balance(f.validator.Pubkey) != before {
		t.Error("simulated revoke moved lamports")
	}
	if len(f.votes.Votes()) != 0 {
		t.Error("simulated vote was recorded")
	}
}

func TestApp_CommitWithoutExecute(t *testing.T) {
	f := newFixture(t, memStore(t))
	if _, err := f.app.Commit(context.Background()); !errors.Is(err, app.ErrNoExecutedBlock) {
		t.Fatalf("expected ErrNoExecutedBlock, got %v", err)
	}
}

func TestApp_StaleHeight(t *testing.T) {
	f := newFixture(t, memStore(t))
	f.block()
	if _, err := f.app.ExecuteBlock(context.Background(), valgovtest.MakeEmptyBlock(1)); err == nil {
		t.Fatal("expected error re-executing a committed height")
	}
}

func TestApp_StorageFailureHalts(t *testing.T) {
	t.Run("execute", func(t *testing.T) {
		st := &flakyStore{Store: memStore(t)}
		f := newFixture(t, st)
		st.failGets.Store(true)

		_, err := f.app.ExecuteBlock(context.Background(), valgovtest.MakeBlock(1, f.b.Create(f.validator, f.delegate.Pubkey)))
		h, ok := valgov.IsHalt(err)
		if !ok {
			t.Fatalf("expected HaltError, got %v", err)
		}
		if h.Height != 1 || !errors.Is(err, ledger.ErrStorage) {
			t.Errorf("unexpected halt %v", h)
		}
	})

	t.Run("commit", func(t *testing.T) {
		st := &flakyStore{Store: memStore(t)}
		f := newFixture(t, st)
		if _, err := f.app.ExecuteBlock(context.Background(), valgovtest.MakeEmptyBlock(1)); err != nil {
			t.Fatal(err)
		}
		st.failWrites.Store(true)
		_, err := f.app.Commit(context.Background())
		if _, ok := valgov.IsHalt(err); !ok {
			t.Fatalf("expected HaltError, got %v", err)
		}
		if !errors.Is(err, errDisk) {
			t.Errorf("halt does not wrap the store error: %v", err)
		}
	})
}

func TestApp_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, memStore(t), app.WithPromRegistry(reg))
	f.block(
		f.b.Create(f.validator, f.delegate.Pubkey),
		f.b.Create(f.validator, f.delegate.Pubkey),
	)
	f.block(f.b.Vote(f.delegate, f.validator.Pubkey, 1, governance.Approve()))

	expected := `
# HELP valgov_block_height height of the last committed block
# TYPE valgov_block_height gauge
valgov_block_height 2
# HELP valgov_transactions_total number of executed transactions by result
# TYPE valgov_transactions_total counter
valgov_transactions_total{result="failed"} 1
valgov_transactions_total{result="ok"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"valgov_block_height", "valgov_transactions_total"); err != nil {
		t.Error(err)
	}
	if n, err := testutil.GatherAndCount(reg, "valgov_block_execution_seconds"); err != nil || n != 1 {
		t.Errorf("execution histogram: n=%d err=%v", n, err)
	}
}
