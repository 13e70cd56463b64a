package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/blockberries/valgov/internal/config"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

// run executes cmd with args under the default config and returns
// stdout.
func run(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	ctx := config.WithContext(context.Background(), config.Default())
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("%s %v: %v\n%s", cmd.Name(), args, err, out.String())
	}
	return strings.TrimSpace(out.String())
}

func TestOfflineCreateWorkflow(t *testing.T) {
	dir := t.TempDir()
	validatorFile := filepath.Join(dir, "validator.json")
	unsigned := filepath.Join(dir, "create.json")
	sig := filepath.Join(dir, "create.sig.json")

	validator := run(t, keysCommand(), "generate", validatorFile)
	if _, err := types.ParsePubkey(validator); err != nil {
		t.Fatalf("generate printed %q: %v", validator, err)
	}
	if shown := run(t, keysCommand(), "show", validatorFile); shown != validator {
		t.Fatalf("show = %q, want %q", shown, validator)
	}

	delegate := types.Pubkey{7}.String()
	run(t, txCommand(), "build-create",
		"--validator", validator,
		"--governance-key", delegate,
		"--nonce", "1",
		"--out", unsigned,
	)
	run(t, txCommand(), "sign", unsigned, "--keypair", validatorFile, "--out", sig)
	encoded := run(t, txCommand(), "assemble", unsigned, "--sig", sig)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("assemble output is not base64: %v", err)
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.Message.Payer.String() != validator {
		t.Errorf("payer = %s, want %s", tx.Message.Payer, validator)
	}
	if tx.Message.Nonce != 1 {
		t.Errorf("nonce = %d", tx.Message.Nonce)
	}
}

func TestOfflineTransferWorkflow(t *testing.T) {
	dir := t.TempDir()
	funderFile := filepath.Join(dir, "funder.json")
	unsigned := filepath.Join(dir, "transfer.json")
	sig := filepath.Join(dir, "transfer.sig.json")

	funder := run(t, keysCommand(), "generate", funderFile)
	validator := types.Pubkey{9}.String()
	run(t, txCommand(), "build-transfer",
		"--from", funder,
		"--to", validator,
		"--lamports", "5000000",
		"--out", unsigned,
	)
	run(t, txCommand(), "sign", unsigned, "-k", funderFile, "-o", sig)
	encoded := run(t, txCommand(), "assemble", unsigned, "-s", sig)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("assemble output is not base64: %v", err)
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := tx.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tx.Message.Payer.String() != funder {
		t.Errorf("payer = %s, want %s", tx.Message.Payer, funder)
	}
	want := runtime.TransferInstruction(tx.Message.Payer, types.Pubkey{9}, 5_000_000)
	if len(tx.Message.Instructions) != 1 {
		t.Fatalf("instructions: %d", len(tx.Message.Instructions))
	}
	got := tx.Message.Instructions[0]
	if got.ProgramID != runtime.SystemProgramID || !bytes.Equal(got.Data, want.Data) {
		t.Errorf("instruction = %+v, want %+v", got, want)
	}
	if len(got.Accounts) != 2 || got.Accounts[1].Pubkey.String() != validator || !got.Accounts[1].IsWritable {
		t.Errorf("accounts = %+v", got.Accounts)
	}
}

func TestBuildTransferRejectsZero(t *testing.T) {
	cmd := txCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"build-transfer", "--from", types.Pubkey{1}.String(), "--to", types.Pubkey{2}.String()})
	ctx := config.WithContext(context.Background(), config.Default())
	if err := cmd.ExecuteContext(ctx); err == nil {
		t.Fatal("expected an error without --lamports")
	}
}

func TestKeysDerive(t *testing.T) {
	validator := types.Pubkey{1, 2, 3}
	addr, bump, err := program.FindDelegationAddress(program.DefaultProgramID, validator)
	if err != nil {
		t.Fatal(err)
	}
	out := run(t, keysCommand(), "derive", validator.String())
	if !strings.Contains(out, addr.String()) {
		t.Errorf("derive output %q does not name %s", out, addr)
	}
	if !strings.HasSuffix(out, fmt.Sprintf("bump:    %d", bump)) {
		t.Errorf("derive output %q does not end with bump %d", out, bump)
	}
}

func TestGenerateRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k.json")
	run(t, keysCommand(), "generate", path)

	cmd := keysCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"generate", path})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected an error for an existing file")
	}
}
