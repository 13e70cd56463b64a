package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/valgov/governance"
	valgovgrpc "github.com/blockberries/valgov/grpc"
	"github.com/blockberries/valgov/internal/config"
	"github.com/blockberries/valgov/internal/wallet"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/runtime"
	"github.com/blockberries/valgov/types"
)

const dialTimeout = 10 * time.Second

func txCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Build, sign and submit delegation transactions",
		Long: "Transactions are built unsigned, signed offline by each " +
			"required signer, then assembled. The validator identity key " +
			"never has to be on the machine that assembles or submits.",
	}
	cmd.AddCommand(txBuildCreateCommand())
	cmd.AddCommand(txBuildRevokeCommand())
	cmd.AddCommand(txBuildVoteCommand())
	cmd.AddCommand(txBuildTransferCommand())
	cmd.AddCommand(txSignCommand())
	cmd.AddCommand(txAssembleCommand())
	cmd.AddCommand(txCheckCommand())
	cmd.AddCommand(txSimulateCommand())
	return cmd
}

type buildFlags struct {
	out   string
	nonce uint64
}

func (f *buildFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the unsigned transaction here instead of stdout")
	cmd.Flags().Uint64Var(&f.nonce, "nonce", 0, "message nonce (default: current time)")
}

// write builds the message and writes it as an UnsignedTx.
func (f *buildFlags) write(cmd *cobra.Command, payer types.Pubkey, ixs ...types.Instruction) error {
	nonce := f.nonce
	if nonce == 0 {
		nonce = uint64(time.Now().UnixNano())
	}
	u, err := wallet.NewUnsignedTx(types.Message{
		Payer:        payer,
		Nonce:        nonce,
		Instructions: ixs,
	})
	if err != nil {
		return err
	}
	return writeOutput(cmd, f.out, u)
}

func writeOutput(cmd *cobra.Command, path string, v any) error {
	if path != "" {
		return wallet.WriteJSON(path, v)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func programConfig(cmd *cobra.Command) (program.Config, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return program.Config{}, err
	}
	return cfg.ProgramConfig()
}

// parseKeys parses named base58 flag values in order.
func parseKeys(values ...[2]string) ([]types.Pubkey, error) {
	out := make([]types.Pubkey, len(values))
	for i, v := range values {
		if v[1] == "" {
			return nil, fmt.Errorf("--%s is required", v[0])
		}
		pk, err := types.ParsePubkey(v[1])
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", v[0], err)
		}
		out[i] = pk
	}
	return out, nil
}

func txBuildCreateCommand() *cobra.Command {
	var (
		bf                       buildFlags
		validator, governanceKey string
	)
	cmd := &cobra.Command{
		Use:   "build-create",
		Short: "Build a transaction registering a governance key for a validator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := programConfig(cmd)
			if err != nil {
				return err
			}
			keys, err := parseKeys(
				[2]string{"validator", validator},
				[2]string{"governance-key", governanceKey},
			)
			if err != nil {
				return err
			}
			ix, err := program.CreateDelegationInstruction(cfg, keys[0], keys[1])
			if err != nil {
				return err
			}
			return bf.write(cmd, keys[0], ix)
		},
	}
	cmd.Flags().StringVar(&validator, "validator", "", "validator identity public key (signs and pays)")
	cmd.Flags().StringVar(&governanceKey, "governance-key", "", "public key allowed to vote for the validator")
	bf.register(cmd)
	return cmd
}

func txBuildRevokeCommand() *cobra.Command {
	var (
		bf        buildFlags
		validator string
	)
	cmd := &cobra.Command{
		Use:   "build-revoke",
		Short: "Build a transaction closing a validator's delegation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := programConfig(cmd)
			if err != nil {
				return err
			}
			keys, err := parseKeys([2]string{"validator", validator})
			if err != nil {
				return err
			}
			ix, err := program.RevokeDelegationInstruction(cfg, keys[0])
			if err != nil {
				return err
			}
			return bf.write(cmd, keys[0], ix)
		},
	}
	cmd.Flags().StringVar(&validator, "validator", "", "validator identity public key (signs and receives the rent)")
	bf.register(cmd)
	return cmd
}

func txBuildTransferCommand() *cobra.Command {
	var (
		bf       buildFlags
		from, to string
		lamports uint64
	)
	cmd := &cobra.Command{
		Use:   "build-transfer",
		Short: "Build a transaction moving lamports between system accounts",
		Long: "Funds a validator identity or a governance key so it can " +
			"pay for delegation and vote transactions.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := parseKeys(
				[2]string{"from", from},
				[2]string{"to", to},
			)
			if err != nil {
				return err
			}
			if lamports == 0 {
				return fmt.Errorf("--lamports must be positive")
			}
			return bf.write(cmd, keys[0], runtime.TransferInstruction(keys[0], keys[1], lamports))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "funding public key (signs and pays)")
	cmd.Flags().StringVar(&to, "to", "", "receiving public key")
	cmd.Flags().Uint64Var(&lamports, "lamports", 0, "amount to transfer")
	bf.register(cmd)
	return cmd
}

func txBuildVoteCommand() *cobra.Command {
	var (
		bf   buildFlags
		kind string
		keys struct {
			validator, governanceKey, governance, proposal, proposalOwnerRecord, voterTokenOwnerRecord, voteRecord string
		}
	)
	cmd := &cobra.Command{
		Use:   "build-vote",
		Short: "Build a transaction casting a vote for a validator with its governance key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := programConfig(cmd)
			if err != nil {
				return err
			}
			pks, err := parseKeys(
				[2]string{"validator", keys.validator},
				[2]string{"governance-key", keys.governanceKey},
				[2]string{"governance", keys.governance},
				[2]string{"proposal", keys.proposal},
				[2]string{"proposal-owner-record", keys.proposalOwnerRecord},
				[2]string{"voter-token-owner-record", keys.voterTokenOwnerRecord},
				[2]string{"vote-record", keys.voteRecord},
			)
			if err != nil {
				return err
			}
			vk, err := governance.ParseVoteKind(kind)
			if err != nil {
				return err
			}
			vote := governance.Vote{Kind: vk}
			if vk == governance.VoteApprove {
				vote = governance.Approve()
			}
			ix, err := program.ExecuteVoteInstruction(cfg, program.VoteAccounts{
				ValidatorIdentity:     pks[0],
				GovernanceKey:         pks[1],
				Governance:            pks[2],
				Proposal:              pks[3],
				ProposalOwnerRecord:   pks[4],
				VoterTokenOwnerRecord: pks[5],
				VoteRecord:            pks[6],
			}, vote)
			if err != nil {
				return err
			}
			return bf.write(cmd, pks[1], ix)
		},
	}
	f := cmd.Flags()
	f.StringVar(&keys.validator, "validator", "", "validator identity the vote is cast for")
	f.StringVar(&keys.governanceKey, "governance-key", "", "delegated governance key (signs and pays)")
	f.StringVar(&keys.governance, "governance", "", "governance account")
	f.StringVar(&keys.proposal, "proposal", "", "proposal account")
	f.StringVar(&keys.proposalOwnerRecord, "proposal-owner-record", "", "proposal owner's token owner record")
	f.StringVar(&keys.voterTokenOwnerRecord, "voter-token-owner-record", "", "voter's token owner record")
	f.StringVar(&keys.voteRecord, "vote-record", "", "vote record account to create")
	f.StringVar(&kind, "vote", "approve", "approve, deny, abstain or veto")
	bf.register(cmd)
	return cmd
}

func txSignCommand() *cobra.Command {
	var keypairFile, out string
	cmd := &cobra.Command{
		Use:   "sign <unsigned-tx-file>",
		Short: "Sign an unsigned transaction with a keypair file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keypairFile == "" {
				return fmt.Errorf("--keypair is required")
			}
			var u wallet.UnsignedTx
			if err := wallet.ReadJSON(args[0], &u); err != nil {
				return err
			}
			kp, err := wallet.ReadKeypair(keypairFile)
			if err != nil {
				return err
			}
			sig, err := wallet.Sign(u, kp)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, sig)
		},
	}
	cmd.Flags().StringVarP(&keypairFile, "keypair", "k", "", "keypair file of a required signer")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the signature here instead of stdout")
	return cmd
}

func txAssembleCommand() *cobra.Command {
	var (
		sigFiles []string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "assemble <unsigned-tx-file>",
		Short: "Attach signatures and print the base64 transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u wallet.UnsignedTx
			if err := wallet.ReadJSON(args[0], &u); err != nil {
				return err
			}
			sigs := make([]wallet.DetachedSignature, len(sigFiles))
			for i, path := range sigFiles {
				if err := wallet.ReadJSON(path, &sigs[i]); err != nil {
					return err
				}
			}
			tx, err := wallet.Assemble(u, sigs...)
			if err != nil {
				return err
			}
			text := base64.StdEncoding.EncodeToString(tx) + "\n"
			if out != "" {
				return os.WriteFile(out, []byte(text), 0o644)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&sigFiles, "sig", "s", nil, "signature file (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the transaction here instead of stdout")
	return cmd
}

// readTx reads a base64 transaction file, or stdin for "-".
func readTx(cmd *cobra.Command, path string) (types.Tx, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("transaction is not base64: %w", err)
	}
	return types.Tx(raw), nil
}

// dialApp connects to a served application as a read-only tool.
func dialApp(ctx context.Context, cfg *config.Config, addr string) (*valgovgrpc.Client, error) {
	if addr == "" {
		addr = cfg.ListenAddr
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := valgovgrpc.Dial(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	client.Attach(types.CapSimulation)
	return client, nil
}

func txCheckCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "check <tx-file|->",
		Short: "Ask the application whether it would admit a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			tx, err := readTx(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := dialApp(cmd.Context(), cfg, addr)
			if err != nil {
				return err
			}
			defer client.Close()
			verdict, err := client.CheckTx(cmd.Context(), tx, types.MempoolFirstSeen)
			if err != nil {
				return err
			}
			return writeOutput(cmd, "", verdict)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "application address (default: listenAddr from the config)")
	return cmd
}

func txSimulateCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "simulate <tx-file|->",
		Short: "Execute a transaction against committed state without persisting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			tx, err := readTx(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := dialApp(cmd.Context(), cfg, addr)
			if err != nil {
				return err
			}
			defer client.Close()
			outcome, err := client.AsSimulator().Simulate(cmd.Context(), tx)
			if err != nil {
				return err
			}
			return writeOutput(cmd, "", outcome)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "application address (default: listenAddr from the config)")
	return cmd
}
