package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/blockberries/valgov/internal/wallet"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/types"
)

func keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage keypair files and derived addresses",
	}
	cmd.AddCommand(keysGenerateCommand())
	cmd.AddCommand(keysShowCommand())
	cmd.AddCommand(keysDeriveCommand())
	return cmd
}

func keysGenerateCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "generate <keypair-file>",
		Short: "Generate a keypair and write it to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s exists, use --force to overwrite", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			kp, err := wallet.GenerateKeypair()
			if err != nil {
				return err
			}
			if err := wallet.WriteKeypair(path, kp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.Pubkey)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func keysShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <keypair-file>",
		Short: "Print the public key of a keypair file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := wallet.ReadKeypair(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.Pubkey)
			return nil
		},
	}
}

func keysDeriveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "derive <validator-pubkey>",
		Short: "Print the delegation record address of a validator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			programCfg, err := cfg.ProgramConfig()
			if err != nil {
				return err
			}
			validator, err := types.ParsePubkey(args[0])
			if err != nil {
				return err
			}
			addr, bump, err := program.FindDelegationAddress(programCfg.ProgramID, validator)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nbump:    %d\n", addr, bump)
			return nil
		},
	}
}
