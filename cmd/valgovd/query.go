package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/blockberries/valgov/app"
	"github.com/blockberries/valgov/types"
)

func queryCommand() *cobra.Command {
	var (
		addr    string
		useHTTP bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Read committed application state",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "application address (default: listenAddr, or metricsAddr with --http)")
	cmd.PersistentFlags().BoolVar(&useHTTP, "http", false, "query the HTTP API instead of the application service")

	sub := func(use, short string, path types.QueryPath) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <pubkey>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				pk, err := types.ParsePubkey(args[0])
				if err != nil {
					return err
				}
				if useHTTP {
					if path != app.PathDelegation {
						return fmt.Errorf("%s is not served over HTTP", path)
					}
					return queryHTTP(cmd, addr, pk)
				}
				return queryApp(cmd, addr, path, pk)
			},
		}
	}
	cmd.AddCommand(sub("delegation", "Show a validator's delegation record", app.PathDelegation))
	cmd.AddCommand(sub("address", "Show a validator's delegation record address", app.PathDelegationAddress))
	cmd.AddCommand(sub("account", "Show an account", app.PathAccount))
	return cmd
}

func queryApp(cmd *cobra.Command, addr string, path types.QueryPath, pk types.Pubkey) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	client, err := dialApp(cmd.Context(), cfg, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	res, err := client.Query(cmd.Context(), types.StateQuery{Path: path, Data: []byte(pk.String())})
	if err != nil {
		return err
	}
	if res.Code != app.QueryOK {
		return fmt.Errorf("query %s at height %d: %s (code %d)", path, res.Height, res.Info, res.Code)
	}
	return writeOutput(cmd, "", json.RawMessage(res.Value))
}

func queryHTTP(cmd *cobra.Command, addr string, pk types.Pubkey) error {
	cfg, err := configFrom(cmd)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	u := url.URL{Scheme: "http", Host: addr, Path: "/delegations/" + pk.String()}

	client := &http.Client{Timeout: dialTimeout}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s: %s", u.String(), resp.Status, body)
	}
	return writeOutput(cmd, "", json.RawMessage(body))
}
