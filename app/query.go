package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/types"
)

// Query paths.
const (
	PathDelegation        types.QueryPath = "/delegation"
	PathDelegationAddress types.QueryPath = "/delegation/address"
	PathAccount           types.QueryPath = "/account"
)

// Query result codes.
const (
	QueryOK uint32 = iota
	QueryNotFound
	QueryBadRequest
	QueryUnknownPath
)

// DelegationView is the JSON value of a /delegation query.
type DelegationView struct {
	Address           types.Pubkey `json:"address"`
	ValidatorIdentity types.Pubkey `json:"validatorIdentity"`
	GovernanceKey     types.Pubkey `json:"governanceKey"`
	Bump              uint8        `json:"bump"`
	Lamports          uint64       `json:"lamports"`
}

// AddressView is the JSON value of a /delegation/address query.
type AddressView struct {
	Address types.Pubkey `json:"address"`
	Bump    uint8        `json:"bump"`
}

// AccountView is the JSON value of an /account query.
type AccountView struct {
	Pubkey     types.Pubkey `json:"pubkey"`
	Lamports   uint64       `json:"lamports"`
	Owner      types.Pubkey `json:"owner"`
	Executable bool         `json:"executable"`
	Data       []byte       `json:"data"`
}

// queryKey accepts a key in base58 text form or as raw bytes. Text
// wins: keys with many leading zero bytes encode to exactly 32
// characters.
func queryKey(data []byte) (types.Pubkey, error) {
	pk, err := types.ParsePubkey(string(data))
	if err == nil {
		return pk, nil
	}
	if len(data) == types.PubkeySize {
		return types.PubkeyFromBytes(data)
	}
	return pk, err
}

// Delegation reads validator's committed delegation record.
func (a *App) Delegation(validator types.Pubkey) (DelegationView, bool, error) {
	rec, addr, ok, err := program.ReadRecord(a.state, a.programCfg.ProgramID, validator)
	if err != nil || !ok {
		return DelegationView{}, false, err
	}
	acct, _, err := a.state.Account(addr)
	if err != nil {
		return DelegationView{}, false, err
	}
	return DelegationView{
		Address:           addr,
		ValidatorIdentity: rec.ValidatorIdentity,
		GovernanceKey:     rec.GovernanceKey,
		Bump:              rec.Bump,
		Lamports:          acct.Lamports,
	}, true, nil
}

// Account reads a committed account.
func (a *App) Account(pk types.Pubkey) (ledger.Account, bool, error) {
	return a.state.Account(pk)
}

func (a *App) Query(_ context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	height := a.state.Height()
	if req.Height != nil && *req.Height != height {
		return types.StateQueryResult{
			Code:   QueryBadRequest,
			Info:   fmt.Sprintf("only the latest height %d is available", height),
			Height: height,
		}, nil
	}

	var (
		value any
		key   []byte
		found bool
		err   error
	)
	pk, keyErr := queryKey(req.Data)
	switch req.Path {
	case PathDelegation, PathDelegationAddress, PathAccount:
		if keyErr != nil {
			return types.StateQueryResult{Code: QueryBadRequest, Info: keyErr.Error(), Height: height}, nil
		}
	default:
		return types.StateQueryResult{Code: QueryUnknownPath, Info: "unknown query path", Height: height}, nil
	}

	switch req.Path {
	case PathDelegation:
		var view DelegationView
		view, found, err = a.Delegation(pk)
		key, value = view.Address[:], view
	case PathDelegationAddress:
		var view AddressView
		view.Address, view.Bump, err = program.FindDelegationAddress(a.programCfg.ProgramID, pk)
		key, value, found = pk[:], view, err == nil
	case PathAccount:
		var acct ledger.Account
		acct, found, err = a.state.Account(pk)
		key, value = pk[:], AccountView{
			Pubkey:     pk,
			Lamports:   acct.Lamports,
			Owner:      acct.Owner,
			Executable: acct.Executable,
			Data:       acct.Data,
		}
	}
	if err != nil {
		return types.StateQueryResult{}, err
	}
	if !found {
		return types.StateQueryResult{Code: QueryNotFound, Info: "not found", Height: height}, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return types.StateQueryResult{}, fmt.Errorf("marshal query result: %w", err)
	}
	return types.StateQueryResult{
		Code:   QueryOK,
		Key:    key,
		Value:  data,
		Height: height,
	}, nil
}
