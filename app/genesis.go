package app

import (
	"encoding/json"
	"fmt"

	"github.com/blockberries/valgov/ledger"
	"github.com/blockberries/valgov/types"
)

// GenesisAccount funds an account at genesis.
type GenesisAccount struct {
	Pubkey   types.Pubkey `json:"pubkey"`
	Lamports uint64       `json:"lamports"`
}

// GenesisState is the JSON document carried in GenesisDoc.AppState.
type GenesisState struct {
	Accounts []GenesisAccount `json:"accounts"`
}

// ParseGenesisState decodes raw. An empty document is an empty state.
func ParseGenesisState(raw []byte) (GenesisState, error) {
	var gs GenesisState
	if len(raw) == 0 {
		return gs, nil
	}
	if err := json.Unmarshal(raw, &gs); err != nil {
		return gs, fmt.Errorf("parse genesis app state: %w", err)
	}
	return gs, nil
}

// Encode returns the JSON form of gs.
func (gs GenesisState) Encode() ([]byte, error) {
	return json.Marshal(gs)
}

// apply credits the genesis accounts and marks every registered
// program id as an executable account.
func (gs GenesisState) apply(o *ledger.Overlay, programs []types.Pubkey) error {
	seen := make(map[types.Pubkey]struct{}, len(gs.Accounts))
	for _, ga := range gs.Accounts {
		if _, ok := seen[ga.Pubkey]; ok {
			return fmt.Errorf("genesis account %s listed twice", ga.Pubkey)
		}
		seen[ga.Pubkey] = struct{}{}
		if ga.Lamports == 0 {
			continue
		}
		if err := o.Credit(ga.Pubkey, ga.Lamports); err != nil {
			return fmt.Errorf("genesis account %s: %w", ga.Pubkey, err)
		}
	}
	for _, id := range programs {
		if id == ledger.SystemProgramID {
			continue
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("genesis account %s is a program id", id)
		}
		o.Set(id, ledger.Account{
			Lamports:   1,
			Owner:      ledger.SystemProgramID,
			Executable: true,
		})
	}
	return nil
}
