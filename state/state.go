package state

import (
	"time"

	"github.com/tendermint/tendermint/crypto"

	"slotchain/types"
)

// MakeGenesisState returns the chain parameters fixed by the genesis document.
func MakeGenesisState(genDoc *types.GenesisDoc) State {
	return State{
		ChainID:          genDoc.ChainID,
		GenesisTime:      genDoc.GenesisTime,
		BlockInterval:    genDoc.BlockInterval,
		CoinbaseMaturity: genDoc.CoinbaseMaturity,
		Authority:        genDoc.Authority,
		InitialMembers:   genDoc.InitialMembers(),
	}
}

// State holds the chain-wide constants every node agrees on. It never
// changes after genesis.
type State struct {
	ChainID          string
	GenesisTime      int64
	BlockInterval    int64 // seconds
	CoinbaseMaturity int64 // blocks
	Authority        crypto.PubKey
	InitialMembers   types.Members
}

func (state State) Interval() time.Duration {
	return time.Duration(state.BlockInterval) * time.Second
}

// Copy returns a copy that shares no member slice with state.
func (state State) Copy() State {
	cp := state
	cp.InitialMembers = state.InitialMembers.Copy()
	return cp
}
