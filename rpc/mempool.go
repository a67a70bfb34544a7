package rpc

import (
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	mempl "slotchain/mempool"
	"slotchain/types"
)

type ResultBroadcastTx struct {
	Hash tmbytes.HexBytes `json:"hash"`
}

// BroadcastTx admits a JSON encoded transaction into the mempool. The
// mempool reactor gossips it from there.
func (env *Environment) BroadcastTx(ctx *rpctypes.Context, tx []byte) (*ResultBroadcastTx, error) {
	decoded, err := types.TxFromBytes(tx)
	if err != nil {
		return nil, err
	}
	if err := env.Mempool.CheckTx(decoded, mempl.TxInfo{}); err != nil {
		return nil, err
	}
	env.Logger.Debug("Accepted tx over RPC", "tx", decoded.ID())
	return &ResultBroadcastTx{Hash: decoded.ID()}, nil
}
