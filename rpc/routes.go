package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

// Routes maps RPC method names to the handlers of env.
func (env *Environment) Routes() map[string]*rpc.RPCFunc {
	return map[string]*rpc.RPCFunc{
		"round":        rpc.NewRPCFunc(env.Round, ""),
		"block":        rpc.NewRPCFunc(env.Block, "height"),
		"broadcast_tx": rpc.NewRPCFunc(env.BroadcastTx, "tx"),
		"metrics":      rpc.NewRPCFunc(env.JSONMetrics, "label"),
	}
}
