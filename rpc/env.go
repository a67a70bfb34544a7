package rpc

import (
	"github.com/tendermint/tendermint/libs/log"

	"slotchain/consensus"
	"slotchain/libs/metric"
	mempl "slotchain/mempool"
	sm "slotchain/state"
)

// Environment holds the node components the RPC routes read from.
type Environment struct {
	BlockStore sm.ChainStore
	Mempool    mempl.Mempool
	Consensus  *consensus.ConsensusState

	MetricSet *metric.MetricSet
	Logger    log.Logger
}
