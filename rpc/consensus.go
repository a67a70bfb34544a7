package rpc

import (
	"fmt"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"

	cstypes "slotchain/consensus/types"
	"slotchain/libs/utils"
	"slotchain/types"
)

type ResultRound struct {
	Current         cstypes.Round  `json:"current"`
	Previous        *cstypes.Round `json:"previous,omitempty"`
	BestHeight      int64          `json:"best_height"`
	PendingEvidence int            `json:"pending_evidence"`
	TxStats         ResultTxStats  `json:"tx_stats"`
}

// ResultTxStats summarises the tx counts of the blocks stored for the
// current round.
type ResultTxStats struct {
	Blocks int     `json:"blocks"`
	Max    float64 `json:"max"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Avg    float64 `json:"avg"`
}

type ResultBlock struct {
	Block *types.Block `json:"block"`
}

func (env *Environment) Round(ctx *rpctypes.Context) (*ResultRound, error) {
	cur := env.Consensus.Round()
	res := &ResultRound{
		Current:         cur,
		PendingEvidence: len(env.Consensus.PendingEvidence()),
	}
	if prev, ok := env.Consensus.PreviousRound(); ok {
		res.Previous = &prev
	}

	best, err := env.BlockStore.BestHeader()
	if err != nil {
		return nil, err
	}
	if best != nil {
		res.BestHeight = best.Height
	}

	var counts []float64
	if cur.Initialized {
		for h := cur.StartHeight + 1; h <= res.BestHeight && h <= cur.EndHeight(); h++ {
			block, err := env.BlockStore.BlockAtHeight(h)
			if err != nil {
				return nil, err
			}
			if block == nil || block.PeriodStartPoint != cur.StartHeight {
				break
			}
			counts = append(counts, float64(len(block.Txs)))
		}
	}
	res.TxStats = ResultTxStats{
		Blocks: len(counts),
		Max:    utils.Max(counts...),
		Min:    utils.Min(counts...),
		Median: utils.Median(counts...),
		Avg:    utils.Avg(counts...),
	}
	return res, nil
}

// Block returns the block at height, or the best block when height is nil.
func (env *Environment) Block(ctx *rpctypes.Context, height *int64) (*ResultBlock, error) {
	h := int64(-1)
	if height != nil {
		h = *height
	} else {
		best, err := env.BlockStore.BestHeader()
		if err != nil {
			return nil, err
		}
		if best != nil {
			h = best.Height
		}
	}
	if h < 0 {
		return nil, fmt.Errorf("height must be non-negative, got %d", h)
	}

	block, err := env.BlockStore.BlockAtHeight(h)
	if err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("no block at height %d", h)
	}
	return &ResultBlock{Block: block}, nil
}
