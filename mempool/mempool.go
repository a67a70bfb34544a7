package mempool

import (
	"github.com/tendermint/tendermint/p2p"

	"slotchain/types"
)

// Mempool holds transactions waiting to be included in a block.
type Mempool interface {
	// CheckTx admits a new transaction after stateless checks.
	CheckTx(tx *types.Tx, txInfo TxInfo) error

	// Take removes and returns the oldest pending transaction, or nil
	// when the pool is empty. It never blocks.
	Take() *types.Tx

	// Requeue returns a taken transaction to the back of the pool.
	Requeue(tx *types.Tx) error

	// FindOutput reports whether a pending transaction creates op.
	FindOutput(op types.OutPoint) (types.TxOutput, bool)

	// Lock locks the mempool. The caller must hold it while calling Update.
	Lock()

	// Unlock unlocks the mempool.
	Unlock()

	// Update removes transactions committed at height.
	Update(height int64, txs types.Txs) error

	// Flush removes every pending transaction and resets the cache.
	Flush()

	// Size returns the number of pending transactions.
	Size() int

	// TxsBytes returns the total encoded size of pending transactions.
	TxsBytes() int64
}

//--------------------------------------------------------------------------------

// PreCheckFunc is an optional filter executed before CheckTx admits a tx.
type PreCheckFunc func(*types.Tx) error

// TxInfo are parameters that get passed when attempting to add a tx to the
// mempool.
type TxInfo struct {
	// SenderID is the internal peer ID used in the mempool to identify the
	// sender, storing 2 bytes with each tx instead of 20 bytes for the p2p.ID.
	SenderID uint16
	// SenderP2PID is the actual p2p.ID of the sender, used e.g. for logging.
	SenderP2PID p2p.ID
}
