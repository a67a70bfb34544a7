package state

import "slotchain/types"

// ChainStore is the persistent chain as seen by the round engine. Lookups of
// missing items return nil without error.
type ChainStore interface {
	BestHeader() (*types.Header, error)
	HeaderAtHeight(height int64) (*types.Header, error)
	BlockAtHeight(height int64) (*types.Block, error)
	BlockByHash(hash []byte) (*types.Block, error)

	// SaveBlock persists block if it extends the current best block.
	SaveBlock(block *types.Block) error

	HasTx(txID []byte) (bool, error)
	UTXO(op types.OutPoint) (*types.UTXO, error)
	HasEvidence(evidenceHash []byte) (bool, error)
}
