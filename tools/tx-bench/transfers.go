package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/crypto"

	"slotchain/types"
)

// transferChain signs transfers that each spend the single output of the
// previous one, so a connection never waits for a block to keep sending.
type transferChain struct {
	mtx sync.Mutex

	key   crypto.PrivKey
	owner types.Address
	prev  types.OutPoint
	value uint64
	nonce uint64
}

func newTransferChain(key crypto.PrivKey, prev types.OutPoint, value uint64) *transferChain {
	return &transferChain{
		key:   key,
		owner: key.PubKey().Address(),
		prev:  prev,
		value: value,
	}
}

// Next returns the next signed transfer of the chain.
func (c *transferChain) Next() (*types.Tx, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.nonce++
	tx := &types.Tx{
		Type:    types.TxTransfer,
		Inputs:  []types.TxInput{{Prev: c.prev}},
		Outputs: []types.TxOutput{{Value: c.value, Owner: c.owner}},
		Nonce:   c.nonce,
	}
	if err := tx.Sign(c.key); err != nil {
		return nil, err
	}
	c.prev = tx.OutPoint(0)
	return tx, nil
}

// splitTransfer spends prev into n outputs owned by key, one per connection.
// The remainder of an uneven split stays on the first output.
func splitTransfer(key crypto.PrivKey, prev types.OutPoint, value uint64, n int) (*types.Tx, error) {
	if n <= 0 {
		return nil, errors.New("need at least one output")
	}
	share := value / uint64(n)
	if share == 0 {
		return nil, fmt.Errorf("value %d is too small to split %d ways", value, n)
	}
	owner := key.PubKey().Address()
	tx := &types.Tx{Type: types.TxTransfer, Inputs: []types.TxInput{{Prev: prev}}}
	for i := 0; i < n; i++ {
		tx.Outputs = append(tx.Outputs, types.TxOutput{Value: share, Owner: owner})
	}
	tx.Outputs[0].Value += value - share*uint64(n)
	if err := tx.Sign(key); err != nil {
		return nil, err
	}
	return tx, nil
}

// parseOutPoint reads "TXID:INDEX" with a hex txid.
func parseOutPoint(s string) (types.OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return types.OutPoint{}, fmt.Errorf("outpoint %q is not TXID:INDEX", s)
	}
	var txID []byte
	if _, err := fmt.Sscanf(parts[0], "%X", &txID); err != nil {
		return types.OutPoint{}, errors.Wrapf(err, "txid %q", parts[0])
	}
	idx, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return types.OutPoint{}, errors.Wrapf(err, "index %q", parts[1])
	}
	return types.OutPoint{TxID: txID, Index: uint32(idx)}, nil
}
