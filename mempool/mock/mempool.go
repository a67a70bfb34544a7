package mock

import (
	mempl "slotchain/mempool"
	"slotchain/types"
)

// Mempool is a FIFO implementation of a Mempool without any checks, useful
// for testing.
type Mempool struct {
	Txs types.Txs
}

var _ mempl.Mempool = (*Mempool)(nil)

func (*Mempool) Lock()   {}
func (*Mempool) Unlock() {}

func (m *Mempool) Size() int { return len(m.Txs) }

func (m *Mempool) CheckTx(tx *types.Tx, _ mempl.TxInfo) error {
	m.Txs = append(m.Txs, tx)
	return nil
}

func (m *Mempool) Take() *types.Tx {
	if len(m.Txs) == 0 {
		return nil
	}
	tx := m.Txs[0]
	m.Txs = m.Txs[1:]
	return tx
}

func (m *Mempool) Requeue(tx *types.Tx) error {
	m.Txs = append(m.Txs, tx)
	return nil
}

func (m *Mempool) FindOutput(op types.OutPoint) (types.TxOutput, bool) {
	for _, tx := range m.Txs {
		if tx.ID().String() == op.TxID.String() && int(op.Index) < len(tx.Outputs) {
			return tx.Outputs[op.Index], true
		}
	}
	return types.TxOutput{}, false
}

func (*Mempool) Update(_ int64, _ types.Txs) error { return nil }
func (m *Mempool) Flush()                          { m.Txs = nil }
func (*Mempool) TxsBytes() int64                   { return 0 }
