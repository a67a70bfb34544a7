package mempool

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newMemMetric() *memMetric {
	return &memMetric{}
}

type memMetric struct {
	mtx           sync.RWMutex
	TxsNum        int   `json:"txs_num"`         // pending txs
	TotalTxsBytes int64 `json:"total_txs_bytes"` // encoded size of pending txs
	TakenTxs      int64 `json:"taken_txs"`       // txs handed to the block producer
	RequeuedTxs   int64 `json:"requeued_txs"`    // txs returned by the block producer
}

func (mm *memMetric) JSONString() string {
	mm.mtx.RLock()
	defer mm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(mm)
	return s
}

func (mm *memMetric) MarkPool(txsNum int, txsBytes int64) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.TxsNum = txsNum
	mm.TotalTxsBytes = txsBytes
}

func (mm *memMetric) MarkTaken() {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.TakenTxs++
}

func (mm *memMetric) MarkRequeued() {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.RequeuedTxs++
}
