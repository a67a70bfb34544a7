package mempool

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"

	"slotchain/types"
)

const (
	TxKeySize = 32
)

func NewListMempool(config *cfg.MempoolConfig, height int64, options ...ListMempoolOption) *ListMempool {
	mem := &ListMempool{
		height: height,
		config: config,
		txs:    clist.New(),
		metric: newMemMetric(),
		logger: log.NewNopLogger(),
	}

	if config.CacheSize > 0 {
		mem.cache = newLRUTxCache(config.CacheSize)
	} else {
		mem.cache = nopTxCache{}
	}

	for _, option := range options {
		option(mem)
	}

	return mem
}

// ListMempool keeps pending transactions in arrival order on a concurrent
// linked list, so the reactor can walk it while the producer takes from it.
type ListMempool struct {
	// Atomic integers
	height   int64 // the last block Update()'d to
	txsBytes int64 // total size of mempool, in bytes

	config *cfg.MempoolConfig

	updateMtx sync.RWMutex
	// takeMtx makes Front+Remove atomic
	takeMtx  sync.Mutex
	preCheck PreCheckFunc

	txs    *clist.CList
	txsMap sync.Map // TxKey -> *clist.CElement

	// Keep a cache of already-seen txs.
	cache txCache

	metric *memMetric
	logger log.Logger
}

var _ Mempool = (*ListMempool)(nil)

type ListMempoolOption func(mem *ListMempool)

// SetPreCheck sets a filter for the mempool to reject a tx if f(tx) returns
// false. This is ran before CheckTx admits the tx.
func SetPreCheck(precheck PreCheckFunc) ListMempoolOption {
	return func(mem *ListMempool) {
		mem.preCheck = precheck
	}
}

func (mem *ListMempool) SetLogger(logger log.Logger) {
	mem.logger = logger
}

// Metric returns the JSON metric item of the pool.
func (mem *ListMempool) Metric() *memMetric {
	return mem.metric
}

func (mem *ListMempool) CheckTx(tx *types.Tx, txInfo TxInfo) error {
	mem.updateMtx.RLock()
	defer mem.updateMtx.RUnlock()

	txSize := len(tx.Bytes())
	if mem.config.MaxTxBytes > 0 && txSize > mem.config.MaxTxBytes {
		return ErrTxTooLarge{mem.config.MaxTxBytes, txSize}
	}
	if err := mem.isFull(txSize); err != nil {
		return err
	}

	if mem.preCheck != nil {
		if err := mem.preCheck(tx); err != nil {
			return ErrPreCheck{err}
		}
	}

	key := TxKey(tx)
	if e, ok := mem.txsMap.Load(key); ok {
		// remember the extra sender so we don't gossip it back
		e.(*clist.CElement).Value.(*mempoolTx).senders.LoadOrStore(txInfo.SenderID, true)
		return ErrTxInMap
	}
	if !mem.cache.Push(key) {
		return ErrTxInCache
	}

	memTx := &mempoolTx{
		height: mem.height,
		tx:     tx,
		size:   int64(txSize),
	}
	memTx.senders.Store(txInfo.SenderID, true)
	mem.addTx(memTx)

	mem.logger.Debug("added tx", "tx", tx.ID(), "type", tx.Type, "peer", txInfo.SenderP2PID, "total", mem.Size())
	return nil
}

// Take implements Mempool.
func (mem *ListMempool) Take() *types.Tx {
	mem.takeMtx.Lock()
	defer mem.takeMtx.Unlock()

	e := mem.txs.Front()
	if e == nil {
		return nil
	}
	memTx := e.Value.(*mempoolTx)
	mem.removeTx(memTx.tx, e)
	mem.metric.MarkTaken()
	return memTx.tx
}

// Requeue implements Mempool. Requeued txs skip the cache and pre-check.
func (mem *ListMempool) Requeue(tx *types.Tx) error {
	mem.takeMtx.Lock()
	defer mem.takeMtx.Unlock()

	if _, ok := mem.txsMap.Load(TxKey(tx)); ok {
		return ErrTxInMap
	}
	mem.addTx(&mempoolTx{height: atomic.LoadInt64(&mem.height), tx: tx, size: int64(len(tx.Bytes()))})
	mem.metric.MarkRequeued()
	return nil
}

// FindOutput implements Mempool.
func (mem *ListMempool) FindOutput(op types.OutPoint) (types.TxOutput, bool) {
	var key [TxKeySize]byte
	copy(key[:], op.TxID)
	e, ok := mem.txsMap.Load(key)
	if !ok {
		return types.TxOutput{}, false
	}
	tx := e.(*clist.CElement).Value.(*mempoolTx).tx
	if int(op.Index) >= len(tx.Outputs) {
		return types.TxOutput{}, false
	}
	return tx.Outputs[op.Index], true
}

// Lock locks the write side of updateMtx.
func (mem *ListMempool) Lock() {
	mem.updateMtx.Lock()
}

// Unlock unlocks the write side of updateMtx.
func (mem *ListMempool) Unlock() {
	mem.updateMtx.Unlock()
}

// Update implements Mempool. The caller must hold Lock.
func (mem *ListMempool) Update(height int64, txs types.Txs) error {
	atomic.StoreInt64(&mem.height, height)

	mem.takeMtx.Lock()
	defer mem.takeMtx.Unlock()

	removed := 0
	for _, tx := range txs {
		key := TxKey(tx)
		// committed txs must never be admitted again
		mem.cache.Push(key)
		if e, ok := mem.txsMap.Load(key); ok {
			mem.removeTx(tx, e.(*clist.CElement))
			removed++
		}
	}
	if removed > 0 {
		mem.logger.Debug("removed committed txs", "height", height, "removed", removed, "left", mem.Size())
	}
	return nil
}

func (mem *ListMempool) Flush() {
	mem.updateMtx.Lock()
	defer mem.updateMtx.Unlock()
	mem.takeMtx.Lock()
	defer mem.takeMtx.Unlock()

	mem.cache.Reset()
	for e := mem.txs.Front(); e != nil; e = e.Next() {
		mem.removeTx(e.Value.(*mempoolTx).tx, e)
	}
}

func (mem *ListMempool) Size() int {
	return mem.txs.Len()
}

func (mem *ListMempool) TxsBytes() int64 {
	return atomic.LoadInt64(&mem.txsBytes)
}

func (mem *ListMempool) TxsWaitChan() <-chan struct{} {
	return mem.txs.WaitChan()
}

func (mem *ListMempool) TxsFront() *clist.CElement {
	return mem.txs.Front()
}

func (mem *ListMempool) isFull(txSize int) error {
	var (
		memSize  = mem.Size()
		txsBytes = mem.TxsBytes()
	)
	if memSize >= mem.config.Size || int64(txSize)+txsBytes > mem.config.MaxTxsBytes {
		return ErrMempoolIsFull{memSize, mem.config.Size, txsBytes, mem.config.MaxTxsBytes}
	}
	return nil
}

// addTx pushes memTx onto the list and updates the lookup map and byte count.
func (mem *ListMempool) addTx(memTx *mempoolTx) {
	e := mem.txs.PushBack(memTx)
	mem.txsMap.Store(TxKey(memTx.tx), e)
	atomic.AddInt64(&mem.txsBytes, memTx.size)
	mem.metric.MarkPool(mem.txs.Len(), atomic.LoadInt64(&mem.txsBytes))
}

func (mem *ListMempool) removeTx(tx *types.Tx, e *clist.CElement) {
	mem.txs.Remove(e)
	e.DetachPrev()
	mem.txsMap.Delete(TxKey(tx))
	atomic.AddInt64(&mem.txsBytes, -e.Value.(*mempoolTx).size)
	mem.metric.MarkPool(mem.txs.Len(), atomic.LoadInt64(&mem.txsBytes))
}

// ------------------------------

type txCache interface {
	Reset()
	// Push adds key and returns false if it was already present.
	Push(key [TxKeySize]byte) bool
	Remove(key [TxKeySize]byte)
}

type lruTxCache struct {
	cache *lru.Cache
}

func newLRUTxCache(size int) *lruTxCache {
	c, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &lruTxCache{cache: c}
}

func (c *lruTxCache) Reset() {
	c.cache.Purge()
}

func (c *lruTxCache) Push(key [TxKeySize]byte) bool {
	found, _ := c.cache.ContainsOrAdd(key, struct{}{})
	return !found
}

func (c *lruTxCache) Remove(key [TxKeySize]byte) {
	c.cache.Remove(key)
}

type nopTxCache struct{}

func (nopTxCache) Reset()                      {}
func (nopTxCache) Push(_ [TxKeySize]byte) bool { return true }
func (nopTxCache) Remove(_ [TxKeySize]byte)    {}

type mempoolTx struct {
	height int64
	size   int64

	tx      *types.Tx
	senders sync.Map
}

// Height returns the height for this transaction
func (memTx *mempoolTx) Height() int64 {
	return atomic.LoadInt64(&memTx.height)
}

// ------------------------------

// TxKey is the fixed length tx id used as the key in maps.
func TxKey(tx *types.Tx) [TxKeySize]byte {
	var key [TxKeySize]byte
	copy(key[:], tx.ID())
	return key
}
