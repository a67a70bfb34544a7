package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/events"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"

	"slotchain/state"
	"slotchain/types"
)

const (
	// EventBlockCommitted fires with the *types.Block after it is persisted.
	EventBlockCommitted = "BlockCommitted"

	tableBlock    = "B"
	tableHeight   = "H"
	tableTx       = "T"
	tableUTXO     = "U"
	tableEvidence = "E"
)

var keyBest = []byte("best")

var (
	ErrNotExtendingBest  = errors.New("block does not extend the best block")
	ErrDuplicateTx       = errors.New("transaction already committed")
	ErrDuplicateEvidence = errors.New("evidence already committed")
	ErrMissingInput      = errors.New("input is not an unspent output")
	ErrImmatureInput     = errors.New("input is not mature")
)

var _ state.ChainStore = (*BlockStore)(nil)

// BlockStore keeps blocks, the height index, the tx index, the UTXO set and
// the evidence index in one tm-db database.
type BlockStore struct {
	db     tmdb.DB
	evsw   events.EventSwitch
	logger log.Logger

	// serializes SaveBlock and commit events
	saveMtx sync.Mutex
}

func NewBlockStore(name, dir string, logger log.Logger) (*BlockStore, error) {
	db, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s in %s", name, dir)
	}
	return NewBlockStoreWithDB(db, logger), nil
}

func NewBlockStoreWithDB(db tmdb.DB, logger log.Logger) *BlockStore {
	return &BlockStore{db: db, evsw: events.NewEventSwitch(), logger: logger}
}

func (bs *BlockStore) SetLogger(l log.Logger) {
	bs.logger = l
}

// Subscribe registers fn to run synchronously after every committed block.
func (bs *BlockStore) Subscribe(listenerID string, fn func(*types.Block)) {
	bs.evsw.AddListenerForEvent(listenerID, EventBlockCommitted, func(data events.EventData) {
		fn(data.(*types.Block))
	})
}

func (bs *BlockStore) Close() error {
	return bs.db.Close()
}

// Height returns the best height, or -1 for an empty store.
func (bs *BlockStore) Height() int64 {
	h, err := bs.BestHeader()
	if err != nil || h == nil {
		return -1
	}
	return h.Height
}

func (bs *BlockStore) BestHeader() (*types.Header, error) {
	hash, err := bs.db.Get(keyBest)
	if err != nil || hash == nil {
		return nil, err
	}
	b, err := bs.BlockByHash(hash)
	if err != nil || b == nil {
		return nil, err
	}
	return &b.Header, nil
}

func (bs *BlockStore) HeaderAtHeight(height int64) (*types.Header, error) {
	b, err := bs.BlockAtHeight(height)
	if err != nil || b == nil {
		return nil, err
	}
	return &b.Header, nil
}

func (bs *BlockStore) BlockAtHeight(height int64) (*types.Block, error) {
	hash, err := bs.db.Get(heightKey(height))
	if err != nil || hash == nil {
		return nil, err
	}
	return bs.BlockByHash(hash)
}

func (bs *BlockStore) BlockByHash(hash []byte) (*types.Block, error) {
	bz, err := bs.db.Get(genKey(tableBlock, hash))
	if err != nil || bz == nil {
		return nil, err
	}
	b, err := types.BlockFromBytes(bz)
	if err != nil {
		return nil, errors.Wrapf(err, "decode block %X", hash)
	}
	return b, nil
}

func (bs *BlockStore) HasTx(txID []byte) (bool, error) {
	return bs.db.Has(genKey(tableTx, txID))
}

// TxHeight returns the height a transaction was committed at, or -1.
func (bs *BlockStore) TxHeight(txID []byte) (int64, error) {
	bz, err := bs.db.Get(genKey(tableTx, txID))
	if err != nil || bz == nil {
		return -1, err
	}
	return int64(binary.BigEndian.Uint64(bz)), nil
}

func (bs *BlockStore) UTXO(op types.OutPoint) (*types.UTXO, error) {
	bz, err := bs.db.Get(utxoKey(op))
	if err != nil || bz == nil {
		return nil, err
	}
	u := new(types.UTXO)
	if err := tmjson.Unmarshal(bz, u); err != nil {
		return nil, errors.Wrapf(err, "decode utxo %v", op)
	}
	return u, nil
}

// UTXOsByOwner scans the UTXO set for outputs owned by owner.
func (bs *BlockStore) UTXOsByOwner(owner types.Address) ([]types.UTXO, error) {
	prefix := []byte(tableUTXO + ":")
	it, err := bs.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var res []types.UTXO
	for ; it.Valid(); it.Next() {
		var u types.UTXO
		if err := tmjson.Unmarshal(it.Value(), &u); err != nil {
			return nil, err
		}
		if bytes.Equal(u.Output.Owner, owner) {
			res = append(res, u)
		}
	}
	return res, it.Error()
}

func (bs *BlockStore) HasEvidence(evidenceHash []byte) (bool, error) {
	return bs.db.Has(genKey(tableEvidence, evidenceHash))
}

// SaveBlock validates that block extends the best block without reusing
// committed transactions, spent outputs or recorded evidence, then commits it
// atomically and fires EventBlockCommitted.
func (bs *BlockStore) SaveBlock(block *types.Block) error {
	bs.saveMtx.Lock()
	defer bs.saveMtx.Unlock()

	if err := block.ValidateBasic(); err != nil {
		return errors.Wrap(err, "invalid block")
	}
	best, err := bs.BestHeader()
	if err != nil {
		return err
	}
	switch {
	case best == nil && !block.IsGenesis():
		return errors.Wrapf(ErrNotExtendingBest, "store is empty, got height %d", block.Height)
	case best != nil && (block.Height != best.Height+1 || !bytes.Equal(block.PrevHash, best.Hash())):
		return errors.Wrapf(ErrNotExtendingBest, "block %d prev %v, best %d %v",
			block.Height, block.PrevHash, best.Height, best.Hash())
	}

	batch := bs.db.NewBatch()
	defer batch.Close()

	if err := bs.applyTxs(batch, block); err != nil {
		return err
	}

	hash := block.Hash()
	if err := batch.Set(genKey(tableBlock, hash), block.Bytes()); err != nil {
		return err
	}
	if err := batch.Set(heightKey(block.Height), hash); err != nil {
		return err
	}
	if err := batch.Set(keyBest, hash); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrap(err, "write block")
	}

	bs.logger.Debug("saved block", "height", block.Height, "hash", hash, "txs", len(block.Txs))
	bs.evsw.FireEvent(EventBlockCommitted, block)
	return nil
}

func (bs *BlockStore) applyTxs(batch tmdb.Batch, block *types.Block) error {
	created := make(map[string]types.UTXO)
	spent := make(map[string]struct{})
	seenTx := make(map[string]struct{})
	seenEvidence := make(map[string]struct{})
	height := int64Bytes(block.Height)

	for _, tx := range block.Txs {
		id := tx.ID()
		if tx.Type == types.TxViolation {
			eh := tx.Violation.EvidenceHash()
			if _, ok := seenEvidence[string(eh)]; ok {
				return errors.Wrapf(ErrDuplicateEvidence, "%v repeated in block", eh)
			}
			seenEvidence[string(eh)] = struct{}{}
			has, err := bs.HasEvidence(eh)
			if err != nil {
				return err
			}
			if has {
				return errors.Wrapf(ErrDuplicateEvidence, "%v", eh)
			}
			if err := batch.Set(genKey(tableEvidence, eh), height); err != nil {
				return err
			}
		}

		if _, ok := seenTx[string(id)]; ok {
			return errors.Wrapf(ErrDuplicateTx, "%v repeated in block", id)
		}
		seenTx[string(id)] = struct{}{}
		has, err := bs.HasTx(id)
		if err != nil {
			return err
		}
		if has {
			return errors.Wrapf(ErrDuplicateTx, "%v", id)
		}

		for _, in := range tx.Inputs {
			key := in.Prev.Key()
			if _, ok := spent[key]; ok {
				return errors.Wrapf(ErrMissingInput, "%v spent twice in block", in.Prev)
			}
			spent[key] = struct{}{}
			if _, ok := created[key]; ok {
				delete(created, key)
				continue
			}
			u, err := bs.UTXO(in.Prev)
			if err != nil {
				return err
			}
			if u == nil {
				return errors.Wrapf(ErrMissingInput, "%v", in.Prev)
			}
			if !u.Spendable(block.Height) {
				return errors.Wrapf(ErrImmatureInput, "%v locked until %d", in.Prev, u.LockHeight)
			}
			if err := batch.Delete(utxoKey(in.Prev)); err != nil {
				return err
			}
		}

		for i, out := range tx.Outputs {
			op := types.OutPoint{TxID: id, Index: uint32(i)}
			created[op.Key()] = types.UTXO{OutPoint: op, Output: out, Height: block.Height, LockHeight: tx.LockHeight}
		}

		if err := batch.Set(genKey(tableTx, id), height); err != nil {
			return err
		}
	}

	for _, u := range created {
		bz, err := tmjson.Marshal(u)
		if err != nil {
			return err
		}
		if err := batch.Set(utxoKey(u.OutPoint), bz); err != nil {
			return err
		}
	}
	return nil
}

// ----------------------------------------------------------------------------

func genKey(table string, pk []byte) []byte {
	return []byte(fmt.Sprintf("%s:%X", table, pk))
}

func heightKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", tableHeight, height))
}

func utxoKey(op types.OutPoint) []byte {
	return []byte(fmt.Sprintf("%s:%s", tableUTXO, op.Key()))
}

func int64Bytes(v int64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, uint64(v))
	return bz
}

func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	end[len(end)-1]++
	return end
}
