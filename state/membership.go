package state

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"slotchain/types"
)

// Membership is the live member set as of the latest committed block.
type Membership interface {
	// Snapshot returns the members ordered by identity, and the height of
	// the last block applied to them.
	Snapshot() (types.Members, int64)
	Get(id types.Address) (types.Member, bool)
	Contains(id types.Address) bool
}

// MemberPool follows committed register and deregister transactions.
type MemberPool struct {
	mtx     sync.RWMutex
	members map[string]types.Member
	height  int64

	logger log.Logger
}

var _ Membership = (*MemberPool)(nil)

// NewMemberPool returns an empty pool that expects the genesis block next.
func NewMemberPool() *MemberPool {
	return &MemberPool{
		members: make(map[string]types.Member),
		height:  -1,
		logger:  log.NewNopLogger(),
	}
}

// LoadMemberPool replays every stored block from genesis.
func LoadMemberPool(chain ChainStore) (*MemberPool, error) {
	pool := NewMemberPool()
	best, err := chain.BestHeader()
	if err != nil {
		return nil, err
	}
	if best == nil {
		return pool, nil
	}
	for h := int64(0); h <= best.Height; h++ {
		block, err := chain.BlockAtHeight(h)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, errors.Wrapf(ErrMissingHistoricalBlock, "height %d", h)
		}
		if err := pool.ApplyBlock(block); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func (pool *MemberPool) SetLogger(l log.Logger) {
	pool.logger = l
}

// ApplyBlock moves the pool forward by one committed block.
func (pool *MemberPool) ApplyBlock(block *types.Block) error {
	pool.mtx.Lock()
	defer pool.mtx.Unlock()

	if block.Height != pool.height+1 {
		return fmt.Errorf("member pool at height %d cannot apply block %d", pool.height, block.Height)
	}
	for _, tx := range block.Txs {
		if applyMemberChange(pool.members, tx, true) {
			pool.logger.Info("membership changed", "type", tx.Type, "height", block.Height, "members", len(pool.members))
		}
	}
	pool.height = block.Height
	return nil
}

func (pool *MemberPool) Snapshot() (types.Members, int64) {
	pool.mtx.RLock()
	defer pool.mtx.RUnlock()
	return sortedMembers(pool.members), pool.height
}

func (pool *MemberPool) Get(id types.Address) (types.Member, bool) {
	pool.mtx.RLock()
	defer pool.mtx.RUnlock()
	m, ok := pool.members[string(id)]
	return m, ok
}

func (pool *MemberPool) Contains(id types.Address) bool {
	_, ok := pool.Get(id)
	return ok
}

func (pool *MemberPool) Size() int {
	pool.mtx.RLock()
	defer pool.mtx.RUnlock()
	return len(pool.members)
}

// MembershipAt reconstructs the member set as it was right after the block at
// height was committed, by undoing the changes of every later block.
func MembershipAt(chain ChainStore, pool Membership, height int64) (types.Members, error) {
	members, poolHeight := pool.Snapshot()
	if height > poolHeight {
		return nil, fmt.Errorf("membership at %d requested, pool is at %d", height, poolHeight)
	}
	if height == poolHeight {
		return members, nil
	}

	set := make(map[string]types.Member, len(members))
	for _, m := range members {
		set[string(m.IdentityHash)] = m
	}
	for h := poolHeight; h > height; h-- {
		block, err := chain.BlockAtHeight(h)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return nil, errors.Wrapf(ErrMissingHistoricalBlock, "height %d", h)
		}
		for i := len(block.Txs) - 1; i >= 0; i-- {
			applyMemberChange(set, block.Txs[i], false)
		}
	}
	return sortedMembers(set), nil
}

// applyMemberChange applies tx to set, or reverts it when forward is false.
func applyMemberChange(set map[string]types.Member, tx *types.Tx, forward bool) bool {
	var (
		m   types.Member
		add bool
	)
	switch tx.Type {
	case types.TxRegister:
		m, add = tx.Registration.Member, forward
	case types.TxDeregister:
		m, add = tx.Deregistration.Member, !forward
	default:
		return false
	}
	if add {
		set[string(m.IdentityHash)] = m
	} else {
		delete(set, string(m.IdentityHash))
	}
	return true
}

func sortedMembers(set map[string]types.Member) types.Members {
	ms := make(types.Members, 0, len(set))
	for _, m := range set {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		return bytes.Compare(ms[i].IdentityHash, ms[j].IdentityHash) < 0
	})
	return ms
}
