package consensus

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bitset"
	lru "github.com/hashicorp/golang-lru"
	"github.com/tendermint/tendermint/crypto/tmhash"

	"slotchain/types"
)

// messageCache remembers round messages by id. Gossiped messages keep their
// body so they can be served to peers asking for them.
type messageCache struct {
	cache *lru.Cache
}

func newMessageCache(size int) *messageCache {
	cache, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &messageCache{cache: cache}
}

// Add records id and reports whether it was new.
func (c *messageCache) Add(id []byte, msg *types.RoundMessage) bool {
	found, _ := c.cache.ContainsOrAdd(string(id), msg)
	return !found
}

func (c *messageCache) Has(id []byte) bool {
	return c.cache.Contains(string(id))
}

// Get returns the stored message, nil if unknown or not kept.
func (c *messageCache) Get(id []byte) *types.RoundMessage {
	v, ok := c.cache.Get(string(id))
	if !ok {
		return nil
	}
	msg, _ := v.(*types.RoundMessage)
	return msg
}

//-----------------------------------------------------------------------------

const (
	filterBits    = 1 << 16
	filterHashes  = 4
	filterEntries = 4096
)

// suppressFilter is a bloom filter of hashes this node announced itself.
// It is cleared once it holds filterEntries hashes to bound false positives.
type suppressFilter struct {
	mtx   sync.Mutex
	bits  *bitset.BitSet
	count int
}

func newSuppressFilter() *suppressFilter {
	return &suppressFilter{bits: bitset.New(filterBits)}
}

func (f *suppressFilter) Add(hash []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if f.count >= filterEntries {
		f.bits.ClearAll()
		f.count = 0
	}
	for _, idx := range filterIndexes(hash) {
		f.bits.Set(idx)
	}
	f.count++
}

// Test reports whether hash may have been added.
func (f *suppressFilter) Test(hash []byte) bool {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	for _, idx := range filterIndexes(hash) {
		if !f.bits.Test(idx) {
			return false
		}
	}
	return true
}

func filterIndexes(hash []byte) [filterHashes]uint {
	if len(hash) < 8*filterHashes {
		hash = tmhash.Sum(hash)
	}
	var idx [filterHashes]uint
	for i := range idx {
		idx[i] = uint(binary.BigEndian.Uint64(hash[8*i:]) % filterBits)
	}
	return idx
}
