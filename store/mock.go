package store

import (
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"
)

// NewMockStore returns a BlockStore on an in-memory database.
func NewMockStore() *BlockStore {
	return NewBlockStoreWithDB(memdb.NewDB(), log.NewNopLogger())
}
