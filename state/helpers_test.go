package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tm-db/memdb"

	cstypes "slotchain/consensus/types"
	mempoolmock "slotchain/mempool/mock"
	slotmock "slotchain/slot/mock"
	"slotchain/state"
	"slotchain/store"
	"slotchain/types"
)

const (
	testChainID  = "state-chain"
	genesisTime  = 1000
	testInterval = 10
	testMaturity = 2
)

var (
	authorityKey = ed25519.GenPrivKeyFromSecret([]byte("authority"))
	ownerKey     = ed25519.GenPrivKeyFromSecret([]byte("owner"))
	memberKeys   = []crypto.PrivKey{
		ed25519.GenPrivKeyFromSecret([]byte("alice")),
		ed25519.GenPrivKeyFromSecret([]byte("bob")),
		ed25519.GenPrivKeyFromSecret([]byte("carol")),
	}
)

type keySigner struct{ priv crypto.PrivKey }

func (s keySigner) IdentityHash() types.Address { return s.priv.PubKey().Address() }
func (s keySigner) PubKeys() []crypto.PubKey    { return []crypto.PubKey{s.priv.PubKey()} }
func (s keySigner) Sign(msg []byte) ([][]byte, error) {
	sig, err := s.priv.Sign(msg)
	return [][]byte{sig}, err
}

type fixture struct {
	genDoc   *types.GenesisDoc
	genesis  *types.Block
	chain    *store.BlockStore
	pool     *state.MemberPool
	mempool  *mempoolmock.Mempool
	clock    *slotmock.Clock
	verifier types.Verifier
}

func newFixture(t *testing.T) *fixture {
	genDoc := &types.GenesisDoc{
		ChainID:          testChainID,
		GenesisTime:      genesisTime,
		BlockInterval:    testInterval,
		CoinbaseMaturity: testMaturity,
		Authority:        authorityKey.PubKey(),
		Alloc: []types.GenesisAlloc{
			{Owner: ownerKey.PubKey().Address(), Value: 50},
			{Owner: ownerKey.PubKey().Address(), Value: 30},
			{Owner: ownerKey.PubKey().Address(), Value: 20},
		},
	}
	for i, k := range memberKeys {
		genDoc.Members = append(genDoc.Members, types.GenesisMember{
			Name:    []string{"alice", "bob", "carol"}[i],
			PubKeys: []crypto.PubKey{k.PubKey()},
		})
	}
	require.NoError(t, genDoc.ValidateAndComplete())

	chain := store.NewBlockStoreWithDB(memdb.NewDB(), log.TestingLogger())
	genesis := genDoc.Block()
	require.NoError(t, chain.SaveBlock(genesis))

	pool, err := state.LoadMemberPool(chain)
	require.NoError(t, err)
	chain.Subscribe("member-pool", func(b *types.Block) {
		require.NoError(t, pool.ApplyBlock(b))
	})

	return &fixture{
		genDoc:   genDoc,
		genesis:  genesis,
		chain:    chain,
		pool:     pool,
		mempool:  &mempoolmock.Mempool{},
		clock:    slotmock.NewClock(genesisTime),
		verifier: types.NewSignatureVerifier(testChainID, authorityKey.PubKey()),
	}
}

// round returns the round starting at the genesis time with key as local member.
func (f *fixture) round(key crypto.PrivKey) cstypes.Round {
	members, _ := f.pool.Snapshot()
	best, _ := f.chain.BestHeader()
	return cstypes.ComputeRound(genesisTime, best.Height, testInterval, members, key.PubKey().Address())
}

func (f *fixture) executor(key crypto.PrivKey, chain state.ChainStore) state.BlockExecutor {
	exec := state.NewBlockExec(state.MakeGenesisState(f.genDoc), chain, f.pool, f.mempool, f.verifier,
		keySigner{key}, state.WithClock(f.clock))
	exec.SetLogger(log.TestingLogger())
	return exec
}

// alloc returns the genesis allocation output i.
func (f *fixture) alloc(i int) types.OutPoint {
	return f.genesis.Txs[0].OutPoint(i)
}

func transfer(t *testing.T, prev types.OutPoint, value uint64) *types.Tx {
	tx := &types.Tx{
		Type:    types.TxTransfer,
		Inputs:  []types.TxInput{{Prev: prev}},
		Outputs: []types.TxOutput{{Value: value, Owner: ownerKey.PubKey().Address()}},
	}
	require.NoError(t, tx.Sign(ownerKey))
	return tx
}

func registerTx(t *testing.T, m types.Member) *types.Tx {
	sig, err := authorityKey.Sign(types.RegistrationSignBytes(testChainID, types.TxRegister, m))
	require.NoError(t, err)
	return types.NewRegisterTx(m, sig)
}

func deregisterTx(t *testing.T, m types.Member) *types.Tx {
	sig, err := authorityKey.Sign(types.RegistrationSignBytes(testChainID, types.TxDeregister, m))
	require.NoError(t, err)
	return types.NewDeregisterTx(m, sig)
}
