package state_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"

	"slotchain/state"
	"slotchain/types"
)

// gappedStore loses the block at one height.
type gappedStore struct {
	state.ChainStore
	missing int64
}

func (s gappedStore) BlockAtHeight(height int64) (*types.Block, error) {
	if height == s.missing {
		return nil, nil
	}
	return s.ChainStore.BlockAtHeight(height)
}

func identities(ms types.Members) []string {
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.IdentityHash.String()
	}
	return ids
}

func TestMemberPoolLoadsGenesis(t *testing.T) {
	f := newFixture(t)

	members, height := f.pool.Snapshot()
	assert.EqualValues(t, 0, height)
	assert.Len(t, members, len(memberKeys))
	for _, k := range memberKeys {
		assert.True(t, f.pool.Contains(k.PubKey().Address()))
	}
	assert.ElementsMatch(t, identities(f.genDoc.InitialMembers()), identities(members))
}

func TestMemberPoolRejectsGap(t *testing.T) {
	f := newFixture(t)

	b := types.MakeBlock(types.Header{ChainID: testChainID, Height: 5}, nil)
	assert.Error(t, f.pool.ApplyBlock(b))
	_, height := f.pool.Snapshot()
	assert.EqualValues(t, 0, height)
}

func TestMembershipFollowsCommittedChanges(t *testing.T) {
	f := newFixture(t)
	dave := types.NewMember("dave", ed25519.GenPrivKeyFromSecret([]byte("dave")).PubKey())
	alice, ok := f.pool.Get(memberKeys[0].PubKey().Address())
	require.True(t, ok)

	exec := f.executor(memberKeys[1], f.chain)

	f.mempool.Txs = types.Txs{registerTx(t, dave)}
	_, err := exec.ProduceBlock(f.round(memberKeys[1]), nil)
	require.NoError(t, err)
	assert.True(t, f.pool.Contains(dave.IdentityHash))

	f.mempool.Txs = types.Txs{deregisterTx(t, alice)}
	_, err = exec.ProduceBlock(f.round(memberKeys[1]), nil)
	require.NoError(t, err)
	assert.False(t, f.pool.Contains(alice.IdentityHash))
	assert.Equal(t, len(memberKeys), f.pool.Size())

	at0, err := state.MembershipAt(f.chain, f.pool, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, identities(f.genDoc.InitialMembers()), identities(at0))

	at1, err := state.MembershipAt(f.chain, f.pool, 1)
	require.NoError(t, err)
	assert.Len(t, at1, len(memberKeys)+1)
	assert.Contains(t, identities(at1), dave.IdentityHash.String())
	assert.Contains(t, identities(at1), alice.IdentityHash.String())

	at2, err := state.MembershipAt(f.chain, f.pool, 2)
	require.NoError(t, err)
	live, _ := f.pool.Snapshot()
	assert.Equal(t, identities(live), identities(at2))

	_, err = state.MembershipAt(f.chain, f.pool, 3)
	assert.Error(t, err)

	// a pool rebuilt from storage agrees with the live one
	reloaded, err := state.LoadMemberPool(f.chain)
	require.NoError(t, err)
	rm, rh := reloaded.Snapshot()
	assert.EqualValues(t, 2, rh)
	assert.Equal(t, identities(live), identities(rm))
}

func TestMembershipAtMissingBlock(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)
	for i := 0; i < 2; i++ {
		_, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
		require.NoError(t, err)
	}

	_, err := state.MembershipAt(gappedStore{ChainStore: f.chain, missing: 2}, f.pool, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrMissingHistoricalBlock))

	// heights above the gap are not needed
	_, err = state.MembershipAt(gappedStore{ChainStore: f.chain, missing: 1}, f.pool, 1)
	assert.NoError(t, err)
}

func TestMemberPoolIgnoresOtherTxs(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)

	f.mempool.Txs = types.Txs{transfer(t, f.alloc(0), 50)}
	_, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)

	members, height := f.pool.Snapshot()
	assert.EqualValues(t, 1, height)
	assert.Len(t, members, len(memberKeys))
	_, ok := f.pool.Get(crypto.Address(ownerKey.PubKey().Address()))
	assert.False(t, ok)
}
