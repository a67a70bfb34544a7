package state_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/libs/log"

	mempoolmock "slotchain/mempool/mock"
	"slotchain/state"
	"slotchain/store"
	"slotchain/types"
)

func txIDs(txs types.Txs) []string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID().String()
	}
	return ids
}

func TestProduceBlockHeaderFields(t *testing.T) {
	f := newFixture(t)
	round := f.round(memberKeys[2])
	exec := f.executor(memberKeys[2], f.chain)

	res, err := exec.ProduceBlock(round, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Block)
	assert.False(t, res.HeaderRaced)

	h := res.Block.Header
	assert.EqualValues(t, 1, h.Height)
	assert.Equal(t, f.genesis.Hash(), h.PrevHash)
	assert.Equal(t, round.LocalSlotEnd, h.Timestamp)
	assert.Equal(t, len(memberKeys), h.PeriodCount)
	assert.Equal(t, round.LocalIndex, h.TimePeriod)
	assert.EqualValues(t, 0, h.PeriodStartPoint)
	assert.Equal(t, types.Address(memberKeys[2].PubKey().Address()), h.Producer)

	producer, ok := f.pool.Get(h.Producer)
	require.True(t, ok)
	assert.True(t, producer.VerifySignatures(h.Hash(), h.SignatureBytes()))

	// empty pool still pays a zero coinbase, locked for the maturity period
	require.Len(t, res.Block.Txs, 1)
	cb := res.Block.Txs[0]
	assert.Equal(t, types.TxCoinbase, cb.Type)
	assert.EqualValues(t, 0, cb.Outputs[0].Value)
	assert.EqualValues(t, 1+testMaturity, cb.LockHeight)

	best, err := f.chain.BestHeader()
	require.NoError(t, err)
	assert.Equal(t, h.Hash(), best.Hash())
}

// Two valid transfers and one double spend of a committed, spent output.
func TestProduceBlockDropsDoubleSpend(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)

	f.mempool.Txs = types.Txs{transfer(t, f.alloc(0), 50)}
	_, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)

	valid1 := transfer(t, f.alloc(1), 25) // fee 5
	doubleSpend := transfer(t, f.alloc(0), 40)
	valid2 := transfer(t, f.alloc(2), 18) // fee 2
	f.mempool.Txs = types.Txs{valid1, doubleSpend, valid2}

	res, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)

	assert.Equal(t, txIDs(types.Txs{valid1, valid2}), txIDs(res.Accepted))
	assert.Equal(t, txIDs(types.Txs{doubleSpend}), txIDs(res.Rejected))
	assert.Empty(t, res.Deferred)
	assert.Zero(t, f.mempool.Size())

	txs := res.Block.Txs
	require.Len(t, txs, 3)
	assert.Equal(t, types.TxCoinbase, txs[0].Type)
	assert.EqualValues(t, 7, txs[0].Outputs[0].Value)
	assert.Equal(t, txIDs(types.Txs{valid1, valid2}), txIDs(txs[1:]))
}

func TestProduceBlockChainsWithinBlock(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)

	parent := transfer(t, f.alloc(0), 45)
	child := transfer(t, parent.OutPoint(0), 40)
	grandchild := transfer(t, child.OutPoint(0), 41)
	f.mempool.Txs = types.Txs{parent, child, grandchild}

	res, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Equal(t, txIDs(types.Txs{parent, child}), txIDs(res.Accepted))
	assert.Equal(t, txIDs(types.Txs{grandchild}), txIDs(res.Rejected))
	assert.EqualValues(t, 10, res.Block.Txs[0].Outputs[0].Value)

	u, err := f.chain.UTXO(child.OutPoint(0))
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.EqualValues(t, 40, u.Output.Value)
}

func TestProduceBlockDefersOutOfOrderSpend(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)

	parent := transfer(t, f.alloc(0), 50)
	child := transfer(t, parent.OutPoint(0), 50)
	f.mempool.Txs = types.Txs{child, parent}

	res, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Equal(t, txIDs(types.Txs{parent}), txIDs(res.Accepted))
	assert.Equal(t, txIDs(types.Txs{child}), txIDs(res.Deferred))
	assert.Equal(t, txIDs(types.Txs{child}), txIDs(f.mempool.Txs))

	res, err = exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Equal(t, txIDs(types.Txs{child}), txIDs(res.Accepted))
}

func TestProduceBlockDefersImmatureCoinbase(t *testing.T) {
	f := newFixture(t)
	producer := memberKeys[0]
	exec := f.executor(producer, f.chain)

	f.mempool.Txs = types.Txs{transfer(t, f.alloc(0), 45)}
	res, err := exec.ProduceBlock(f.round(producer), nil)
	require.NoError(t, err)
	reward := res.Block.Txs[0]
	require.EqualValues(t, 5, reward.Outputs[0].Value)

	spendReward := &types.Tx{
		Type:    types.TxTransfer,
		Inputs:  []types.TxInput{{Prev: reward.OutPoint(0)}},
		Outputs: []types.TxOutput{{Value: 5, Owner: ownerKey.PubKey().Address()}},
	}
	require.NoError(t, spendReward.Sign(producer))

	// spendable from height 1+maturity
	for h := int64(2); h < 1+testMaturity; h++ {
		f.mempool.Txs = types.Txs{spendReward}
		res, err = exec.ProduceBlock(f.round(producer), nil)
		require.NoError(t, err)
		assert.Equal(t, txIDs(types.Txs{spendReward}), txIDs(res.Deferred), "height %d", h)
	}

	res, err = exec.ProduceBlock(f.round(producer), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1+testMaturity, res.Block.Height)
	assert.Equal(t, txIDs(types.Txs{spendReward}), txIDs(res.Accepted))
}

func TestProduceBlockRejectsInvalidTxs(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)

	committed := transfer(t, f.alloc(0), 50)
	f.mempool.Txs = types.Txs{committed}
	_, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)

	badSig := transfer(t, f.alloc(1), 30)
	badSig.Inputs[0].Signature = make([]byte, 64)

	stranger := ed25519.GenPrivKeyFromSecret([]byte("stranger"))
	notOwner := &types.Tx{
		Type:    types.TxTransfer,
		Inputs:  []types.TxInput{{Prev: f.alloc(1)}},
		Outputs: []types.TxOutput{{Value: 30, Owner: stranger.PubKey().Address()}},
	}
	require.NoError(t, notOwner.Sign(stranger))

	overspend := transfer(t, f.alloc(2), 21)
	unknownInput := transfer(t, types.OutPoint{TxID: types.DoubleSha256([]byte("nowhere"))}, 1)
	coinbase := types.NewCoinbaseTx(ownerKey.PubKey().Address(), 1000, 2, testMaturity)

	invalid := types.Txs{committed, badSig, notOwner, overspend, unknownInput, coinbase}
	f.mempool.Txs = append(types.Txs{}, invalid...)

	res, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	assert.Empty(t, res.Deferred)
	assert.Equal(t, txIDs(invalid), txIDs(res.Rejected))
	assert.Len(t, res.Block.Txs, 1)
}

func TestProduceBlockMembershipChanges(t *testing.T) {
	f := newFixture(t)
	exec := f.executor(memberKeys[0], f.chain)
	dave := types.NewMember("dave", ed25519.GenPrivKeyFromSecret([]byte("dave")).PubKey())
	bob, _ := f.pool.Get(memberKeys[1].PubKey().Address())

	unsigned := types.NewRegisterTx(dave, nil)
	again := registerTx(t, bob)
	fakeBob := bob
	fakeBob.PubKeys = []crypto.PubKey{ed25519.GenPrivKeyFromSecret([]byte("mallory")).PubKey()}
	wrongRecord := deregisterTx(t, fakeBob)
	stranger := deregisterTx(t, types.NewMember("eve", ed25519.GenPrivKeyFromSecret([]byte("eve")).PubKey()))
	register := registerTx(t, dave)
	deregister := deregisterTx(t, bob)

	f.mempool.Txs = types.Txs{unsigned, again, wrongRecord, stranger, register, deregister}
	res, err := exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Equal(t, txIDs(types.Txs{register, deregister}), txIDs(res.Accepted))
	assert.Equal(t, txIDs(types.Txs{unsigned, again, wrongRecord, stranger}), txIDs(res.Rejected))

	assert.True(t, f.pool.Contains(dave.IdentityHash))
	assert.False(t, f.pool.Contains(bob.IdentityHash))

	// dave is now registered
	f.mempool.Txs = types.Txs{registerTx(t, dave)}
	res, err = exec.ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Len(t, res.Rejected, 1)
}

// A missed slot is recorded once. Later producers skip it, and an
// independently built violation transaction for it is dropped.
func TestProduceBlockRecordsViolationOnce(t *testing.T) {
	f := newFixture(t)
	round := f.round(memberKeys[0])
	carol := types.Address(memberKeys[2].PubKey().Address())
	rec := types.NewMissedSlotRecord(carol, round.StartHeight, round.StartTime, round.Members.IndexOf(carol))

	res, err := f.executor(memberKeys[0], f.chain).ProduceBlock(round, []types.ViolationRecord{rec, rec})
	require.NoError(t, err)
	require.Len(t, res.Block.Txs, 2)
	vtx := res.Block.Txs[1]
	assert.Equal(t, types.TxViolation, vtx.Type)
	assert.Equal(t, rec.EvidenceHash(), vtx.Violation.EvidenceHash())

	recorded, err := f.chain.HasEvidence(rec.EvidenceHash())
	require.NoError(t, err)
	assert.True(t, recorded)

	f.mempool.Txs = types.Txs{types.NewViolationTx(rec)}
	res, err = f.executor(memberKeys[1], f.chain).ProduceBlock(f.round(memberKeys[1]), []types.ViolationRecord{rec})
	require.NoError(t, err)
	assert.Len(t, res.Rejected, 1)
	require.Len(t, res.Block.Txs, 1)

	// the store refuses a block carrying the same evidence
	dup := types.MakeBlock(types.Header{
		ChainID:          testChainID,
		Height:           res.Block.Height + 1,
		PrevHash:         res.Block.Hash(),
		Timestamp:        res.Block.Timestamp + testInterval,
		PeriodCount:      len(memberKeys),
		PeriodStartPoint: 0,
	}, types.Txs{types.NewViolationTx(rec)})
	require.NoError(t, types.SignHeader(keySigner{memberKeys[0]}, &dup.Header))
	err = f.chain.SaveBlock(dup)
	assert.True(t, errors.Is(err, store.ErrDuplicateEvidence), "got %v", err)
}

func TestProduceBlockRejectsForeignEquivocation(t *testing.T) {
	f := newFixture(t)
	bob := memberKeys[1]

	a := types.Header{ChainID: testChainID, Height: 1, PrevHash: f.genesis.Hash(), Timestamp: 1010,
		PeriodCount: 3, TimePeriod: 1, PeriodStartPoint: 0, TxsHash: types.Txs{}.Hash()}
	b := a
	b.Timestamp = 1011
	require.NoError(t, types.SignHeader(keySigner{bob}, &a))
	require.NoError(t, types.SignHeader(keySigner{bob}, &b))
	good := types.NewViolationTx(types.NewEquivocationRecord(a, b))

	// headers signed by carol but attributed to bob
	c, d := a, b
	require.NoError(t, types.SignHeader(keySigner{memberKeys[2]}, &c))
	require.NoError(t, types.SignHeader(keySigner{memberKeys[2]}, &d))
	c.Producer, d.Producer = a.Producer, b.Producer
	forged := types.NewViolationTx(types.NewEquivocationRecord(c, d))

	f.mempool.Txs = types.Txs{forged, good}
	res, err := f.executor(memberKeys[0], f.chain).ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	assert.Equal(t, txIDs(types.Txs{good}), txIDs(res.Accepted))
	assert.Equal(t, txIDs(types.Txs{forged}), txIDs(res.Rejected))
}

func TestProduceBlockStopsAtBudget(t *testing.T) {
	f := newFixture(t)
	round := f.round(memberKeys[0])
	pending := types.Txs{transfer(t, f.alloc(0), 50), transfer(t, f.alloc(1), 30)}

	exec := state.NewBlockExec(state.MakeGenesisState(f.genDoc), f.chain, f.pool, f.mempool, f.verifier,
		keySigner{memberKeys[0]}, state.WithClock(f.clock), state.WithMaxBlockTxs(1))
	f.mempool.Txs = append(types.Txs{}, pending...)
	res, err := exec.ProduceBlock(round, nil)
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 1)
	assert.Equal(t, 1, f.mempool.Size())

	// past the assembly deadline nothing is taken
	f.clock.Set(round.LocalSlotEnd - 1)
	exec = state.NewBlockExec(state.MakeGenesisState(f.genDoc), f.chain, f.pool, f.mempool, f.verifier,
		keySigner{memberKeys[0]}, state.WithClock(f.clock), state.WithAssemblyReserve(2*time.Second))
	res, err = exec.ProduceBlock(round, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)
	assert.Len(t, res.Block.Txs, 1)
	assert.Equal(t, 1, f.mempool.Size())
}

func TestProduceBlockNeedsLocalSlot(t *testing.T) {
	f := newFixture(t)
	observer := ed25519.GenPrivKeyFromSecret([]byte("observer"))

	_, err := f.executor(observer, f.chain).ProduceBlock(f.round(observer), nil)
	assert.True(t, errors.Is(err, state.ErrProductionFailure))

	exec := state.NewBlockExec(state.MakeGenesisState(f.genDoc), f.chain, f.pool, f.mempool, f.verifier, nil)
	_, err = exec.ProduceBlock(f.round(memberKeys[0]), nil)
	assert.True(t, errors.Is(err, state.ErrProductionFailure))
}

// racingStore lets another producer commit a block between the two best
// header reads of a production attempt.
type racingStore struct {
	state.ChainStore
	reads int
	race  func()
}

func (s *racingStore) BestHeader() (*types.Header, error) {
	s.reads++
	if s.reads == 2 && s.race != nil {
		s.race()
	}
	return s.ChainStore.BestHeader()
}

func TestProduceBlockDetectsHeaderRace(t *testing.T) {
	f := newFixture(t)
	rival := state.NewBlockExec(state.MakeGenesisState(f.genDoc), f.chain, f.pool, &mempoolmock.Mempool{},
		f.verifier, keySigner{memberKeys[1]}, state.WithClock(f.clock))

	var rivalBlock *types.Block
	chain := &racingStore{ChainStore: f.chain, race: func() {
		res, err := rival.ProduceBlock(f.round(memberKeys[1]), nil)
		require.NoError(t, err)
		rivalBlock = res.Block
	}}

	tx := transfer(t, f.alloc(0), 50)
	f.mempool.Txs = types.Txs{tx}
	res, err := f.executor(memberKeys[0], chain).ProduceBlock(f.round(memberKeys[0]), nil)
	require.NoError(t, err)
	require.NotNil(t, rivalBlock)

	assert.True(t, res.HeaderRaced)
	assert.EqualValues(t, 2, res.Block.Height)
	assert.Equal(t, rivalBlock.Hash(), res.Block.PrevHash)
	assert.Equal(t, txIDs(types.Txs{tx}), txIDs(res.Block.Txs[1:]))
}

// When the racing block already includes the same transaction the save is
// refused and the transaction goes back to the pool.
func TestProduceBlockHeaderRaceConflict(t *testing.T) {
	f := newFixture(t)
	tx := transfer(t, f.alloc(0), 50)

	rivalPool := &mempoolmock.Mempool{Txs: types.Txs{tx}}
	rival := state.NewBlockExec(state.MakeGenesisState(f.genDoc), f.chain, f.pool, rivalPool,
		f.verifier, keySigner{memberKeys[1]}, state.WithClock(f.clock))
	rival.SetLogger(log.TestingLogger())

	chain := &racingStore{ChainStore: f.chain, race: func() {
		res, err := rival.ProduceBlock(f.round(memberKeys[1]), nil)
		require.NoError(t, err)
		require.Len(t, res.Accepted, 1)
	}}

	f.mempool.Txs = types.Txs{tx}
	res, err := f.executor(memberKeys[0], chain).ProduceBlock(f.round(memberKeys[0]), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrProductionFailure))
	assert.True(t, res.HeaderRaced)
	assert.Nil(t, res.Block)
	assert.Equal(t, txIDs(types.Txs{tx}), txIDs(f.mempool.Txs))

	best, err := f.chain.BestHeader()
	require.NoError(t, err)
	assert.EqualValues(t, 1, best.Height)
}
