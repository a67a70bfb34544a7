package consensus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	cfg "slotchain/config"
	cstypes "slotchain/consensus/types"
	mempoolmock "slotchain/mempool/mock"
	slotmock "slotchain/slot/mock"
	sm "slotchain/state"
	"slotchain/store"
	"slotchain/types"
)

const (
	testChainID     = "consensus-chain"
	testGenesisTime = 1000
	testInterval    = 10
)

type keySigner struct{ priv crypto.PrivKey }

func (s keySigner) IdentityHash() types.Address { return s.priv.PubKey().Address() }
func (s keySigner) PubKeys() []crypto.PubKey    { return []crypto.PubKey{s.priv.PubKey()} }
func (s keySigner) Sign(msg []byte) ([][]byte, error) {
	sig, err := s.priv.Sign(msg)
	return [][]byte{sig}, err
}

//-----------------------------------------------------------------------------

type directMsg struct {
	peer p2p.ID
	msg  *types.RoundMessage
}

type invItem struct {
	kind InvKind
	hash []byte
}

// mockNetwork records everything the coordinator sends.
type mockNetwork struct {
	mtx      sync.Mutex
	caughtUp bool
	peers    []p2p.ID
	direct   []directMsg
	inv      []invItem
	blocks   []*types.Block
}

var _ Network = (*mockNetwork)(nil)

func (n *mockNetwork) SendDirect(peer p2p.ID, msg *types.RoundMessage) bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.direct = append(n.direct, directMsg{peer: peer, msg: msg})
	return true
}

func (n *mockNetwork) Peers() []p2p.ID {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.peers
}

func (n *mockNetwork) AnnounceInventory(kind InvKind, hash []byte) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.inv = append(n.inv, invItem{kind: kind, hash: hash})
}

func (n *mockNetwork) BroadcastBlock(block *types.Block) {
	n.mtx.Lock()
	n.blocks = append(n.blocks, block)
	n.mtx.Unlock()
	n.AnnounceInventory(InvBlock, block.Hash())
}

func (n *mockNetwork) CaughtUp() bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.caughtUp
}

func (n *mockNetwork) setCaughtUp(v bool) {
	n.mtx.Lock()
	n.caughtUp = v
	n.mtx.Unlock()
}

func (n *mockNetwork) directMessages() []directMsg {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return append([]directMsg{}, n.direct...)
}

func (n *mockNetwork) inventories(kind InvKind) [][]byte {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	var hashes [][]byte
	for _, it := range n.inv {
		if it.kind == kind {
			hashes = append(hashes, it.hash)
		}
	}
	return hashes
}

//-----------------------------------------------------------------------------

func memberKeys(n int) []crypto.PrivKey {
	keys := make([]crypto.PrivKey, n)
	for i := range keys {
		keys[i] = ed25519.GenPrivKeyFromSecret([]byte(fmt.Sprintf("member-%d", i)))
	}
	return keys
}

func newTestGenesis(t *testing.T, keys []crypto.PrivKey) *types.GenesisDoc {
	genDoc := &types.GenesisDoc{
		ChainID:          testChainID,
		GenesisTime:      testGenesisTime,
		BlockInterval:    testInterval,
		CoinbaseMaturity: 2,
		Authority:        ed25519.GenPrivKeyFromSecret([]byte("authority")).PubKey(),
	}
	for i, k := range keys {
		genDoc.Members = append(genDoc.Members, types.GenesisMember{
			Name:    fmt.Sprintf("member-%d", i),
			PubKeys: []crypto.PubKey{k.PubKey()},
		})
	}
	require.NoError(t, genDoc.ValidateAndComplete())
	return genDoc
}

type testNode struct {
	cs      *ConsensusState
	chain   *store.BlockStore
	pool    *sm.MemberPool
	mempool *mempoolmock.Mempool
	clock   *slotmock.Clock
	net     *mockNetwork
	keys    []crypto.PrivKey // every member key of the chain
}

type nodeOption func(*cfg.RoundConfig, *[]ConsensusOption)

func withExecutor(exec sm.BlockExecutor) nodeOption {
	return func(_ *cfg.RoundConfig, opts *[]ConsensusOption) {
		*opts = append(*opts, SetBlockExecutor(exec))
	}
}

func withStateSync(ticks int) nodeOption {
	return func(c *cfg.RoundConfig, _ *[]ConsensusOption) { c.StateSyncTicks = ticks }
}

// newTestNode builds a coordinator over a fresh chain. local is the index of
// the node's member key, or -1 for an observer.
func newTestNode(t *testing.T, keys []crypto.PrivKey, local int, options ...nodeOption) *testNode {
	genDoc := newTestGenesis(t, keys)
	logger := log.TestingLogger()

	chain := store.NewMockStore()
	require.NoError(t, chain.SaveBlock(genDoc.Block()))
	pool, err := sm.LoadMemberPool(chain)
	require.NoError(t, err)
	chain.Subscribe("member-pool", func(b *types.Block) {
		if err := pool.ApplyBlock(b); err != nil {
			panic(err)
		}
	})

	config := cfg.TestRoundConfig()
	clock := slotmock.NewClock(testGenesisTime)
	opts := []ConsensusOption{SetClock(clock)}
	for _, o := range options {
		o(config, &opts)
	}

	var pv types.PrivValidator
	if local >= 0 {
		pv = keySigner{keys[local]}
	}
	net := &mockNetwork{caughtUp: true}
	mempool := &mempoolmock.Mempool{}
	cs := NewConsensusState(config, sm.MakeGenesisState(genDoc), chain, pool, mempool, net, pv,
		types.NewSignatureVerifier(testChainID, genDoc.Authority), opts...)
	cs.SetLogger(logger)

	return &testNode{cs: cs, chain: chain, pool: pool, mempool: mempool, clock: clock, net: net, keys: keys}
}

func (n *testNode) tick() {
	n.cs.handleTick(tickInfo{Time: n.clock.Now()})
}

func (n *testNode) best(t *testing.T) *types.Header {
	h, err := n.chain.BestHeader()
	require.NoError(t, err)
	return h
}

func (n *testNode) keyOf(id types.Address) crypto.PrivKey {
	for _, k := range n.keys {
		if types.AddressEqual(k.PubKey().Address(), id) {
			return k
		}
	}
	return nil
}

// slotBlock builds the block member i of round would produce on top of the
// current best block.
func (n *testNode) slotBlock(t *testing.T, round cstypes.Round, i int, coinbase uint64, extra ...*types.Tx) *types.Block {
	best, err := n.chain.BlockAtHeight(n.best(t).Height)
	require.NoError(t, err)
	producer := round.Members[i].IdentityHash
	_, end := round.SlotBounds(i)
	height := best.Height + 1

	b := types.MakeBlock(types.Header{
		ChainID:          testChainID,
		Height:           height,
		PrevHash:         best.Hash(),
		Timestamp:        end,
		PeriodCount:      round.Size(),
		TimePeriod:       i,
		PeriodStartPoint: round.StartHeight,
	}, append(types.Txs{types.NewCoinbaseTx(producer, coinbase, height, 2)}, extra...))
	require.NoError(t, types.SignHeader(keySigner{n.keyOf(producer)}, &b.Header))
	return b
}

// keyAtSlot returns the index in keys of the member scheduled at slot of the
// round starting at startTime.
func keyAtSlot(keys []crypto.PrivKey, startTime int64, slot int) int {
	members := make(types.Members, len(keys))
	for i, k := range keys {
		members[i] = types.NewMember("", k.PubKey())
	}
	r := cstypes.ComputeRound(startTime, 0, testInterval, members, nil)
	for i, k := range keys {
		if types.AddressEqual(k.PubKey().Address(), r.Members[slot].IdentityHash) {
			return i
		}
	}
	return -1
}

func signedMessage(t *testing.T, key crypto.PrivKey, typ types.MessageType, nonce uint64, payload interface{}) *types.RoundMessage {
	msg := &types.RoundMessage{
		Version:    1,
		RoundStart: testGenesisTime,
		Timestamp:  testGenesisTime,
		Nonce:      nonce,
		Type:       typ,
	}
	require.NoError(t, msg.SetPayload(payload))
	require.NoError(t, types.SignMessage(keySigner{key}, msg))
	return msg
}

func (n *testNode) waitProduced(t *testing.T, height int64) {
	require.Eventually(t, func() bool {
		return n.best(t).Height >= height && atomic.LoadInt32(&n.cs.producing) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
