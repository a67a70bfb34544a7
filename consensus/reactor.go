package consensus

import (
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/p2p"

	sm "slotchain/state"
	"slotchain/types"
)

const (
	StateChannel     = byte(0x30)
	InventoryChannel = byte(0x31)
	DataChannel      = byte(0x32)

	maxMsgSize = 1048576 // 1MB

	requestedCacheSize = 1024
)

// Reactor carries round messages, inventories and blocks between peers and
// is the coordinator's Network.
type Reactor struct {
	p2p.BaseReactor

	consensus *ConsensusState
	chain     sm.ChainStore
	solo      bool

	peerHeights *cmap.CMap // peer id -> best height
	requested   *lru.Cache // hashes already asked for
	suppress    *suppressFilter
}

var _ Network = (*Reactor)(nil)

// ReactorOption sets an optional parameter on the Reactor.
type ReactorOption func(*Reactor)

// WithSolo makes the reactor report itself caught up without peers. Used
// by nodes that have no persistent peers configured.
func WithSolo(solo bool) ReactorOption {
	return func(conR *Reactor) { conR.solo = solo }
}

func NewReactor(chain sm.ChainStore, options ...ReactorOption) *Reactor {
	requested, err := lru.New(requestedCacheSize)
	if err != nil {
		panic(err)
	}
	conR := &Reactor{
		chain:       chain,
		peerHeights: cmap.NewCMap(),
		requested:   requested,
		suppress:    newSuppressFilter(),
	}
	conR.BaseReactor = *p2p.NewBaseReactor("Consensus", conR)

	for _, option := range options {
		option(conR)
	}
	return conR
}

// SetConsensusState connects the coordinator that handles inbound traffic.
func (conR *Reactor) SetConsensusState(cs *ConsensusState) {
	conR.consensus = cs
}

func (conR *Reactor) OnStart() error {
	if conR.consensus == nil {
		return errNoConsensus
	}
	conR.Logger.Info("Consensus reactor started", "solo", conR.solo)
	return nil
}

func (conR *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  StateChannel,
			Priority:            6,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  InventoryChannel,
			Priority:            5,
			SendQueueCapacity:   100,
			RecvMessageCapacity: maxMsgSize,
		},
		{
			ID:                  DataChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  50 * 4096,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

func (conR *Reactor) AddPeer(peer p2p.Peer) {
	height := int64(0)
	if best, err := conR.chain.BestHeader(); err == nil && best != nil {
		height = best.Height
	}
	peer.Send(StateChannel, mustEncode(&StatusMessage{BestHeight: height}))
}

func (conR *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	conR.peerHeights.Delete(string(peer.ID()))
}

func (conR *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	msg, err := decodeMsg(msgBytes)
	if err != nil {
		conR.Logger.Error("Error decoding message", "src", src, "chId", chID, "err", err)
		conR.Switch.StopPeerForError(src, err)
		return
	}
	conR.Logger.Debug("Receive", "src", src, "chId", chID, "msg", msg)

	switch chID {
	case StateChannel:
		switch msg := msg.(type) {
		case *StatusMessage:
			conR.peerHeights.Set(string(src.ID()), msg.BestHeight)
		case *ConsensusMessage:
			conR.handleRoundMessage(msg.Message, src)
		default:
			conR.Logger.Error("Unexpected message on state channel", "msg", msg)
		}

	case InventoryChannel:
		inv, ok := msg.(*InvMessage)
		if !ok {
			conR.Logger.Error("Unexpected message on inventory channel", "msg", msg)
			return
		}
		if conR.wants(inv.Kind, inv.Hash) {
			conR.requested.Add(string(inv.Hash), struct{}{})
			src.Send(DataChannel, mustEncode(&GetDataMessage{Kind: inv.Kind, Hash: inv.Hash}))
		}

	case DataChannel:
		switch msg := msg.(type) {
		case *GetDataMessage:
			conR.serve(msg, src)
		case *BlockMessage:
			conR.requested.Remove(string(msg.Block.Hash()))
			if err := conR.consensus.AddBlock(msg.Block, src.ID()); err != nil {
				conR.Logger.Debug("Block not added", "height", msg.Block.Height, "src", src, "err", err)
				return
			}
			conR.AnnounceInventory(InvBlock, msg.Block.Hash())
		case *ConsensusMessage:
			conR.requested.Remove(string(msg.Message.ID()))
			conR.handleRoundMessage(msg.Message, src)
		default:
			conR.Logger.Error("Unexpected message on data channel", "msg", msg)
		}

	default:
		conR.Logger.Error("Unknown chId", "chId", chID)
	}
}

func (conR *Reactor) handleRoundMessage(msg *types.RoundMessage, src p2p.Peer) {
	if err := conR.consensus.HandleMessage(msg, src.ID()); err != nil {
		conR.Logger.Debug("Round message ignored", "msg", msg, "src", src, "err", err)
	}
}

// wants reports whether an announced item is new to this node.
func (conR *Reactor) wants(kind InvKind, hash []byte) bool {
	if conR.suppress.Test(hash) || conR.requested.Contains(string(hash)) {
		return false
	}
	switch kind {
	case InvBlock:
		block, err := conR.chain.BlockByHash(hash)
		return err == nil && block == nil
	case InvConsensus:
		return !conR.consensus.HasMessage(hash)
	}
	return false
}

func (conR *Reactor) serve(req *GetDataMessage, src p2p.Peer) {
	switch req.Kind {
	case InvBlock:
		block, err := conR.chain.BlockByHash(req.Hash)
		if err != nil || block == nil {
			return
		}
		src.Send(DataChannel, mustEncode(&BlockMessage{Block: block}))
	case InvConsensus:
		msg := conR.consensus.LookupMessage(req.Hash)
		if msg == nil {
			return
		}
		src.Send(DataChannel, mustEncode(&ConsensusMessage{Message: msg}))
	}
}

// OnBlockCommitted tells peers the new best height.
func (conR *Reactor) OnBlockCommitted(block *types.Block) {
	if conR.Switch == nil {
		return
	}
	conR.Switch.Broadcast(StateChannel, mustEncode(&StatusMessage{BestHeight: block.Height}))
}

//-----------------------------------------------------------------------------
// Network

func (conR *Reactor) SendDirect(peerID p2p.ID, msg *types.RoundMessage) bool {
	peer := conR.Switch.Peers().Get(peerID)
	if peer == nil {
		return false
	}
	return peer.Send(StateChannel, mustEncode(&ConsensusMessage{Message: msg}))
}

func (conR *Reactor) Peers() []p2p.ID {
	peers := conR.Switch.Peers().List()
	ids := make([]p2p.ID, len(peers))
	for i, p := range peers {
		ids[i] = p.ID()
	}
	return ids
}

func (conR *Reactor) AnnounceInventory(kind InvKind, hash []byte) {
	conR.suppress.Add(hash)
	conR.Switch.Broadcast(InventoryChannel, mustEncode(&InvMessage{Kind: kind, Hash: hash}))
}

func (conR *Reactor) BroadcastBlock(block *types.Block) {
	conR.AnnounceInventory(InvBlock, block.Hash())
}

// CaughtUp is true for a solo node, or once the local best height reaches
// the median best height of the connected peers.
func (conR *Reactor) CaughtUp() bool {
	if conR.solo {
		return true
	}
	var heights []int64
	for _, v := range conR.peerHeights.Values() {
		heights = append(heights, v.(int64))
	}
	if len(heights) == 0 {
		return false
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	median := heights[len(heights)/2]

	best, err := conR.chain.BestHeader()
	if err != nil || best == nil {
		return false
	}
	return best.Height >= median
}
