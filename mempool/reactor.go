package mempool

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"

	"slotchain/types"
)

const (
	// MempoolChannel carries single pending transactions.
	MempoolChannel = byte(0x40)

	// UnknownPeerID marks transactions submitted locally, through rpc or the
	// producer, rather than received from a peer.
	UnknownPeerID uint16 = 0

	// resendDelay is how long a full peer queue is left to drain.
	resendDelay = 100 * time.Millisecond

	maxSenderIDs = math.MaxUint16
)

// Reactor relays pool transactions to every peer and admits the ones peers
// relay in return. A transaction is never sent back to a peer it came from.
type Reactor struct {
	p2p.BaseReactor

	config  *cfg.MempoolConfig
	mempool *ListMempool
	senders *senderIDs
}

// senderIDs maps peers to the short ids stored with each pooled transaction.
type senderIDs struct {
	mtx    sync.RWMutex
	byPeer map[p2p.ID]uint16
	inUse  map[uint16]struct{}
	cursor uint16
}

func newSenderIDs() *senderIDs {
	return &senderIDs{
		byPeer: make(map[p2p.ID]uint16),
		inUse:  map[uint16]struct{}{UnknownPeerID: {}},
		cursor: UnknownPeerID + 1,
	}
}

// reserve assigns peer the first free id at or after the cursor. Ids are not
// reused right away, so a late tx of a gone peer does not match a new one.
func (s *senderIDs) reserve(peer p2p.Peer) uint16 {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if len(s.inUse) == maxSenderIDs {
		panic(fmt.Sprintf("all %d sender ids are taken", maxSenderIDs))
	}
	for {
		id := s.cursor
		s.cursor++
		if _, taken := s.inUse[id]; !taken {
			s.inUse[id] = struct{}{}
			s.byPeer[peer.ID()] = id
			return id
		}
	}
}

func (s *senderIDs) release(peer p2p.Peer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if id, ok := s.byPeer[peer.ID()]; ok {
		delete(s.inUse, id)
		delete(s.byPeer, peer.ID())
	}
}

// lookup returns the id of peer, or UnknownPeerID if it has none.
func (s *senderIDs) lookup(peer p2p.Peer) uint16 {
	if peer == nil {
		return UnknownPeerID
	}
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.byPeer[peer.ID()]
}

func NewReactor(config *cfg.MempoolConfig, mempool *ListMempool) *Reactor {
	memR := &Reactor{
		config:  config,
		mempool: mempool,
		senders: newSenderIDs(),
	}
	memR.BaseReactor = *p2p.NewBaseReactor("Mempool", memR)
	return memR
}

// SetLogger sets the Logger on the reactor and the underlying mempool.
func (memR *Reactor) SetLogger(l log.Logger) {
	memR.Logger = l
	memR.mempool.SetLogger(l)
}

func (memR *Reactor) OnStart() error {
	if !memR.config.Broadcast {
		memR.Logger.Info("Tx relay disabled, pool txs stay local")
	}
	return nil
}

func (memR *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{{
		ID:                  MempoolChannel,
		Priority:            5,
		RecvMessageCapacity: memR.config.MaxTxBytes + 1024,
	}}
}

func (memR *Reactor) InitPeer(peer p2p.Peer) p2p.Peer {
	memR.senders.reserve(peer)
	return peer
}

func (memR *Reactor) AddPeer(peer p2p.Peer) {
	if memR.config.Broadcast {
		go memR.broadcastTxRoutine(peer)
	}
}

// RemovePeer frees the peer's sender id. Its relay routine notices the peer
// quit on its own.
func (memR *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	memR.senders.release(peer)
}

// Receive admits a relayed transaction into the pool. Undecodable payloads
// cost the peer its connection; rejected transactions are only logged.
func (memR *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	tx, err := types.TxFromBytes(msgBytes)
	if err != nil {
		memR.Logger.Error("Peer sent undecodable tx", "peer", src, "chId", chID, "err", err)
		memR.Switch.StopPeerForError(src, err)
		return
	}

	info := TxInfo{SenderID: memR.senders.lookup(src)}
	if src != nil {
		info.SenderP2PID = src.ID()
	}
	err = memR.mempool.CheckTx(tx, info)
	switch {
	case err == nil:
	case errors.Is(err, ErrTxInCache), errors.Is(err, ErrTxInMap):
		memR.Logger.Debug("Tx already seen", "tx", tx.ID(), "peer", info.SenderP2PID)
	case IsPreCheckError(err):
		memR.Logger.Info("Peer relayed tx failing verification", "tx", tx.ID(), "peer", info.SenderP2PID, "err", err)
	default:
		memR.Logger.Debug("Tx not admitted", "tx", tx.ID(), "peer", info.SenderP2PID, "err", err)
	}
}

// broadcastTxRoutine walks the pool list and sends each tx the peer did not
// relay to us. Elements taken or evicted while we wait drop the cursor back
// to the list front.
func (memR *Reactor) broadcastTxRoutine(peer p2p.Peer) {
	id := memR.senders.lookup(peer)
	var cursor *clist.CElement

	for memR.IsRunning() && peer.IsRunning() {
		if cursor == nil {
			if cursor = memR.waitFront(peer); cursor == nil {
				if memR.stopped(peer) {
					return
				}
				continue
			}
		}

		memTx := cursor.Value.(*mempoolTx)
		if _, fromPeer := memTx.senders.Load(id); !fromPeer {
			if !peer.Send(MempoolChannel, memTx.tx.Bytes()) {
				time.Sleep(resendDelay)
				continue
			}
		}

		select {
		case <-cursor.NextWaitChan():
			cursor = cursor.Next()
		case <-peer.Quit():
			return
		case <-memR.Quit():
			return
		}
	}
}

// waitFront blocks until the pool holds a tx and returns the list front. It
// returns nil when the peer or the reactor stops, or the front vanished.
func (memR *Reactor) waitFront(peer p2p.Peer) *clist.CElement {
	select {
	case <-memR.mempool.TxsWaitChan():
		return memR.mempool.TxsFront()
	case <-peer.Quit():
	case <-memR.Quit():
	}
	return nil
}

func (memR *Reactor) stopped(peer p2p.Peer) bool {
	select {
	case <-peer.Quit():
		return true
	case <-memR.Quit():
		return true
	default:
		return false
	}
}
