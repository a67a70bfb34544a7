package consensus

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/p2p"

	cstypes "slotchain/consensus/types"
	"slotchain/slot"
	sm "slotchain/state"
	"slotchain/types"
)

// StatePayload is the body of a StateResponse.
type StatePayload struct {
	Current  cstypes.Round  `json:"current"`
	Previous *cstypes.Round `json:"previous,omitempty"`
}

// HandleMessage processes a signed round message received from src.
func (cs *ConsensusState) HandleMessage(msg *types.RoundMessage, src p2p.ID) error {
	if err := cs.verifier.VerifyMessage(msg); err != nil {
		cs.metric.Inc(counterRejectedMsgs, 1)
		return errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if msg.Version != cs.config.ProtocolVersion {
		cs.metric.Inc(counterRejectedMsgs, 1)
		return errors.Wrapf(ErrMalformedMessage, "protocol version %d", msg.Version)
	}

	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	var keep *types.RoundMessage
	if !msg.Type.Direct() {
		keep = msg
	}
	if !cs.messages.Add(msg.ID(), keep) {
		return nil
	}

	var err error
	switch msg.Type {
	case types.PullState:
		cs.replyState(src)
	case types.StateResponse:
		err = cs.handleStateResponse(msg)
	case types.Evidence:
		err = cs.handleEvidence(msg)
	default:
		err = errors.Wrapf(ErrMalformedMessage, "message type %v", msg.Type)
	}
	if err != nil {
		cs.metric.Inc(counterRejectedMsgs, 1)
	}
	return err
}

// HasMessage reports whether the message with id was seen.
func (cs *ConsensusState) HasMessage(id []byte) bool {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.messages.Has(id)
}

// LookupMessage returns a gossiped message by id, for peers requesting it.
func (cs *ConsensusState) LookupMessage(id []byte) *types.RoundMessage {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.messages.Get(id)
}

func (cs *ConsensusState) newMessage(typ types.MessageType, payload interface{}) (*types.RoundMessage, error) {
	if cs.privVal == nil {
		return nil, errors.New("observer cannot sign messages")
	}
	cs.nonce++
	msg := &types.RoundMessage{
		Version:    cs.config.ProtocolVersion,
		RoundStart: cs.round.StartTime,
		Timestamp:  slot.Unix(cs.clock),
		Nonce:      cs.nonce,
		Type:       typ,
	}
	if err := msg.SetPayload(payload); err != nil {
		return nil, err
	}
	if err := types.SignMessage(cs.privVal, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// requestState asks every peer for its current round.
func (cs *ConsensusState) requestState() {
	msg, err := cs.newMessage(types.PullState, struct{}{})
	if err != nil {
		cs.Logger.Error("Failed to build PullState", "err", err)
		return
	}
	cs.messages.Add(msg.ID(), nil)
	for _, peer := range cs.network.Peers() {
		if !cs.network.SendDirect(peer, msg) {
			cs.Logger.Debug("Failed to send PullState", "peer", peer)
		}
	}
	cs.Logger.Info("Requested round state from peers")
}

func (cs *ConsensusState) replyState(src p2p.ID) {
	if !cs.round.Initialized || cs.privVal == nil {
		return
	}
	payload := StatePayload{Current: cs.round}
	if cs.prevRound != nil {
		prev := *cs.prevRound
		payload.Previous = &prev
	}
	resp, err := cs.newMessage(types.StateResponse, payload)
	if err != nil {
		cs.Logger.Error("Failed to build StateResponse", "err", err)
		return
	}
	cs.messages.Add(resp.ID(), nil)
	cs.network.SendDirect(src, resp)
}

// handleStateResponse adopts a peer's round while the local round is not
// initialised. The round must be reproducible from the local chain.
func (cs *ConsensusState) handleStateResponse(msg *types.RoundMessage) error {
	if cs.round.Initialized {
		return errors.Wrap(ErrStaleResponse, "round already initialised")
	}
	var payload StatePayload
	if err := msg.DecodePayload(&payload); err != nil {
		return errors.Wrap(ErrMalformedMessage, err.Error())
	}

	now := slot.Unix(cs.clock)
	current, err := cs.checkRemoteRound(payload.Current)
	if err != nil {
		return err
	}
	if current.IsComplete(-1, now) {
		return errors.Wrapf(ErrStaleResponse, "round ended at %d", current.EndTime)
	}

	if payload.Previous != nil {
		prev, err := cs.checkRemoteRound(*payload.Previous)
		if err == nil {
			recs, err := DetectViolations(prev, cs.chain, prev.Size())
			if err != nil {
				return err
			}
			prev.Status = cstypes.RoundStatusConsensusWaitNext
			cs.prevRound = &prev
			cs.prevViolations = recs
		}
	}

	cs.Logger.Info("Adopting round from peer", "sender", msg.Sender, "round", current)
	return cs.enterRound(current, now)
}

// checkRemoteRound recomputes r from its own inputs and the local membership
// at its start height.
func (cs *ConsensusState) checkRemoteRound(r cstypes.Round) (cstypes.Round, error) {
	if r.BlockInterval != cs.state.BlockInterval {
		return r, errors.Wrapf(ErrStaleResponse, "block interval %d", r.BlockInterval)
	}
	members, err := sm.MembershipAt(cs.chain, cs.members, r.StartHeight)
	if err != nil {
		return r, errors.Wrap(ErrStaleResponse, err.Error())
	}
	own := cstypes.ComputeRound(r.StartTime, r.StartHeight, cs.state.BlockInterval, members, cs.localID())
	if !sameOrder(own.Members, r.Members) {
		return r, errors.Wrap(ErrStaleResponse, "member schedule does not match local chain")
	}
	return own, nil
}

func sameOrder(a, b types.Members) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i].IdentityHash, b[i].IdentityHash) {
			return false
		}
	}
	return true
}

//-----------------------------------------------------------------------------
// evidence

func (cs *ConsensusState) handleEvidence(msg *types.RoundMessage) error {
	var rec types.ViolationRecord
	if err := msg.DecodePayload(&rec); err != nil {
		return errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if err := rec.ValidateBasic(); err != nil {
		return errors.Wrap(ErrInvalidEvidence, err.Error())
	}
	if err := cs.checkEvidence(rec); err != nil {
		return err
	}
	cs.addEvidence(rec, false)
	cs.network.AnnounceInventory(InvConsensus, msg.ID())
	return nil
}

// checkEvidence verifies a gossiped record against the local view.
func (cs *ConsensusState) checkEvidence(rec types.ViolationRecord) error {
	switch rec.Kind {
	case types.ViolationEquivocation:
		offender, ok := cs.members.Get(rec.Offender)
		if !ok {
			return errors.Wrapf(ErrInvalidEvidence, "%v is not a member", rec.Offender)
		}
		a, b := rec.Equivocation.HeaderA, rec.Equivocation.HeaderB
		if !offender.VerifySignatures(a.Hash(), a.SignatureBytes()) ||
			!offender.VerifySignatures(b.Hash(), b.SignatureBytes()) {
			return errors.Wrap(ErrInvalidEvidence, "headers not signed by the offender")
		}
		return nil

	case types.ViolationMissedSlot:
		var round *cstypes.Round
		for _, r := range []*cstypes.Round{&cs.round, cs.prevRound} {
			if r != nil && r.Initialized && r.StartHeight == rec.RoundStartHeight &&
				r.StartTime == rec.MissedSlot.RoundStartTime {
				round = r
			}
		}
		if round == nil {
			return errors.Wrap(ErrInvalidEvidence, "round unknown")
		}
		if _, end := round.SlotBounds(rec.MissedSlot.Slot); end > slot.Unix(cs.clock) {
			return errors.Wrap(ErrInvalidEvidence, "slot has not ended")
		}
		recs, err := DetectViolations(*round, cs.chain, rec.MissedSlot.Slot+1)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if bytes.Equal(r.EvidenceHash(), rec.EvidenceHash()) {
				return nil
			}
		}
		return errors.Wrap(ErrInvalidEvidence, "slot was not missed")

	default:
		return errors.Wrapf(ErrInvalidEvidence, "kind %d", rec.Kind)
	}
}

// addEvidence queues rec for inclusion. Locally detected evidence is also
// signed and announced to peers.
func (cs *ConsensusState) addEvidence(rec types.ViolationRecord, announce bool) {
	key := string(rec.EvidenceHash())
	if _, ok := cs.evidence[key]; ok {
		return
	}
	if recorded, err := cs.chain.HasEvidence(rec.EvidenceHash()); err != nil || recorded {
		return
	}
	cs.evidence[key] = rec
	cs.eventSwitch.FireEvent(EventNewEvidence, rec)

	if !announce || cs.privVal == nil {
		return
	}
	msg, err := cs.newMessage(types.Evidence, rec)
	if err != nil {
		cs.Logger.Error("Failed to build evidence message", "err", err)
		return
	}
	cs.messages.Add(msg.ID(), msg)
	cs.network.AnnounceInventory(InvConsensus, msg.ID())
}
