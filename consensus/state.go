package consensus

import (
	"bytes"
	"runtime/debug"
	"sync/atomic"

	"github.com/algorand/go-deadlock"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"

	cfg "slotchain/config"
	cstypes "slotchain/consensus/types"
	mempl "slotchain/mempool"
	"slotchain/slot"
	sm "slotchain/state"
	"slotchain/types"
)

// Events fired by the coordinator.
const (
	EventNewRound      = "NewRound"
	EventBlockProduced = "BlockProduced"
	EventNewEvidence   = "NewEvidence"
)

// Network is what the coordinator needs from the p2p layer.
type Network interface {
	// SendDirect sends msg to a single peer.
	SendDirect(peer p2p.ID, msg *types.RoundMessage) bool
	Peers() []p2p.ID
	// AnnounceInventory tells every peer this node holds the item.
	AnnounceInventory(kind InvKind, hash []byte)
	BroadcastBlock(block *types.Block)
	// CaughtUp reports whether the local chain has reached the network.
	CaughtUp() bool
}

// ConsensusState is the round coordinator. A single ticker drives the round
// state machine; inbound messages and blocks are serialised with it on mtx.
type ConsensusState struct {
	service.BaseService

	config   *cfg.RoundConfig
	state    sm.State
	chain    sm.ChainStore
	members  sm.Membership
	mempool  mempl.Mempool
	network  Network
	privVal  types.PrivValidator // nil on observers
	verifier types.Verifier

	blockExec   sm.BlockExecutor
	txValidator *sm.TxValidator
	clock       slot.Clock
	ticker      RoundTicker

	mtx deadlock.Mutex

	round          cstypes.Round
	prevRound      *cstypes.Round
	prevViolations []types.ViolationRecord
	evidence       map[string]types.ViolationRecord // pending, by evidence hash

	caughtUp  bool
	syncTicks int

	messages *messageCache
	nonce    uint64

	producing   int32  // atomic, 1 while a production is in flight
	attemptedAt *int64 // local slot start of the last production attempt

	eventSwitch events.EventSwitch
	metric      *consensusMetric
}

// ConsensusOption sets an optional parameter on the ConsensusState.
type ConsensusOption func(*ConsensusState)

// SetClock replaces the system clock.
func SetClock(clock slot.Clock) ConsensusOption {
	return func(cs *ConsensusState) { cs.clock = clock }
}

// SetTicker replaces the round ticker.
func SetTicker(ticker RoundTicker) ConsensusOption {
	return func(cs *ConsensusState) { cs.ticker = ticker }
}

// SetBlockExecutor replaces the block producer built from the collaborators.
func SetBlockExecutor(blockExec sm.BlockExecutor) ConsensusOption {
	return func(cs *ConsensusState) { cs.blockExec = blockExec }
}

func NewConsensusState(
	config *cfg.RoundConfig,
	state sm.State,
	chain sm.ChainStore,
	members sm.Membership,
	mempool mempl.Mempool,
	network Network,
	privVal types.PrivValidator,
	verifier types.Verifier,
	options ...ConsensusOption,
) *ConsensusState {
	cs := &ConsensusState{
		config:      config,
		state:       state,
		chain:       chain,
		members:     members,
		mempool:     mempool,
		network:     network,
		privVal:     privVal,
		verifier:    verifier,
		txValidator: sm.NewTxValidator(chain, members, verifier),
		clock:       slot.SystemClock{},
		round:       cstypes.Round{LocalIndex: -1, Status: cstypes.RoundStatusWaitReady},
		evidence:    make(map[string]types.ViolationRecord),
		messages:    newMessageCache(config.MessageCacheSize),
		eventSwitch: events.NewEventSwitch(),
		metric:      newConsensusMetric(),
	}
	cs.BaseService = *service.NewBaseService(nil, "Consensus", cs)

	for _, option := range options {
		option(cs)
	}
	if cs.ticker == nil {
		cs.ticker = NewRoundTicker(config.TickInterval)
	}
	if cs.blockExec == nil {
		cs.blockExec = sm.NewBlockExec(state, chain, members, mempool, verifier, privVal,
			sm.WithClock(cs.clock),
			sm.WithAssemblyReserve(config.AssemblyReserve),
			sm.WithMaxBlockTxs(config.MaxBlockTxs),
		)
	}
	return cs
}

func (cs *ConsensusState) SetLogger(logger log.Logger) {
	cs.Logger = logger
	cs.ticker.SetLogger(logger.With("module", "ticker"))
	cs.blockExec.SetLogger(logger.With("module", "producer"))
}

// SetNetwork attaches the p2p layer when it is built after the coordinator.
func (cs *ConsensusState) SetNetwork(network Network) {
	cs.network = network
}

func (cs *ConsensusState) OnStart() error {
	if err := cs.eventSwitch.Start(); err != nil {
		return err
	}
	if err := cs.ticker.Start(); err != nil {
		return err
	}
	go cs.receiveRoutine()
	cs.Logger.Info("Consensus started", "identity", cs.localID(), "observer", cs.privVal == nil)
	return nil
}

func (cs *ConsensusState) OnStop() {
	if err := cs.ticker.Stop(); err != nil {
		cs.Logger.Error("failed trying to stop ticker", "err", err)
	}
	if err := cs.eventSwitch.Stop(); err != nil {
		cs.Logger.Error("failed trying to stop eventSwitch", "err", err)
	}
}

func (cs *ConsensusState) receiveRoutine() {
	for {
		select {
		case <-cs.Quit():
			return
		case ti := <-cs.ticker.Chan():
			cs.handleTick(ti)
		}
	}
}

// Round returns a copy of the current round.
func (cs *ConsensusState) Round() cstypes.Round {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.round
}

// PreviousRound returns the last closed round, if any.
func (cs *ConsensusState) PreviousRound() (cstypes.Round, bool) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	if cs.prevRound == nil {
		return cstypes.Round{}, false
	}
	return *cs.prevRound, true
}

// PendingEvidence returns the violations waiting to be recorded on chain.
func (cs *ConsensusState) PendingEvidence() []types.ViolationRecord {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	recs := make([]types.ViolationRecord, 0, len(cs.evidence))
	for _, rec := range cs.evidence {
		recs = append(recs, rec)
	}
	return recs
}

// Metric exposes coordinator metrics.
func (cs *ConsensusState) Metric() *consensusMetric {
	return cs.metric
}

// Subscribe registers cb for one of the coordinator events.
func (cs *ConsensusState) Subscribe(listenerID, event string, cb func(data events.EventData)) {
	cs.eventSwitch.AddListenerForEvent(listenerID, event, cb)
}

func (cs *ConsensusState) localID() types.Address {
	if cs.privVal == nil {
		return nil
	}
	return cs.privVal.IdentityHash()
}

//-----------------------------------------------------------------------------
// round state machine

func (cs *ConsensusState) handleTick(ti tickInfo) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if !cs.caughtUp {
		if !cs.network.CaughtUp() {
			cs.Logger.Debug("Waiting for the local chain to catch up", "tick", ti.Seq)
			return
		}
		cs.caughtUp = true
		cs.metric.MarkCaughtUp(true)
		cs.Logger.Info("Local chain caught up, starting rounds")
	}

	now := slot.Unix(cs.clock)
	if !cs.round.Initialized {
		if err := cs.initRound(now); err != nil {
			cs.Logger.Error("Failed to initialise round", "err", err)
			return
		}
		if !cs.round.Initialized {
			return
		}
	}
	if err := cs.advance(now); err != nil {
		cs.Logger.Error("Failed to advance round", "err", err)
	}
	cs.metric.MarkRound(cs.round)
}

// initRound pulls the round from peers first and falls back to deriving it
// from the best header.
func (cs *ConsensusState) initRound(now int64) error {
	if cs.privVal != nil && cs.syncTicks < cs.config.StateSyncTicks && len(cs.network.Peers()) > 0 {
		if cs.syncTicks == 0 {
			cs.requestState()
		}
		cs.syncTicks++
		return nil
	}

	best, err := cs.chain.BestHeader()
	if err != nil {
		return err
	}
	if best == nil {
		return errors.New("chain has no genesis block")
	}
	start, startHeight := cstypes.RoundAnchor(*best, cs.state.BlockInterval)
	members, err := sm.MembershipAt(cs.chain, cs.members, startHeight)
	if err != nil {
		return err
	}
	round := cstypes.ComputeRound(start, startHeight, cs.state.BlockInterval, members, cs.localID())
	return cs.enterRound(round, now)
}

// enterRound makes round current.
func (cs *ConsensusState) enterRound(round cstypes.Round, now int64) error {
	produced, err := cs.producedIn(round)
	if err != nil {
		return err
	}
	round.Initialized = true
	round.Produced = produced
	round.Status = round.StatusAt(now)
	cs.round = round
	cs.attemptedAt = nil

	cs.Logger.Info("Entering round", "round", round)
	cs.eventSwitch.FireEvent(EventNewRound, round)
	return nil
}

// producedIn reports whether the local member already has a block in round.
func (cs *ConsensusState) producedIn(round cstypes.Round) (bool, error) {
	if !round.HasLocalSlot() {
		return false, nil
	}
	filled, err := roundBlocks(round, cs.chain)
	if err != nil {
		return false, err
	}
	h, ok := filled[round.LocalIndex]
	return ok && bytes.Equal(h.Producer, cs.localID()), nil
}

func (cs *ConsensusState) advance(now int64) error {
	best, err := cs.chain.BestHeader()
	if err != nil {
		return err
	}
	if best == nil {
		return errors.New("chain has no genesis block")
	}

	if err := cs.reanchorIfStale(best, now); err != nil {
		return err
	}
	if cs.round.IsComplete(best.Height, now) {
		if err := cs.transition(cs.round, best, now); err != nil {
			return err
		}
	}

	cs.round.Status = cs.round.StatusAt(now)
	if cs.round.LocalSlotActive(now) && !cs.round.Produced {
		cs.startProduction()
	}
	return nil
}

// reanchorIfStale recomputes the current round when a block of the previous
// round arrived after this node had already moved on.
func (cs *ConsensusState) reanchorIfStale(best *types.Header, now int64) error {
	if cs.prevRound == nil || best.Height <= cs.round.StartHeight {
		return nil
	}
	first, err := cs.chain.HeaderAtHeight(cs.round.StartHeight + 1)
	if err != nil || first == nil {
		return err
	}
	if first.PeriodStartPoint == cs.round.StartHeight && inRound(cs.round, *first) {
		return nil
	}
	if first.PeriodStartPoint != cs.prevRound.StartHeight || !inRound(*cs.prevRound, *first) {
		if first.PeriodStartPoint < cs.round.StartHeight {
			cs.Logger.Error("Block from an unknown earlier round", "height", first.Height,
				"periodStartPoint", first.PeriodStartPoint)
		}
		return nil
	}

	cs.Logger.Info("Late block of the previous round, recomputing round",
		"height", first.Height, "round", cs.round)
	return cs.transition(*cs.prevRound, best, now)
}

// transition closes closing and enters the round that follows it.
func (cs *ConsensusState) transition(closing cstypes.Round, best *types.Header, now int64) error {
	recs, err := DetectViolations(closing, cs.chain, closing.Size())
	if err != nil {
		return err
	}

	var start, startHeight int64
	moved := best.Height > closing.StartHeight && best.PeriodStartPoint > closing.StartHeight
	if moved {
		// peers are already past closing
		start, startHeight = cstypes.RoundAnchor(*best, cs.state.BlockInterval)
	} else {
		startHeight = best.Height
	}
	members, err := sm.MembershipAt(cs.chain, cs.members, startHeight)
	if err != nil {
		return err
	}
	if !moved {
		var last *types.Header
		if best.Height > closing.StartHeight {
			last = best
		}
		start = cstypes.NextRoundStart(closing, last, len(members), now)
	}

	if len(recs) > 0 {
		cs.Logger.Info("Missed slots in closing round", "round", closing, "violations", len(recs))
		cs.metric.Inc(counterViolations, int64(len(recs)))
	}
	closing.Status = cstypes.RoundStatusConsensusWaitNext
	cs.prevRound = &closing
	cs.prevViolations = recs
	cs.metric.Inc(counterTransitions, 1)

	next := cstypes.ComputeRound(start, startHeight, cs.state.BlockInterval, members, cs.localID())
	return cs.enterRound(next, now)
}

//-----------------------------------------------------------------------------
// block production

// startProduction runs the producer on a copy of the current round unless an
// attempt is in flight or this slot was already attempted.
func (cs *ConsensusState) startProduction() {
	if cs.privVal == nil {
		return
	}
	if cs.attemptedAt != nil && *cs.attemptedAt == cs.round.LocalSlotStart {
		return
	}
	if !atomic.CompareAndSwapInt32(&cs.producing, 0, 1) {
		return
	}
	slotStart := cs.round.LocalSlotStart
	cs.attemptedAt = &slotStart

	round := cs.round
	violations := cs.violationsFor(round)
	cs.Logger.Info("Local slot active, producing", "slot", round.LocalIndex, "violations", len(violations))
	go cs.produce(round, violations)
}

// violationsFor collects the records a block in round should carry: the
// closed round's misses, misses before the local slot in round, and pending
// evidence.
func (cs *ConsensusState) violationsFor(round cstypes.Round) []types.ViolationRecord {
	recs := append([]types.ViolationRecord{}, cs.prevViolations...)

	current, err := DetectViolations(round, cs.chain, round.LocalIndex)
	if err != nil {
		cs.Logger.Error("Violation detection failed", "err", err)
	}
	recs = append(recs, current...)

	for key, rec := range cs.evidence {
		recorded, err := cs.chain.HasEvidence(rec.EvidenceHash())
		if err == nil && recorded {
			delete(cs.evidence, key)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func (cs *ConsensusState) produce(round cstypes.Round, violations []types.ViolationRecord) {
	defer atomic.StoreInt32(&cs.producing, 0)
	defer func() {
		if r := recover(); r != nil {
			cs.metric.Inc(counterProduceFailed, 1)
			cs.Logger.Error("Block production panicked, slot missed", "round", round, "err", r, "stack", string(debug.Stack()))
		}
	}()

	res, err := cs.blockExec.ProduceBlock(round, violations)
	if res != nil && res.HeaderRaced {
		cs.metric.Inc(counterHeaderRaces, 1)
	}
	if err != nil {
		cs.metric.Inc(counterProduceFailed, 1)
		cs.Logger.Error("Block production failed, slot missed", "round", round, "err", err)
		return
	}
	cs.metric.Inc(counterProduced, 1)

	cs.mtx.Lock()
	if cs.round.SameRound(round) {
		cs.round.Produced = true
		cs.round.Status = cstypes.RoundStatusConsensusWaitNext
	}
	cs.mtx.Unlock()

	cs.network.BroadcastBlock(res.Block)
	cs.eventSwitch.FireEvent(EventBlockProduced, res.Block)
}

//-----------------------------------------------------------------------------
// block intake

// AddBlock stores a block received from a peer. Competing blocks of the same
// producer and slot are turned into equivocation evidence.
func (cs *ConsensusState) AddBlock(block *types.Block, src p2p.ID) error {
	if err := block.ValidateBasic(); err != nil {
		return errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if block.ChainID != cs.state.ChainID {
		return errors.Wrapf(ErrMalformedMessage, "block of chain %q", block.ChainID)
	}
	if block.IsGenesis() {
		return errors.Wrap(ErrConflictingBlock, "genesis block")
	}

	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if err := cs.checkProducer(block.Header); err != nil {
		return err
	}

	existing, err := cs.chain.HeaderAtHeight(block.Height)
	if err != nil {
		return err
	}
	if existing != nil {
		if bytes.Equal(existing.Hash(), block.Hash()) {
			return nil
		}
		if bytes.Equal(existing.Producer, block.Producer) &&
			existing.TimePeriod == block.TimePeriod &&
			existing.PeriodStartPoint == block.PeriodStartPoint {
			cs.Logger.Error("Equivocation detected", "producer", block.Producer, "height", block.Height, "peer", src)
			cs.addEvidence(types.NewEquivocationRecord(*existing, block.Header), true)
		}
		return errors.Wrapf(ErrConflictingBlock, "%d", block.Height)
	}

	if err := cs.txValidator.ValidateBlock(block, cs.state.CoinbaseMaturity); err != nil {
		cs.Logger.Error("Rejected block", "height", block.Height, "producer", block.Producer, "peer", src, "err", err)
		return errors.Wrap(ErrInvalidBlock, err.Error())
	}
	if err := cs.chain.SaveBlock(block); err != nil {
		return err
	}
	cs.metric.Inc(counterAcceptedBlocks, 1)
	cs.Logger.Info("Added block", "height", block.Height, "hash", block.Hash(), "producer", block.Producer, "peer", src)
	return nil
}

// checkProducer verifies that the block's producer owns the slot it claims.
// Blocks of rounds not held locally are checked against the round rebuilt
// from their own header.
func (cs *ConsensusState) checkProducer(h types.Header) error {
	round, ok := cs.roundOf(h)
	if !ok {
		if cs.knownStart(h) {
			return errors.Wrapf(ErrUnexpectedProducer, "slot %d at %d is outside round %d",
				h.TimePeriod, h.Timestamp, h.PeriodStartPoint)
		}
		rebuilt, err := cs.rebuildRound(h)
		if err != nil {
			return errors.Wrap(ErrUnexpectedProducer, err.Error())
		}
		round = rebuilt
	}
	member, found := round.Member(h.TimePeriod)
	if !found || !bytes.Equal(member.IdentityHash, h.Producer) {
		return errors.Wrapf(ErrUnexpectedProducer, "%v in slot %d", h.Producer, h.TimePeriod)
	}
	if !member.VerifySignatures(h.Hash(), h.SignatureBytes()) {
		return errors.Wrap(ErrMalformedMessage, "invalid block signature")
	}
	return nil
}

// knownStart reports whether a local round shares h's start height and size.
func (cs *ConsensusState) knownStart(h types.Header) bool {
	same := func(r cstypes.Round) bool {
		return r.Initialized && r.StartHeight == h.PeriodStartPoint && r.Size() == h.PeriodCount
	}
	return same(cs.round) || (cs.prevRound != nil && same(*cs.prevRound))
}

func (cs *ConsensusState) rebuildRound(h types.Header) (cstypes.Round, error) {
	startTime, startHeight := cstypes.RoundAnchor(h, cs.state.BlockInterval)
	if startHeight >= h.Height {
		return cstypes.Round{}, errors.Errorf("round start %d is not below height %d", startHeight, h.Height)
	}
	members, err := sm.MembershipAt(cs.chain, cs.members, startHeight)
	if err != nil {
		return cstypes.Round{}, err
	}
	round := cstypes.ComputeRound(startTime, startHeight, cs.state.BlockInterval, members, nil)
	if round.Size() != h.PeriodCount || !inRound(round, h) {
		return cstypes.Round{}, errors.Errorf("slot %d of %d members does not fit round %d",
			h.TimePeriod, h.PeriodCount, startHeight)
	}
	return round, nil
}

func (cs *ConsensusState) roundOf(h types.Header) (cstypes.Round, bool) {
	match := func(r cstypes.Round) bool {
		return r.Initialized && r.StartHeight == h.PeriodStartPoint && r.Size() == h.PeriodCount && inRound(r, h)
	}
	if match(cs.round) {
		return cs.round, true
	}
	if cs.prevRound != nil && match(*cs.prevRound) {
		return *cs.prevRound, true
	}
	return cstypes.Round{}, false
}
