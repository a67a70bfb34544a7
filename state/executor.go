package state

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	cstypes "slotchain/consensus/types"
	"slotchain/mempool"
	"slotchain/slot"
	"slotchain/types"
)

// BlockExecutor assembles, signs and persists the local member's block.
type BlockExecutor interface {
	// ProduceBlock fills the local slot of round. violations are appended
	// as violation transactions unless already recorded on chain.
	ProduceBlock(round cstypes.Round, violations []types.ViolationRecord) (*ProduceResult, error)

	SetLogger(logger log.Logger)
}

// ProduceResult describes one production attempt.
type ProduceResult struct {
	Block    *types.Block
	Accepted types.Txs
	Deferred types.Txs // requeued for a later block
	Rejected types.Txs // dropped

	// HeaderRaced is set when the best header moved while transactions were
	// being collected. The block is built on the newer header and the chain
	// store decides whether it still applies.
	HeaderRaced bool
}

// BlockExecutorOption sets an optional parameter on the executor.
type BlockExecutorOption func(*blockExecutor)

// WithAssemblyReserve stops collecting transactions reserve before the slot ends.
func WithAssemblyReserve(reserve time.Duration) BlockExecutorOption {
	return func(exec *blockExecutor) { exec.reserve = reserve }
}

// WithMaxBlockTxs caps the pool transactions per block. Zero means unlimited.
func WithMaxBlockTxs(n int) BlockExecutorOption {
	return func(exec *blockExecutor) { exec.maxTxs = n }
}

// WithClock replaces the system clock.
func WithClock(clock slot.Clock) BlockExecutorOption {
	return func(exec *blockExecutor) { exec.clock = clock }
}

func NewBlockExec(
	state State,
	chain ChainStore,
	members Membership,
	mempool mempool.Mempool,
	verifier types.Verifier,
	pv types.PrivValidator,
	options ...BlockExecutorOption,
) BlockExecutor {
	exec := &blockExecutor{
		state:     state,
		chain:     chain,
		mempool:   mempool,
		pv:        pv,
		validator: NewTxValidator(chain, members, verifier),
		clock:     slot.SystemClock{},
		logger:    log.NewNopLogger(),
	}
	for _, option := range options {
		option(exec)
	}
	return exec
}

type blockExecutor struct {
	state     State
	chain     ChainStore
	mempool   mempool.Mempool
	pv        types.PrivValidator
	validator *TxValidator

	clock   slot.Clock
	reserve time.Duration
	maxTxs  int

	logger log.Logger
}

// SetLogger implements BlockExecutor
func (exec *blockExecutor) SetLogger(logger log.Logger) {
	exec.logger = logger
}

// ProduceBlock implements BlockExecutor
func (exec *blockExecutor) ProduceBlock(round cstypes.Round, violations []types.ViolationRecord) (*ProduceResult, error) {
	if exec.pv == nil {
		return nil, errors.Wrap(ErrProductionFailure, "no local identity")
	}
	if !round.HasLocalSlot() {
		return nil, errors.Wrapf(ErrProductionFailure, "no local slot in %v", round)
	}

	best, err := exec.chain.BestHeader()
	if err != nil {
		return nil, errors.Wrap(ErrProductionFailure, err.Error())
	}
	if best == nil {
		return nil, errors.Wrap(ErrProductionFailure, "empty chain")
	}

	res := &ProduceResult{}
	cand := exec.collectTxs(round, best.Height+1, res)

	// Another producer may have extended the chain in the meantime. This is
	// reported, not resolved.
	latest, err := exec.chain.BestHeader()
	if err != nil {
		exec.requeue(cand.txs)
		return res, errors.Wrap(ErrProductionFailure, err.Error())
	}
	if latest != nil && !bytes.Equal(latest.Hash(), best.Hash()) {
		exec.logger.Error("Best header advanced during block production",
			"from", best.Height, "to", latest.Height, "slot", round.LocalIndex)
		res.HeaderRaced = true
		best = latest
	}

	height := best.Height + 1
	txs := make(types.Txs, 0, len(cand.txs)+len(violations)+1)
	txs = append(txs, types.NewCoinbaseTx(exec.pv.IdentityHash(), cand.fees, height, exec.state.CoinbaseMaturity))
	txs = append(txs, cand.txs...)
	for _, rec := range violations {
		eh := rec.EvidenceHash()
		if _, ok := cand.evidence[string(eh)]; ok {
			continue
		}
		recorded, err := exec.chain.HasEvidence(eh)
		if err != nil || recorded {
			continue
		}
		cand.evidence[string(eh)] = struct{}{}
		txs = append(txs, types.NewViolationTx(rec))
	}

	block := types.MakeBlock(types.Header{
		ChainID:          exec.state.ChainID,
		Height:           height,
		PrevHash:         best.Hash(),
		Timestamp:        round.LocalSlotEnd,
		PeriodCount:      round.Size(),
		TimePeriod:       round.LocalIndex,
		PeriodStartPoint: round.StartHeight,
	}, txs)
	if err := types.SignHeader(exec.pv, &block.Header); err != nil {
		exec.requeue(cand.txs)
		return res, errors.Wrap(ErrProductionFailure, err.Error())
	}
	if err := exec.chain.SaveBlock(block); err != nil {
		exec.requeue(cand.txs)
		return res, errors.Wrapf(ErrProductionFailure, "save block %d: %v", height, err)
	}

	res.Block = block
	exec.logger.Info("Produced block", "height", height, "hash", block.Hash(),
		"txs", len(block.Txs), "fees", cand.fees, "slot", round.LocalIndex)
	return res, nil
}

// collectTxs drains the pool until the slot budget runs out. Out-of-order
// transactions are requeued once the loop is done so they are not taken
// again by the same attempt.
func (exec *blockExecutor) collectTxs(round cstypes.Round, height int64, res *ProduceResult) *candidate {
	deferredOuts := make(map[string]struct{})
	pending := func(op types.OutPoint) bool {
		if _, ok := deferredOuts[op.Key()]; ok {
			return true
		}
		_, ok := exec.mempool.FindOutput(op)
		return ok
	}
	cand := newCandidate(height, pending)
	deadline := time.Unix(round.LocalSlotEnd, 0).Add(-exec.reserve)

	for exec.clock.Now().Before(deadline) {
		if exec.maxTxs > 0 && len(cand.txs) >= exec.maxTxs {
			break
		}
		tx := exec.mempool.Take()
		if tx == nil {
			break
		}

		fee, err := exec.validator.checkTx(cand, tx)
		switch {
		case err == nil:
			cand.add(tx, fee)
		case IsRetryable(err):
			exec.logger.Debug("Deferring transaction", "err", err)
			res.Deferred = append(res.Deferred, tx)
			for i := range tx.Outputs {
				deferredOuts[tx.OutPoint(i).Key()] = struct{}{}
			}
		default:
			exec.logger.Info("Dropping invalid transaction", "err", err)
			res.Rejected = append(res.Rejected, tx)
		}
	}

	res.Accepted = cand.txs
	exec.requeue(res.Deferred)
	return cand
}

func (exec *blockExecutor) requeue(txs types.Txs) {
	for _, tx := range txs {
		if err := exec.mempool.Requeue(tx); err != nil {
			exec.logger.Debug("Could not requeue transaction", "tx", tx.ID(), "err", err)
		}
	}
}
