package state

import (
	"bytes"
	"math"

	"github.com/pkg/errors"

	"slotchain/types"
)

// candidate accumulates the transactions admitted into one block.
type candidate struct {
	height int64
	txs    types.Txs
	fees   uint64

	ids          map[string]struct{}
	spent        map[string]struct{}
	created      map[string]types.TxOutput
	evidence     map[string]struct{}
	registered   map[string]struct{}
	deregistered map[string]struct{}

	// pending reports whether an output is created by a transaction still
	// waiting in the pool.
	pending func(op types.OutPoint) bool
}

func newCandidate(height int64, pending func(types.OutPoint) bool) *candidate {
	if pending == nil {
		pending = func(types.OutPoint) bool { return false }
	}
	return &candidate{
		height:       height,
		ids:          make(map[string]struct{}),
		spent:        make(map[string]struct{}),
		created:      make(map[string]types.TxOutput),
		evidence:     make(map[string]struct{}),
		registered:   make(map[string]struct{}),
		deregistered: make(map[string]struct{}),
		pending:      pending,
	}
}

func (c *candidate) add(tx *types.Tx, fee uint64) {
	id := tx.ID()
	c.txs = append(c.txs, tx)
	c.fees += fee
	c.ids[string(id)] = struct{}{}
	for _, in := range tx.Inputs {
		c.spent[in.Prev.Key()] = struct{}{}
	}
	for i, out := range tx.Outputs {
		c.created[types.OutPoint{TxID: id, Index: uint32(i)}.Key()] = out
	}
	switch tx.Type {
	case types.TxRegister:
		c.registered[string(tx.Registration.Member.IdentityHash)] = struct{}{}
	case types.TxDeregister:
		c.deregistered[string(tx.Deregistration.Member.IdentityHash)] = struct{}{}
	case types.TxViolation:
		c.evidence[string(tx.Violation.EvidenceHash())] = struct{}{}
	}
}

// TxValidator applies the admission rules of block production against the
// committed chain, the live member set and the block being built.
type TxValidator struct {
	chain    ChainStore
	members  Membership
	verifier types.Verifier
}

func NewTxValidator(chain ChainStore, members Membership, verifier types.Verifier) *TxValidator {
	return &TxValidator{chain: chain, members: members, verifier: verifier}
}

// checkTx returns the fee tx pays if it may join c. Errors are *TxError.
func (v *TxValidator) checkTx(c *candidate, tx *types.Tx) (uint64, error) {
	id := tx.ID()
	if tx.Type == types.TxCoinbase {
		return 0, invalidTx(id, "coinbase from the pool")
	}
	if err := v.verifier.VerifyTx(tx); err != nil {
		return 0, invalidTx(id, "verification failed: %v", err)
	}

	if _, ok := c.ids[string(id)]; ok {
		return 0, invalidTx(id, "duplicate in block")
	}
	committed, err := v.chain.HasTx(id)
	if err != nil {
		return 0, invalidTx(id, "tx lookup: %v", err)
	}
	if committed {
		return 0, invalidTx(id, "already committed")
	}

	in, err := v.resolveInputs(c, tx, id)
	if err != nil {
		return 0, err
	}
	out, err := tx.OutputTotal()
	if err != nil {
		return 0, invalidTx(id, "%v", err)
	}
	if out > in {
		return 0, invalidTx(id, "outputs %d exceed inputs %d", out, in)
	}

	switch tx.Type {
	case types.TxRegister:
		mid := tx.Registration.Member.IdentityHash
		if v.members.Contains(mid) {
			return 0, invalidTx(id, "member %v already registered", mid)
		}
		if _, ok := c.registered[string(mid)]; ok {
			return 0, invalidTx(id, "member %v registered twice in block", mid)
		}
	case types.TxDeregister:
		m := tx.Deregistration.Member
		live, ok := v.members.Get(m.IdentityHash)
		if !ok || !live.Equal(m) {
			return 0, invalidTx(id, "member %v is not registered", m.IdentityHash)
		}
		if _, ok := c.deregistered[string(m.IdentityHash)]; ok {
			return 0, invalidTx(id, "member %v deregistered twice in block", m.IdentityHash)
		}
	case types.TxViolation:
		if err := v.checkViolation(c, *tx.Violation); err != nil {
			return 0, invalidTx(id, "%v", err)
		}
	}
	return in - out, nil
}

// resolveInputs sums the inputs of tx. Outputs still pending in the pool, or
// not yet mature, make the tx retryable rather than invalid.
func (v *TxValidator) resolveInputs(c *candidate, tx *types.Tx, id []byte) (uint64, error) {
	var total uint64
	for i, in := range tx.Inputs {
		key := in.Prev.Key()
		if _, ok := c.spent[key]; ok {
			return 0, invalidTx(id, "input %d double spends %v in block", i, in.Prev)
		}

		var out types.TxOutput
		if o, ok := c.created[key]; ok {
			out = o
		} else {
			u, err := v.chain.UTXO(in.Prev)
			if err != nil {
				return 0, invalidTx(id, "utxo lookup: %v", err)
			}
			switch {
			case u != nil && !u.Spendable(c.height):
				return 0, outOfOrderTx(id, "input %d locked until %d", i, u.LockHeight)
			case u != nil:
				out = u.Output
			case c.pending(in.Prev):
				return 0, outOfOrderTx(id, "input %d spends pending %v", i, in.Prev)
			default:
				return 0, invalidTx(id, "input %d spends unknown or spent %v", i, in.Prev)
			}
		}

		if !bytes.Equal(out.Owner, in.PubKey.Address()) {
			return 0, invalidTx(id, "input %d is not signed by the owner", i)
		}
		if out.Value > math.MaxUint64-total {
			return 0, invalidTx(id, "input total overflows")
		}
		total += out.Value
	}
	return total, nil
}

func (v *TxValidator) checkViolation(c *candidate, rec types.ViolationRecord) error {
	eh := rec.EvidenceHash()
	if _, ok := c.evidence[string(eh)]; ok {
		return errors.Errorf("evidence %v repeated in block", eh)
	}
	recorded, err := v.chain.HasEvidence(eh)
	if err != nil {
		return err
	}
	if recorded {
		return errors.Errorf("evidence %v already recorded", eh)
	}
	offender, ok := v.members.Get(rec.Offender)
	if !ok {
		return errors.Errorf("offender %v is not a member", rec.Offender)
	}
	if rec.Kind == types.ViolationEquivocation {
		a, b := rec.Equivocation.HeaderA, rec.Equivocation.HeaderB
		if !offender.VerifySignatures(a.Hash(), a.SignatureBytes()) ||
			!offender.VerifySignatures(b.Hash(), b.SignatureBytes()) {
			return errors.Errorf("equivocation headers are not signed by %v", rec.Offender)
		}
	}
	return nil
}

// ValidateBlock applies the admission rules to a block built elsewhere. The
// first transaction must be a coinbase paying the producer no more than the
// block's fees, locked for maturity blocks.
func (v *TxValidator) ValidateBlock(block *types.Block, maturity int64) error {
	if len(block.Txs) == 0 || block.Txs[0].Type != types.TxCoinbase {
		return errors.New("first transaction is not a coinbase")
	}
	c := newCandidate(block.Height, nil)
	for _, tx := range block.Txs[1:] {
		fee, err := v.checkTx(c, tx)
		if err != nil {
			return err
		}
		c.add(tx, fee)
	}

	coinbase := block.Txs[0]
	for i, out := range coinbase.Outputs {
		if !bytes.Equal(out.Owner, block.Producer) {
			return errors.Errorf("coinbase output %d does not pay the producer", i)
		}
	}
	reward, err := coinbase.OutputTotal()
	if err != nil {
		return err
	}
	if reward > c.fees {
		return errors.Errorf("coinbase pays %d, block fees are %d", reward, c.fees)
	}
	if want := block.Height + maturity; coinbase.LockHeight != want {
		return errors.Errorf("coinbase locked until %d, want %d", coinbase.LockHeight, want)
	}
	return nil
}
