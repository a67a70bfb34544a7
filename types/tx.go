package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

type TxType uint8

const (
	TxTransfer TxType = iota + 1
	TxCoinbase
	TxRegister
	TxDeregister
	TxViolation
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxCoinbase:
		return "coinbase"
	case TxRegister:
		return "register"
	case TxDeregister:
		return "deregister"
	case TxViolation:
		return "violation"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// OutPoint references one output of a committed or pending transaction.
type OutPoint struct {
	TxID  tmbytes.HexBytes `json:"txid"`
	Index uint32           `json:"index"`
}

// Key is a map key for the outpoint.
func (op OutPoint) Key() string {
	return fmt.Sprintf("%X:%d", []byte(op.TxID), op.Index)
}

func (op OutPoint) String() string {
	return op.Key()
}

type TxInput struct {
	Prev      OutPoint         `json:"prev"`
	PubKey    crypto.PubKey    `json:"pub_key"`
	Signature tmbytes.HexBytes `json:"signature"`
}

type TxOutput struct {
	Value uint64  `json:"value"`
	Owner Address `json:"owner"`
}

// MemberChange is the payload of register and deregister transactions.
type MemberChange struct {
	Member       Member           `json:"member"`
	AuthoritySig tmbytes.HexBytes `json:"authority_sig"`
}

type Tx struct {
	Type       TxType     `json:"type"`
	Inputs     []TxInput  `json:"inputs"`
	Outputs    []TxOutput `json:"outputs"`
	LockHeight int64      `json:"lock_height"`
	Nonce      uint64     `json:"nonce"`

	Registration   *MemberChange    `json:"registration,omitempty"`
	Deregistration *MemberChange    `json:"deregistration,omitempty"`
	Violation      *ViolationRecord `json:"violation,omitempty"`
}

// NewCoinbaseTx credits value to owner, spendable from height+maturity.
func NewCoinbaseTx(owner Address, value uint64, height, maturity int64) *Tx {
	return &Tx{
		Type:       TxCoinbase,
		Outputs:    []TxOutput{{Value: value, Owner: owner}},
		LockHeight: height + maturity,
	}
}

func NewViolationTx(rec ViolationRecord) *Tx {
	r := rec
	return &Tx{Type: TxViolation, Violation: &r}
}

func NewRegisterTx(m Member, authoritySig []byte) *Tx {
	return &Tx{Type: TxRegister, Registration: &MemberChange{Member: m, AuthoritySig: authoritySig}}
}

func NewDeregisterTx(m Member, authoritySig []byte) *Tx {
	return &Tx{Type: TxDeregister, Deregistration: &MemberChange{Member: m, AuthoritySig: authoritySig}}
}

// SignBytes is the encoding covered by input signatures and the tx id.
func (tx *Tx) SignBytes() []byte {
	cp := *tx
	if len(tx.Inputs) > 0 {
		cp.Inputs = make([]TxInput, len(tx.Inputs))
		for i, in := range tx.Inputs {
			in.Signature = nil
			cp.Inputs[i] = in
		}
	}
	bz, err := tmjson.Marshal(cp)
	if err != nil {
		panic(err)
	}
	return bz
}

// ID is the double sha256 of the unsigned transaction.
func (tx *Tx) ID() tmbytes.HexBytes {
	return DoubleSha256(tx.SignBytes())
}

// Sign attaches keys and signatures to every input. A single key signs all inputs.
func (tx *Tx) Sign(keys ...crypto.PrivKey) error {
	if len(keys) == 0 {
		return errors.New("no signing keys")
	}
	if len(keys) != 1 && len(keys) != len(tx.Inputs) {
		return fmt.Errorf("expected 1 or %d keys, got %d", len(tx.Inputs), len(keys))
	}
	key := func(i int) crypto.PrivKey {
		if len(keys) == 1 {
			return keys[0]
		}
		return keys[i]
	}
	for i := range tx.Inputs {
		tx.Inputs[i].PubKey = key(i).PubKey()
	}
	msg := tx.SignBytes()
	for i := range tx.Inputs {
		sig, err := key(i).Sign(msg)
		if err != nil {
			return err
		}
		tx.Inputs[i].Signature = sig
	}
	return nil
}

// OutPoint returns the reference to output i of tx.
func (tx *Tx) OutPoint(i int) OutPoint {
	return OutPoint{TxID: tx.ID(), Index: uint32(i)}
}

// OutputTotal sums outputs, failing on overflow.
func (tx *Tx) OutputTotal() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if out.Value > math.MaxUint64-total {
			return 0, errors.New("output total overflows")
		}
		total += out.Value
	}
	return total, nil
}

// ValidateBasic checks the shape of the transaction for its type.
func (tx *Tx) ValidateBasic() error {
	if tx == nil {
		return errors.New("nil tx")
	}
	if _, err := tx.OutputTotal(); err != nil {
		return err
	}
	for i, out := range tx.Outputs {
		if len(out.Owner) != crypto.AddressSize {
			return fmt.Errorf("output %d has a malformed owner", i)
		}
	}
	seen := make(map[string]struct{}, len(tx.Inputs))
	for i, in := range tx.Inputs {
		if len(in.Prev.TxID) == 0 {
			return fmt.Errorf("input %d has no previous txid", i)
		}
		if _, ok := seen[in.Prev.Key()]; ok {
			return fmt.Errorf("input %d spends %v twice", i, in.Prev)
		}
		seen[in.Prev.Key()] = struct{}{}
	}

	switch tx.Type {
	case TxTransfer:
		if len(tx.Inputs) == 0 {
			return errors.New("transfer without inputs")
		}
	case TxCoinbase:
		if len(tx.Inputs) != 0 {
			return errors.New("coinbase with inputs")
		}
	case TxRegister:
		if tx.Registration == nil {
			return errors.New("register tx without registration")
		}
		return tx.Registration.Member.ValidateBasic()
	case TxDeregister:
		if tx.Deregistration == nil {
			return errors.New("deregister tx without member")
		}
		return tx.Deregistration.Member.ValidateBasic()
	case TxViolation:
		if tx.Violation == nil {
			return errors.New("violation tx without record")
		}
		if len(tx.Inputs) != 0 || len(tx.Outputs) != 0 {
			return errors.New("violation tx moves value")
		}
		return tx.Violation.ValidateBasic()
	default:
		return fmt.Errorf("unknown tx type %d", tx.Type)
	}
	return nil
}

func (tx *Tx) Bytes() []byte {
	bz, err := tmjson.Marshal(tx)
	if err != nil {
		panic(err)
	}
	return bz
}

func (tx *Tx) String() string {
	return fmt.Sprintf("Tx{%v %v}", tx.Type, tx.ID())
}

func TxFromBytes(bz []byte) (*Tx, error) {
	tx := new(Tx)
	if err := tmjson.Unmarshal(bz, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ===== tx array =====
type Txs []*Tx

// Hash returns the merkle root over the transaction ids.
func (txs Txs) Hash() tmbytes.HexBytes {
	txBzs := make([][]byte, len(txs))
	for i := 0; i < len(txs); i++ {
		txBzs[i] = txs[i].ID()
	}
	return merkle.HashFromByteSlices(txBzs)
}

func (txs Txs) Size() int {
	var n int
	for _, tx := range txs {
		n += len(tx.Bytes())
	}
	return n
}
