package types

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/tendermint/tendermint/crypto/merkle"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// Block is the unit of the local chain.
type Block struct {
	Header `json:"header"`
	Txs    Txs `json:"txs"`
}

// MakeBlock fills the tx root of header and returns the unsigned block.
func MakeBlock(header Header, txs Txs) *Block {
	if txs == nil {
		txs = Txs{}
	}
	header.TxsHash = txs.Hash()
	return &Block{Header: header, Txs: txs}
}

// ValidateBasic checks the block has no obvious structural errors.
func (b *Block) ValidateBasic() error {
	if b == nil {
		return errors.New("nil block")
	}
	if err := b.Header.ValidateBasic(); err != nil {
		return err
	}
	if !bytes.Equal(b.TxsHash, b.Txs.Hash()) {
		return errors.New("txs hash does not match block txs")
	}
	coinbases := 0
	for i, tx := range b.Txs {
		if err := tx.ValidateBasic(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		if tx.Type == TxCoinbase {
			coinbases++
		}
	}
	if !b.IsGenesis() {
		if len(b.Signatures) == 0 {
			return errors.New("block had no signature")
		}
		if coinbases > 1 {
			return errors.New("block has more than one coinbase")
		}
	}
	return nil
}

func (b *Block) Bytes() []byte {
	bz, err := tmjson.Marshal(b)
	if err != nil {
		panic(err)
	}
	return bz
}

func BlockFromBytes(bz []byte) (*Block, error) {
	b := new(Block)
	if err := tmjson.Unmarshal(bz, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{#%d %v slot %d/%d txs %d}", b.Height, b.Hash(), b.TimePeriod, b.PeriodCount, len(b.Txs))
}

type Header struct {
	ChainID  string           `json:"chain_id"`
	Height   int64            `json:"height"`
	PrevHash tmbytes.HexBytes `json:"prev_hash"`
	// Timestamp is the end of the producing slot, unix seconds.
	Timestamp int64 `json:"timestamp"`

	// round placement: member count, slot index and the height the round started at
	PeriodCount      int   `json:"period_count"`
	TimePeriod       int   `json:"time_period"`
	PeriodStartPoint int64 `json:"period_start_point"`

	TxsHash    tmbytes.HexBytes   `json:"txs_hash"`
	Producer   Address            `json:"producer"`
	Signatures []tmbytes.HexBytes `json:"signatures,omitempty"` // not part of the hash
}

// Hash is the merkle root of the header fields, signatures excluded.
func (h Header) Hash() tmbytes.HexBytes {
	return merkle.HashFromByteSlices([][]byte{
		[]byte(h.ChainID),
		int64Bytes(h.Height),
		h.PrevHash,
		int64Bytes(h.Timestamp),
		int64Bytes(int64(h.PeriodCount)),
		int64Bytes(int64(h.TimePeriod)),
		int64Bytes(h.PeriodStartPoint),
		h.TxsHash,
		h.Producer,
	})
}

func (h Header) IsGenesis() bool {
	return h.Height == 0
}

func (h Header) Time() time.Time {
	return time.Unix(h.Timestamp, 0)
}

// SignatureBytes returns the signatures as a plain slice.
func (h Header) SignatureBytes() [][]byte {
	sigs := make([][]byte, len(h.Signatures))
	for i, s := range h.Signatures {
		sigs[i] = s
	}
	return sigs
}

func (h Header) ValidateBasic() error {
	if h.Height < 0 {
		return errors.New("negative height")
	}
	if h.IsGenesis() {
		return nil
	}
	if len(h.PrevHash) == 0 {
		return errors.New("block had no previous hash")
	}
	if h.PeriodCount <= 0 {
		return errors.New("block has no period count")
	}
	if h.TimePeriod < 0 || h.TimePeriod >= h.PeriodCount {
		return fmt.Errorf("time period %d out of range [0,%d)", h.TimePeriod, h.PeriodCount)
	}
	if h.PeriodStartPoint < 0 || h.PeriodStartPoint >= h.Height {
		return fmt.Errorf("period start point %d is not below height %d", h.PeriodStartPoint, h.Height)
	}
	if len(h.Producer) == 0 {
		return errors.New("block had no producer")
	}
	return nil
}
