package consensus

import (
	"fmt"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"slotchain/types"
)

// InvKind tells what an inventory hash refers to.
type InvKind uint8

const (
	InvBlock     = InvKind(0x01)
	InvConsensus = InvKind(0x02)
)

func (k InvKind) String() string {
	switch k {
	case InvBlock:
		return "block"
	case InvConsensus:
		return "consensus"
	default:
		return fmt.Sprintf("InvKind(%d)", uint8(k))
	}
}

// Message is a message sent between consensus reactors.
type Message interface {
	ValidateBasic() error
}

const (
	msgTypeStatus    = byte(0x01)
	msgTypeInv       = byte(0x02)
	msgTypeGetData   = byte(0x03)
	msgTypeBlock     = byte(0x04)
	msgTypeConsensus = byte(0x05)
)

// encodeMsg prefixes the JSON encoding of msg with its type byte.
func encodeMsg(msg Message) ([]byte, error) {
	var typ byte
	switch msg.(type) {
	case *StatusMessage:
		typ = msgTypeStatus
	case *InvMessage:
		typ = msgTypeInv
	case *GetDataMessage:
		typ = msgTypeGetData
	case *BlockMessage:
		typ = msgTypeBlock
	case *ConsensusMessage:
		typ = msgTypeConsensus
	default:
		return nil, fmt.Errorf("unknown message %T", msg)
	}
	bz, err := tmjson.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append([]byte{typ}, bz...), nil
}

func mustEncode(msg Message) []byte {
	bz, err := encodeMsg(msg)
	if err != nil {
		panic(err)
	}
	return bz
}

func decodeMsg(bz []byte) (Message, error) {
	if len(bz) < 2 {
		return nil, errors.Wrap(ErrMalformedMessage, "message too short")
	}
	var msg Message
	switch bz[0] {
	case msgTypeStatus:
		msg = &StatusMessage{}
	case msgTypeInv:
		msg = &InvMessage{}
	case msgTypeGetData:
		msg = &GetDataMessage{}
	case msgTypeBlock:
		msg = &BlockMessage{}
	case msgTypeConsensus:
		msg = &ConsensusMessage{}
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unknown message type %X", bz[0])
	}
	if err := tmjson.Unmarshal(bz[1:], msg); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	return msg, nil
}

//-------------------------------------

// StatusMessage advertises the best height of the sender.
type StatusMessage struct {
	BestHeight int64 `json:"best_height"`
}

func (m *StatusMessage) ValidateBasic() error {
	if m.BestHeight < 0 {
		return errors.New("negative best height")
	}
	return nil
}

func (m *StatusMessage) String() string {
	return fmt.Sprintf("[Status %d]", m.BestHeight)
}

// InvMessage announces that the sender holds the item with Hash.
type InvMessage struct {
	Kind InvKind          `json:"kind"`
	Hash tmbytes.HexBytes `json:"hash"`
}

func (m *InvMessage) ValidateBasic() error {
	return validateInv(m.Kind, m.Hash)
}

func (m *InvMessage) String() string {
	return fmt.Sprintf("[Inv %v %v]", m.Kind, m.Hash)
}

// GetDataMessage requests an announced item.
type GetDataMessage struct {
	Kind InvKind          `json:"kind"`
	Hash tmbytes.HexBytes `json:"hash"`
}

func (m *GetDataMessage) ValidateBasic() error {
	return validateInv(m.Kind, m.Hash)
}

func (m *GetDataMessage) String() string {
	return fmt.Sprintf("[GetData %v %v]", m.Kind, m.Hash)
}

func validateInv(kind InvKind, hash []byte) error {
	if kind != InvBlock && kind != InvConsensus {
		return fmt.Errorf("unknown inventory kind %d", kind)
	}
	if len(hash) != 32 {
		return fmt.Errorf("inventory hash has %d bytes", len(hash))
	}
	return nil
}

type BlockMessage struct {
	Block *types.Block `json:"block"`
}

func (m *BlockMessage) ValidateBasic() error {
	return m.Block.ValidateBasic()
}

func (m *BlockMessage) String() string {
	return fmt.Sprintf("[Block %v]", m.Block)
}

// ConsensusMessage carries a signed round message.
type ConsensusMessage struct {
	Message *types.RoundMessage `json:"message"`
}

func (m *ConsensusMessage) ValidateBasic() error {
	if m.Message == nil {
		return errors.New("nil round message")
	}
	return m.Message.ValidateBasic()
}

func (m *ConsensusMessage) String() string {
	return fmt.Sprintf("[Consensus %v]", m.Message)
}
