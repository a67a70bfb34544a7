package types

import (
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// MessageType enumerates consensus message payloads.
type MessageType uint8

const (
	PullState     MessageType = 1
	StateResponse MessageType = 2
	Evidence      MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case PullState:
		return "PullState"
	case StateResponse:
		return "StateResponse"
	case Evidence:
		return "Evidence"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Direct reports whether the message is sent point-to-point instead of via
// inventory announcements.
func (t MessageType) Direct() bool {
	return t == PullState || t == StateResponse
}

// RoundMessage is the signed envelope of every consensus message.
type RoundMessage struct {
	Version    uint32             `json:"version"`
	Sender     Address            `json:"sender"`
	SenderKeys []crypto.PubKey    `json:"sender_keys"`
	RoundStart int64              `json:"round_start"`
	Timestamp  int64              `json:"timestamp"`
	Nonce      uint64             `json:"nonce"`
	Type       MessageType        `json:"type"`
	Payload    tmbytes.HexBytes   `json:"payload"`
	Signatures []tmbytes.HexBytes `json:"signatures,omitempty"`
}

// SignBytes is the message encoding without signatures.
func (m *RoundMessage) SignBytes() []byte {
	cp := *m
	cp.Signatures = nil
	bz, err := tmjson.Marshal(cp)
	if err != nil {
		panic(err)
	}
	return bz
}

// ID is the double sha256 of SignBytes.
func (m *RoundMessage) ID() tmbytes.HexBytes {
	return DoubleSha256(m.SignBytes())
}

// SetPayload encodes v as the message payload.
func (m *RoundMessage) SetPayload(v interface{}) error {
	bz, err := tmjson.Marshal(v)
	if err != nil {
		return err
	}
	m.Payload = bz
	return nil
}

// DecodePayload decodes the payload into v.
func (m *RoundMessage) DecodePayload(v interface{}) error {
	return tmjson.Unmarshal(m.Payload, v)
}

func (m *RoundMessage) ValidateBasic() error {
	if m == nil {
		return errors.New("nil message")
	}
	switch m.Type {
	case PullState, StateResponse, Evidence:
	default:
		return fmt.Errorf("unknown message type %d", m.Type)
	}
	if len(m.SenderKeys) == 0 || len(m.SenderKeys) > MaxMemberKeys {
		return errors.New("message sender keys missing or too many")
	}
	if !AddressEqual(m.Sender, IdentityHashFromKeys(m.SenderKeys)) {
		return errors.New("message sender does not match its keys")
	}
	if len(m.Signatures) != len(m.SenderKeys) {
		return errors.New("message signature count does not match sender keys")
	}
	return nil
}

func (m *RoundMessage) String() string {
	return fmt.Sprintf("RoundMessage{%v from %v round %d}", m.Type, m.Sender, m.RoundStart)
}

// ----------------------------------------------------------------------------

// PrivValidator signs on behalf of the local member identity.
type PrivValidator interface {
	IdentityHash() Address
	PubKeys() []crypto.PubKey
	// Sign signs msg with every key of the identity, in key order.
	Sign(msg []byte) ([][]byte, error)
}

// SignMessage fills sender fields and signatures of msg.
func SignMessage(pv PrivValidator, msg *RoundMessage) error {
	msg.Sender = pv.IdentityHash()
	msg.SenderKeys = pv.PubKeys()
	sigs, err := pv.Sign(msg.ID())
	if err != nil {
		return err
	}
	msg.Signatures = make([]tmbytes.HexBytes, len(sigs))
	for i, s := range sigs {
		msg.Signatures[i] = s
	}
	return nil
}

// SignHeader fills producer and signatures of header.
func SignHeader(pv PrivValidator, header *Header) error {
	header.Producer = pv.IdentityHash()
	sigs, err := pv.Sign(header.Hash())
	if err != nil {
		return err
	}
	header.Signatures = make([]tmbytes.HexBytes, len(sigs))
	for i, s := range sigs {
		header.Signatures[i] = s
	}
	return nil
}
