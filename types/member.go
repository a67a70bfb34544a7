package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/tendermint/crypto"
	tmjson "github.com/tendermint/tendermint/libs/json"
)

// MaxMemberKeys is the largest key set a single identity may carry.
const MaxMemberKeys = 2

// Member is a registered participant of the round schedule.
type Member struct {
	IdentityHash Address         `json:"identity_hash"`
	PubKeys      []crypto.PubKey `json:"pub_keys"`
	Name         string          `json:"name,omitempty"`
}

// NewMember returns a member whose identity is derived from keys.
func NewMember(name string, keys ...crypto.PubKey) Member {
	return Member{
		IdentityHash: IdentityHashFromKeys(keys),
		PubKeys:      keys,
		Name:         name,
	}
}

// ValidateBasic performs basic validation.
func (m Member) ValidateBasic() error {
	if len(m.PubKeys) == 0 {
		return errors.New("member does not have a public key")
	}
	if len(m.PubKeys) > MaxMemberKeys {
		return fmt.Errorf("member has too many public keys: %d", len(m.PubKeys))
	}
	if len(m.IdentityHash) != crypto.AddressSize {
		return fmt.Errorf("member identity is the wrong size: %v", m.IdentityHash)
	}
	if !bytes.Equal(m.IdentityHash, IdentityHashFromKeys(m.PubKeys)) {
		return errors.New("member identity does not match its keys")
	}
	return nil
}

// SortKey orders members inside the round starting at startTime.
func (m Member) SortKey(startTime int64) []byte {
	return DoubleSha256(
		decimalBytes(startTime),
		[]byte(strings.ToLower(hex.EncodeToString(m.IdentityHash))),
	)
}

// VerifySignatures reports whether every key of the member signed msg.
// sigs must be aligned with PubKeys.
func (m Member) VerifySignatures(msg []byte, sigs [][]byte) bool {
	if len(sigs) != len(m.PubKeys) || len(sigs) == 0 {
		return false
	}
	for i, k := range m.PubKeys {
		if !k.VerifySignature(msg, sigs[i]) {
			return false
		}
	}
	return true
}

func (m Member) Equal(other Member) bool {
	if !bytes.Equal(m.IdentityHash, other.IdentityHash) || len(m.PubKeys) != len(other.PubKeys) {
		return false
	}
	for i := range m.PubKeys {
		if !m.PubKeys[i].Equals(other.PubKeys[i]) {
			return false
		}
	}
	return true
}

// Bytes is the canonical encoding used in registration signatures.
func (m Member) Bytes() []byte {
	bz, err := tmjson.Marshal(m)
	if err != nil {
		panic(err)
	}
	return bz
}

func (m Member) String() string {
	if m.Name != "" {
		return fmt.Sprintf("Member{%v %s}", m.IdentityHash, m.Name)
	}
	return fmt.Sprintf("Member{%v}", m.IdentityHash)
}

// Members is an ordered member list.
type Members []Member

// IndexOf returns the position of id, or -1.
func (ms Members) IndexOf(id Address) int {
	if id == nil {
		return -1
	}
	for i, m := range ms {
		if bytes.Equal(m.IdentityHash, id) {
			return i
		}
	}
	return -1
}

func (ms Members) Copy() Members {
	if ms == nil {
		return nil
	}
	cp := make(Members, len(ms))
	copy(cp, ms)
	return cp
}

// RegistrationSignBytes is what the authority signs to admit or remove a member.
func RegistrationSignBytes(chainID string, txType TxType, m Member) []byte {
	return DoubleSha256([]byte(chainID), []byte{byte(txType)}, m.Bytes())
}
