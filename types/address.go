package types

import (
	"bytes"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

// Address identifies a member or an output owner. It is always crypto.AddressSize bytes.
type Address = crypto.Address

// GetAddress returns the address of a single-key owner.
func GetAddress(key crypto.PubKey) Address {
	return key.Address()
}

// IdentityHashFromKeys derives a member identity. A single key maps to its
// plain address, a multi-key identity hashes the concatenated key bytes.
func IdentityHashFromKeys(keys []crypto.PubKey) Address {
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return keys[0].Address()
	}
	var buf []byte
	for _, k := range keys {
		buf = append(buf, k.Bytes()...)
	}
	return Address(tmhash.SumTruncated(buf))
}

func AddressEqual(a, b Address) bool {
	if a == nil || b == nil {
		return false
	}
	return bytes.Equal(a, b)
}
