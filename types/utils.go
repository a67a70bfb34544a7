package types

import (
	"encoding/binary"
	"strconv"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

// DoubleSha256 returns sha256(sha256(parts...)).
func DoubleSha256(parts ...[]byte) []byte {
	h := tmhash.New()
	for _, p := range parts {
		h.Write(p)
	}
	return tmhash.Sum(h.Sum(nil))
}

func int64Bytes(v int64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, uint64(v))
	return bz
}

func decimalBytes(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}
