package types

// UTXO is a committed, unspent transaction output.
type UTXO struct {
	OutPoint   OutPoint `json:"outpoint"`
	Output     TxOutput `json:"output"`
	Height     int64    `json:"height"`      // block that created it
	LockHeight int64    `json:"lock_height"` // first height it may be spent at
}

// Spendable reports whether the output may be spent in a block at height.
func (u UTXO) Spendable(height int64) bool {
	return height >= u.LockHeight
}
