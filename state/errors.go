package state

import (
	"fmt"

	"github.com/pkg/errors"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

var (
	// ErrMissingHistoricalBlock aborts membership reconstruction and the
	// round transition that needed it.
	ErrMissingHistoricalBlock = errors.New("missing historical block")

	// ErrProductionFailure wraps anything that made the local slot miss.
	ErrProductionFailure = errors.New("block production failed")
)

// TxErrorKind separates permanent rejections from retryable ones.
type TxErrorKind int

const (
	// TxInvalid: drop the transaction.
	TxInvalid TxErrorKind = iota
	// TxOutOfOrder: return the transaction to the pool for a later block.
	TxOutOfOrder
)

func (k TxErrorKind) String() string {
	if k == TxOutOfOrder {
		return "out-of-order"
	}
	return "invalid"
}

// TxError is returned by transaction admission.
type TxError struct {
	Kind   TxErrorKind
	TxID   tmbytes.HexBytes
	Reason string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%v transaction %v: %s", e.Kind, e.TxID, e.Reason)
}

func invalidTx(id tmbytes.HexBytes, format string, args ...interface{}) error {
	return &TxError{Kind: TxInvalid, TxID: id, Reason: fmt.Sprintf(format, args...)}
}

func outOfOrderTx(id tmbytes.HexBytes, format string, args ...interface{}) error {
	return &TxError{Kind: TxOutOfOrder, TxID: id, Reason: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether err marks a transaction that should be requeued.
func IsRetryable(err error) bool {
	var te *TxError
	return errors.As(err, &te) && te.Kind == TxOutOfOrder
}

// IsInvalidTx reports whether err marks a transaction that should be dropped.
func IsInvalidTx(err error) bool {
	var te *TxError
	return errors.As(err, &te) && te.Kind == TxInvalid
}
