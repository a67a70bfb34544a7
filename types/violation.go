package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// ViolationKind tags the evidence variant carried by a ViolationRecord.
type ViolationKind uint8

const (
	ViolationMissedSlot ViolationKind = iota + 1
	ViolationEquivocation
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationMissedSlot:
		return "missed_slot"
	case ViolationEquivocation:
		return "equivocation"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// MissedSlotEvidence: the member scheduled at Slot produced nothing.
type MissedSlotEvidence struct {
	Slot           int   `json:"slot"`
	RoundStartTime int64 `json:"round_start_time"`
}

// EquivocationEvidence: two different headers signed for the same slot.
type EquivocationEvidence struct {
	HeaderA Header `json:"header_a"`
	HeaderB Header `json:"header_b"`
}

// ViolationRecord is the on-chain form of a detected violation. Exactly one
// evidence field is set, selected by Kind.
type ViolationRecord struct {
	Kind             ViolationKind `json:"kind"`
	Offender         Address       `json:"offender"`
	RoundStartHeight int64         `json:"round_start_height"`

	MissedSlot   *MissedSlotEvidence   `json:"missed_slot,omitempty"`
	Equivocation *EquivocationEvidence `json:"equivocation,omitempty"`
}

func NewMissedSlotRecord(offender Address, roundStartHeight, roundStartTime int64, slot int) ViolationRecord {
	return ViolationRecord{
		Kind:             ViolationMissedSlot,
		Offender:         offender,
		RoundStartHeight: roundStartHeight,
		MissedSlot:       &MissedSlotEvidence{Slot: slot, RoundStartTime: roundStartTime},
	}
}

func NewEquivocationRecord(a, b Header) ViolationRecord {
	// keep the variant canonical regardless of detection order
	if bytes.Compare(a.Hash(), b.Hash()) > 0 {
		a, b = b, a
	}
	return ViolationRecord{
		Kind:             ViolationEquivocation,
		Offender:         a.Producer,
		RoundStartHeight: a.PeriodStartPoint,
		Equivocation:     &EquivocationEvidence{HeaderA: a, HeaderB: b},
	}
}

// EvidenceHash is the dedup key of the record. At most one record per hash is
// ever committed.
func (r ViolationRecord) EvidenceHash() tmbytes.HexBytes {
	parts := [][]byte{{byte(r.Kind)}, r.Offender, int64Bytes(r.RoundStartHeight)}
	switch r.Kind {
	case ViolationMissedSlot:
		if r.MissedSlot != nil {
			parts = append(parts, int64Bytes(int64(r.MissedSlot.Slot)), int64Bytes(r.MissedSlot.RoundStartTime))
		}
	case ViolationEquivocation:
		if r.Equivocation != nil {
			parts = append(parts, r.Equivocation.HeaderA.Hash(), r.Equivocation.HeaderB.Hash())
		}
	}
	return DoubleSha256(parts...)
}

func (r ViolationRecord) ValidateBasic() error {
	if len(r.Offender) != crypto.AddressSize {
		return errors.New("violation offender is malformed")
	}
	if r.RoundStartHeight < 0 {
		return errors.New("negative round start height")
	}
	switch r.Kind {
	case ViolationMissedSlot:
		if r.MissedSlot == nil || r.Equivocation != nil {
			return errors.New("missed slot record carries the wrong evidence")
		}
		if r.MissedSlot.Slot < 0 {
			return errors.New("negative slot index")
		}
	case ViolationEquivocation:
		if r.Equivocation == nil || r.MissedSlot != nil {
			return errors.New("equivocation record carries the wrong evidence")
		}
		a, b := r.Equivocation.HeaderA, r.Equivocation.HeaderB
		if a.Height != b.Height || a.TimePeriod != b.TimePeriod || a.PeriodStartPoint != b.PeriodStartPoint {
			return errors.New("equivocation headers are for different slots")
		}
		if !bytes.Equal(a.Producer, b.Producer) || !bytes.Equal(a.Producer, r.Offender) {
			return errors.New("equivocation headers have different producers")
		}
		if bytes.Equal(a.Hash(), b.Hash()) {
			return errors.New("equivocation headers are identical")
		}
	default:
		return fmt.Errorf("unknown violation kind %d", r.Kind)
	}
	return nil
}

func (r ViolationRecord) String() string {
	return fmt.Sprintf("Violation{%v %v @%d %v}", r.Kind, r.Offender, r.RoundStartHeight, r.EvidenceHash())
}
