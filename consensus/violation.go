package consensus

import (
	cstypes "slotchain/consensus/types"
	sm "slotchain/state"
	"slotchain/types"
)

// DetectViolations returns a missed-slot record for every slot in [0, upto)
// of round that has no block on chain. Records already committed are left
// out. The result is in slot order.
func DetectViolations(round cstypes.Round, chain sm.ChainStore, upto int) ([]types.ViolationRecord, error) {
	if upto > round.Size() {
		upto = round.Size()
	}
	if upto <= 0 {
		return nil, nil
	}

	filled, err := roundBlocks(round, chain)
	if err != nil {
		return nil, err
	}

	var recs []types.ViolationRecord
	for i := 0; i < upto; i++ {
		if _, ok := filled[i]; ok {
			continue
		}
		rec := types.NewMissedSlotRecord(round.Members[i].IdentityHash, round.StartHeight, round.StartTime, i)
		recorded, err := chain.HasEvidence(rec.EvidenceHash())
		if err != nil {
			return nil, err
		}
		if !recorded {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// roundBlocks maps slot index to the stored header produced in it. A round's
// blocks directly follow its start height.
func roundBlocks(round cstypes.Round, chain sm.ChainStore) (map[int]*types.Header, error) {
	filled := make(map[int]*types.Header)
	for h := round.StartHeight + 1; h <= round.EndHeight(); h++ {
		header, err := chain.HeaderAtHeight(h)
		if err != nil {
			return nil, err
		}
		if header == nil || header.PeriodStartPoint != round.StartHeight {
			break
		}
		if !inRound(round, *header) {
			// late block of an earlier round with the same start height
			continue
		}
		filled[header.TimePeriod] = header
	}
	return filled, nil
}

// inRound reports whether h carries the end of one of round's slots.
func inRound(round cstypes.Round, h types.Header) bool {
	if h.TimePeriod < 0 || h.TimePeriod >= round.Size() {
		return false
	}
	_, end := round.SlotBounds(h.TimePeriod)
	return h.Timestamp == end
}
