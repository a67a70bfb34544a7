package types

import (
	"bytes"
	"sort"

	"slotchain/types"
)

// ComputeRound orders members for the round starting at startTime and lays
// out one contiguous slot per member. The result depends only on its inputs.
func ComputeRound(startTime, startHeight, interval int64, members types.Members, local types.Address) Round {
	type keyed struct {
		key    []byte
		member types.Member
	}
	ks := make([]keyed, len(members))
	for i, m := range members {
		ks[i] = keyed{key: m.SortKey(startTime), member: m}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if c := bytes.Compare(ks[i].key, ks[j].key); c != 0 {
			return c < 0
		}
		return bytes.Compare(ks[i].member.IdentityHash, ks[j].member.IdentityHash) < 0
	})

	ordered := make(types.Members, len(ks))
	for i, k := range ks {
		ordered[i] = k.member
	}

	r := Round{
		StartTime:     startTime,
		EndTime:       startTime + int64(len(ordered))*interval,
		StartHeight:   startHeight,
		BlockInterval: interval,
		Members:       ordered,
		Status:        RoundStatusWaitReady,
		LocalIndex:    ordered.IndexOf(local),
	}
	if r.LocalIndex >= 0 {
		r.LocalSlotStart, r.LocalSlotEnd = r.SlotBounds(r.LocalIndex)
	}
	return r
}

// RoundAnchor recovers start time and start height of the round that header
// was produced in. The genesis header anchors the first round.
func RoundAnchor(header types.Header, interval int64) (startTime, startHeight int64) {
	if header.IsGenesis() || header.PeriodCount == 0 {
		return header.Timestamp, header.Height
	}
	return header.Timestamp - int64(header.TimePeriod+1)*interval, header.PeriodStartPoint
}

// NextRoundStart returns the start of the round following prev. last is the
// newest block of prev, or nil if prev produced nothing. Missed trailing
// slots are carried over so slot windows stay contiguous across rounds, and
// rounds that lie entirely in the past are skipped.
func NextRoundStart(prev Round, last *types.Header, nextSize int, now int64) int64 {
	start := prev.EndTime
	if last != nil && !last.IsGenesis() && last.PeriodStartPoint == prev.StartHeight {
		start = last.Timestamp + int64(prev.Size()-1-last.TimePeriod)*prev.BlockInterval
	}
	span := int64(nextSize) * prev.BlockInterval
	if span > 0 && now >= start+span {
		start += ((now - start) / span) * span
	}
	return start
}
