package types

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"slotchain/types"
)

func testMembers(n int) types.Members {
	ms := make(types.Members, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("m%d", i)
		ms[i] = types.NewMember(name, ed25519.GenPrivKeyFromSecret([]byte(name)).PubKey())
	}
	return ms
}

func reversed(ms types.Members) types.Members {
	out := make(types.Members, len(ms))
	for i, m := range ms {
		out[len(ms)-1-i] = m
	}
	return out
}

func TestComputeRoundDeterministic(t *testing.T) {
	ms := testMembers(5)

	r1 := ComputeRound(1000, 7, 10, ms, nil)
	r2 := ComputeRound(1000, 7, 10, reversed(ms), nil)
	require.Equal(t, r1.Size(), r2.Size())
	for i := range r1.Members {
		assert.Equal(t, r1.Members[i].IdentityHash, r2.Members[i].IdentityHash)
	}

	// a different start time reshuffles the order for some start time
	reordered := false
	for st := int64(1001); st < 1020 && !reordered; st++ {
		r3 := ComputeRound(st, 7, 10, ms, nil)
		for i := range r1.Members {
			if !r1.Members[i].Equal(r3.Members[i]) {
				reordered = true
			}
		}
	}
	assert.True(t, reordered)
}

func TestComputeRoundSortedBySortKey(t *testing.T) {
	r := ComputeRound(5000, 0, 10, testMembers(6), nil)
	for i := 1; i < r.Size(); i++ {
		prev := r.Members[i-1].SortKey(5000)
		cur := r.Members[i].SortKey(5000)
		assert.True(t, string(prev) < string(cur), "slot %d out of order", i)
	}
}

func TestComputeRoundContiguousSlots(t *testing.T) {
	r := ComputeRound(1000, 3, 10, testMembers(4), nil)

	for i := 0; i < r.Size(); i++ {
		start, end := r.SlotBounds(i)
		assert.EqualValues(t, 1000+10*i, start)
		assert.EqualValues(t, start+10, end)
		if i > 0 {
			_, prevEnd := r.SlotBounds(i - 1)
			assert.Equal(t, prevEnd, start)
		}
	}
	_, lastEnd := r.SlotBounds(r.Size() - 1)
	assert.Equal(t, r.EndTime, lastEnd)
	assert.EqualValues(t, 1040, r.EndTime)
	assert.EqualValues(t, 4, r.EndHeight()-r.StartHeight)
}

func TestComputeRoundScenarioThreeMembers(t *testing.T) {
	ms := testMembers(3)
	local := ms[1]

	r := ComputeRound(1000, 0, 10, ms, local.IdentityHash)
	require.True(t, r.HasLocalSlot())
	assert.True(t, r.Members[r.LocalIndex].Equal(local))
	assert.EqualValues(t, 1000+10*r.LocalIndex, r.LocalSlotStart)
	assert.EqualValues(t, 1010+10*r.LocalIndex, r.LocalSlotEnd)
	assert.EqualValues(t, 1030, r.EndTime)

	assert.True(t, r.LocalSlotActive(r.LocalSlotStart))
	assert.False(t, r.LocalSlotActive(r.LocalSlotEnd))

	observer := ComputeRound(1000, 0, 10, ms, types.Address(make([]byte, 20)))
	assert.Equal(t, -1, observer.LocalIndex)
	assert.False(t, observer.LocalSlotActive(1000))
}

func TestRoundCompletion(t *testing.T) {
	r := ComputeRound(1000, 10, 10, testMembers(3), nil)

	assert.False(t, r.IsComplete(12, 1029))
	assert.True(t, r.IsComplete(13, 1001), "complete by height")
	assert.True(t, r.IsComplete(11, 1030), "complete by time")

	assert.Equal(t, 0, r.SlotAt(1000))
	assert.Equal(t, 2, r.SlotAt(1029))
	assert.Equal(t, -1, r.SlotAt(1030))
	assert.Equal(t, -1, r.SlotAt(999))
}

func TestRoundStatusAt(t *testing.T) {
	ms := testMembers(3)
	r := ComputeRound(1000, 0, 10, ms, ms[0].IdentityHash)
	assert.Equal(t, RoundStatusWaitReady, r.StatusAt(1000))

	r.Initialized = true
	assert.Equal(t, RoundStatusWaitBegin, r.StatusAt(999))
	assert.Equal(t, RoundStatusConsensus, r.StatusAt(r.LocalSlotStart))
	assert.Equal(t, RoundStatusConsensusWaitNext, r.StatusAt(r.LocalSlotEnd))

	r.Produced = true
	assert.Equal(t, RoundStatusConsensusWaitNext, r.StatusAt(r.LocalSlotStart))
}

func TestRoundValueCopy(t *testing.T) {
	r := ComputeRound(1000, 0, 10, testMembers(3), nil)
	r.Initialized = true

	cp := r
	cp.Produced = true
	cp.Status = RoundStatusConsensusWaitNext
	assert.False(t, r.Produced)
	assert.Equal(t, RoundStatusWaitReady, r.Status)
	assert.True(t, r.SameRound(cp))
}

func TestRoundJSONRoundTrip(t *testing.T) {
	ms := testMembers(4)
	r := ComputeRound(1000, 12, 10, ms, ms[2].IdentityHash)
	r.Initialized = true
	r.Status = RoundStatusConsensus

	bz, err := tmjson.Marshal(r)
	require.NoError(t, err)
	var decoded Round
	require.NoError(t, tmjson.Unmarshal(bz, &decoded))

	opts := cmp.Comparer(func(a, b types.Member) bool { return a.Equal(b) })
	assert.Empty(t, cmp.Diff(r, decoded, opts))
}

func TestRoundAnchor(t *testing.T) {
	genesis := types.Header{Height: 0, Timestamp: 1000}
	st, sh := RoundAnchor(genesis, 10)
	assert.EqualValues(t, 1000, st)
	assert.EqualValues(t, 0, sh)

	h := types.Header{Height: 6, Timestamp: 1130, PeriodCount: 4, TimePeriod: 2, PeriodStartPoint: 4}
	st, sh = RoundAnchor(h, 10)
	assert.EqualValues(t, 1100, st)
	assert.EqualValues(t, 4, sh)
}

func TestNextRoundStartCarriesOverMissedSlots(t *testing.T) {
	// five members, slots 0..2 produced, 3 and 4 missed
	prev := ComputeRound(1000, 20, 10, testMembers(5), nil)
	last := &types.Header{Height: 23, Timestamp: 1030, PeriodCount: 5, TimePeriod: 2, PeriodStartPoint: 20}

	start := NextRoundStart(prev, last, 5, 1050)
	assert.EqualValues(t, last.Timestamp+2*10, start)
	assert.Equal(t, prev.EndTime, start)

	full := &types.Header{Height: 25, Timestamp: 1050, PeriodCount: 5, TimePeriod: 4, PeriodStartPoint: 20}
	assert.EqualValues(t, 1050, NextRoundStart(prev, full, 5, 1045))

	assert.EqualValues(t, 1050, NextRoundStart(prev, nil, 5, 1050), "empty round")
}

func TestNextRoundStartSkipsPastRounds(t *testing.T) {
	prev := ComputeRound(1000, 20, 10, testMembers(3), nil)

	start := NextRoundStart(prev, nil, 3, 1030+95)
	assert.EqualValues(t, 1030+90, start)
	assert.True(t, start <= 1125 && 1125 < start+30)
}
