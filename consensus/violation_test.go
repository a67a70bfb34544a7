package consensus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cstypes "slotchain/consensus/types"
	"slotchain/types"
)

func TestDetectViolations(t *testing.T) {
	n := newTestNode(t, memberKeys(3), -1)
	members, _ := n.pool.Snapshot()
	r := cstypes.ComputeRound(testGenesisTime, 0, testInterval, members, nil)

	require.NoError(t, n.chain.SaveBlock(n.slotBlock(t, r, 0, 0)))
	require.NoError(t, n.chain.SaveBlock(n.slotBlock(t, r, 2, 0)))

	recs, err := DetectViolations(r, n.chain, 1)
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = DetectViolations(r, n.chain, r.Size())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	want := types.NewMissedSlotRecord(r.Members[1].IdentityHash, 0, testGenesisTime, 1)
	assert.Equal(t, want.EvidenceHash(), recs[0].EvidenceHash())

	again, err := DetectViolations(r, n.chain, 10)
	require.NoError(t, err)
	if diff := cmp.Diff(recs, again); diff != "" {
		t.Errorf("detection is not repeatable (-first +second):\n%s", diff)
	}

	// once recorded by the next round the miss is no longer reported
	next := cstypes.ComputeRound(1030, 2, testInterval, members, nil)
	require.NoError(t, n.chain.SaveBlock(n.slotBlock(t, next, 0, 0, types.NewViolationTx(recs[0]))))
	recs, err = DetectViolations(r, n.chain, r.Size())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDetectViolationsMatchesSlotTimes(t *testing.T) {
	n := newTestNode(t, memberKeys(3), -1)
	members, _ := n.pool.Snapshot()
	first := cstypes.ComputeRound(testGenesisTime, 0, testInterval, members, nil)
	for i := 0; i < 2; i++ {
		require.NoError(t, n.chain.SaveBlock(n.slotBlock(t, first, i, 0)))
	}

	// a later round anchored at the same height sees none of those blocks
	later := cstypes.ComputeRound(1090, 0, testInterval, members, nil)
	recs, err := DetectViolations(later, n.chain, later.Size())
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, i, rec.MissedSlot.Slot)
		assert.EqualValues(t, 1090, rec.MissedSlot.RoundStartTime)
	}
}
