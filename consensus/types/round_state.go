package types

import (
	"fmt"

	"slotchain/types"
)

//-----------------------------------------------------------------------------
// RoundStatus enum type

// RoundStatus enumerates the state of a round as seen by the coordinator.
type RoundStatus uint8

const (
	RoundStatusWaitReady         = RoundStatus(0x01) // computed, not yet driven by the coordinator
	RoundStatusWaitBegin         = RoundStatus(0x02) // before the first slot
	RoundStatusConsensus         = RoundStatus(0x03) // slots running, local slot pending
	RoundStatusConsensusWaitNext = RoundStatus(0x04) // local slot done, waiting for the round to close
)

func (rs RoundStatus) String() string {
	switch rs {
	case RoundStatusWaitReady:
		return "WaitReady"
	case RoundStatusWaitBegin:
		return "WaitBegin"
	case RoundStatusConsensus:
		return "Consensus"
	case RoundStatusConsensusWaitNext:
		return "ConsensusWaitNext"
	default:
		return fmt.Sprintf("RoundStatus(%d)", uint8(rs))
	}
}

// Round is one full rotation through the member list. It is a value: copies
// share the member slice, which is never modified after ComputeRound.
// Times are unix seconds.
type Round struct {
	StartTime     int64         `json:"start_time"`
	EndTime       int64         `json:"end_time"`
	StartHeight   int64         `json:"start_height"`
	BlockInterval int64         `json:"block_interval"`
	Members       types.Members `json:"members"`
	Status        RoundStatus   `json:"status"`

	LocalIndex     int   `json:"local_index"` // -1 when the local node is an observer
	LocalSlotStart int64 `json:"local_slot_start"`
	LocalSlotEnd   int64 `json:"local_slot_end"`

	Produced    bool `json:"produced"`
	Initialized bool `json:"initialized"`
}

func (r Round) Size() int {
	return len(r.Members)
}

// SlotBounds returns the [start, end) window of slot i.
func (r Round) SlotBounds(i int) (int64, int64) {
	start := r.StartTime + int64(i)*r.BlockInterval
	return start, start + r.BlockInterval
}

// SlotAt returns the slot index covering t, or -1.
func (r Round) SlotAt(t int64) int {
	if r.BlockInterval <= 0 || t < r.StartTime || t >= r.EndTime {
		return -1
	}
	return int((t - r.StartTime) / r.BlockInterval)
}

// EndHeight is the height the chain reaches when every slot produced a block.
func (r Round) EndHeight() int64 {
	return r.StartHeight + int64(r.Size())
}

func (r Round) HasLocalSlot() bool {
	return r.LocalIndex >= 0
}

// LocalSlotActive reports whether now falls inside the local slot.
func (r Round) LocalSlotActive(now int64) bool {
	return r.HasLocalSlot() && now >= r.LocalSlotStart && now < r.LocalSlotEnd
}

// IsComplete reports whether the round closed by height or by time.
func (r Round) IsComplete(bestHeight, now int64) bool {
	return bestHeight >= r.EndHeight() || now >= r.EndTime
}

// SameRound compares round identity, ignoring mutable status.
func (r Round) SameRound(other Round) bool {
	return r.StartTime == other.StartTime && r.StartHeight == other.StartHeight && r.Size() == other.Size()
}

// StatusAt returns the status the round should have at now.
func (r Round) StatusAt(now int64) RoundStatus {
	switch {
	case !r.Initialized:
		return RoundStatusWaitReady
	case now < r.StartTime:
		return RoundStatusWaitBegin
	case r.Produced, r.HasLocalSlot() && now >= r.LocalSlotEnd:
		return RoundStatusConsensusWaitNext
	default:
		return RoundStatusConsensus
	}
}

// Member returns the member scheduled at slot i.
func (r Round) Member(i int) (types.Member, bool) {
	if i < 0 || i >= r.Size() {
		return types.Member{}, false
	}
	return r.Members[i], true
}

func (r Round) String() string {
	return fmt.Sprintf("Round{start %d end %d height %d members %d local %d %v}",
		r.StartTime, r.EndTime, r.StartHeight, r.Size(), r.LocalIndex, r.Status)
}
