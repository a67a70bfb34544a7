package consensus

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/rcrowley/go-metrics"

	cstypes "slotchain/consensus/types"
)

const (
	counterProduced       = "produced_blocks"
	counterProduceFailed  = "failed_productions"
	counterHeaderRaces    = "header_races"
	counterTransitions    = "round_transitions"
	counterViolations     = "detected_violations"
	counterRejectedMsgs   = "rejected_messages"
	counterAcceptedBlocks = "accepted_blocks"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		registry:   metrics.NewRegistry(),
		LocalIndex: -1,
	}
}

// consensusMetric is the coordinator's view exposed over RPC.
type consensusMetric struct {
	mtx      sync.Mutex
	registry metrics.Registry

	RoundStartTime   int64  `json:"round_start_time"`
	RoundStartHeight int64  `json:"round_start_height"`
	RoundSize        int    `json:"round_size"`
	RoundStatus      string `json:"round_status"`
	LocalIndex       int    `json:"local_index"`
	Produced         bool   `json:"produced"`
	CaughtUp         bool   `json:"caught_up"`

	Counters map[string]int64 `json:"counters"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()

	cm.Counters = make(map[string]int64)
	cm.registry.Each(func(name string, i interface{}) {
		if c, ok := i.(metrics.Counter); ok {
			cm.Counters[name] = c.Count()
		}
	})
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkRound(r cstypes.Round) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.RoundStartTime = r.StartTime
	cm.RoundStartHeight = r.StartHeight
	cm.RoundSize = r.Size()
	cm.RoundStatus = r.Status.String()
	cm.LocalIndex = r.LocalIndex
	cm.Produced = r.Produced
}

func (cm *consensusMetric) MarkCaughtUp(v bool) {
	cm.mtx.Lock()
	cm.CaughtUp = v
	cm.mtx.Unlock()
}

func (cm *consensusMetric) Inc(name string, n int64) {
	metrics.GetOrRegisterCounter(name, cm.registry).Inc(n)
}

func (cm *consensusMetric) Count(name string) int64 {
	return metrics.GetOrRegisterCounter(name, cm.registry).Count()
}
