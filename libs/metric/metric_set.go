package metric

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrMetricLabelExist = errors.New("metric label already exist")
)

func NewMetricSet() *MetricSet {
	return &MetricSet{
		metrics: make(map[string]MetricItem),
	}
}

// MetricSet collects the metric items of a node by label.
type MetricSet struct {
	mtx     sync.RWMutex
	metrics map[string]MetricItem
}

// SetMetrics registers item under label. A label can only be set once.
func (ms *MetricSet) SetMetrics(label string, item MetricItem) error {
	ms.mtx.Lock()
	defer ms.mtx.Unlock()

	if _, existed := ms.metrics[label]; existed {
		return ErrMetricLabelExist
	}
	ms.metrics[label] = item
	return nil
}

func (ms *MetricSet) HasMetrics(label string) bool {
	ms.mtx.RLock()
	_, existed := ms.metrics[label]
	ms.mtx.RUnlock()
	return existed
}

// GetMetrics returns the item of label, nil if unknown.
func (ms *MetricSet) GetMetrics(label string) MetricItem {
	ms.mtx.RLock()
	defer ms.mtx.RUnlock()
	return ms.metrics[label]
}

// Labels returns every registered label in sorted order.
func (ms *MetricSet) Labels() []string {
	ms.mtx.RLock()
	keys := make([]string, 0, len(ms.metrics))
	for k := range ms.metrics {
		keys = append(keys, k)
	}
	ms.mtx.RUnlock()

	sort.Strings(keys)
	return keys
}

// JSONStrings renders the items of labels, or of every label when none is
// given. Unknown labels are skipped.
func (ms *MetricSet) JSONStrings(labels ...string) map[string]string {
	if len(labels) == 0 {
		labels = ms.Labels()
	}
	out := make(map[string]string, len(labels))
	for _, l := range labels {
		if item := ms.GetMetrics(l); item != nil {
			out[l] = item.JSONString()
		}
	}
	return out
}
