package metric

// MetricItem is the metrics of one module, rendered as JSON for the metrics
// RPC route.
type MetricItem interface {
	JSONString() string
}

type mockMetricItem struct {
	name string
}

func (mock *mockMetricItem) JSONString() string {
	return mock.name
}
