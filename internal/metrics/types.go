package metrics

import (
	"sync"
	"time"
)

// Collector accumulates relay metrics and renders them in Prometheus
// text format
type Collector struct {
	// HTTP request metrics
	requestCounter   map[string]int64     // [method:path:status]
	requestHistogram map[string][]float64 // [method:endpoint] -> seconds

	// Order pipeline metrics
	ordersPlaced map[string]int64 // [symbol] -> count
	ordersFailed map[string]int64 // [symbol] -> count
	duplicates   int64            // webhook deliveries answered from cache

	// Provider call metrics
	retries        map[string]int64 // [operation] -> count
	authRecoveries map[string]int64 // [operation] -> count

	// Token lifecycle metrics
	tokenEvents map[string]int64 // [event] -> count

	// Alert and monitor metrics
	alertEvents  map[string]int64 // [event] -> count
	monitorExits map[string]int64 // [reason] -> count

	// Thread safety
	mutex sync.RWMutex

	// Configuration
	histogramBuckets []float64
	startTime        time.Time
}

// HistogramEntry represents a histogram data point
type HistogramEntry struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// CounterEntry represents a counter data point
type CounterEntry struct {
	Name   string
	Value  int64
	Labels map[string]string
}

// MetricSnapshot represents a point-in-time view of all metrics
type MetricSnapshot struct {
	Counters   []CounterEntry
	Histograms []HistogramEntry
	Timestamp  time.Time
}

// Default histogram buckets for latency measurements (in seconds)
var DefaultLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}
