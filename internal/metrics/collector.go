package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NewCollector creates a new metrics collector with default latency buckets
func NewCollector() *Collector {
	return NewCollectorWithBuckets(DefaultLatencyBuckets)
}

// NewCollectorWithBuckets creates a new metrics collector with custom histogram buckets
func NewCollectorWithBuckets(buckets []float64) *Collector {
	return &Collector{
		requestCounter:   make(map[string]int64),
		requestHistogram: make(map[string][]float64),
		ordersPlaced:     make(map[string]int64),
		ordersFailed:     make(map[string]int64),
		retries:          make(map[string]int64),
		authRecoveries:   make(map[string]int64),
		tokenEvents:      make(map[string]int64),
		alertEvents:      make(map[string]int64),
		monitorExits:     make(map[string]int64),
		histogramBuckets: buckets,
		startTime:        time.Now(),
	}
}

// RecordHTTPRequest increments the HTTP request counter
func (c *Collector) RecordHTTPRequest(method, path string, status int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	key := c.buildKey(method, path, status)
	c.requestCounter[key]++
}

// RecordHTTPDuration records HTTP request duration
func (c *Collector) RecordHTTPDuration(method, endpoint string, duration float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	key := c.buildKey(method, endpoint)
	c.requestHistogram[key] = append(c.requestHistogram[key], duration)
}

// RecordOrderPlaced increments the placed-order counter for a symbol
func (c *Collector) RecordOrderPlaced(symbol string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.ordersPlaced[symbol]++
}

// RecordOrderFailed increments the failed-order counter for a symbol
func (c *Collector) RecordOrderFailed(symbol string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.ordersFailed[symbol]++
}

// RecordDuplicate counts a webhook delivery answered from the
// idempotency cache
func (c *Collector) RecordDuplicate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.duplicates++
}

// RecordRetry counts a retried provider call by operation
func (c *Collector) RecordRetry(operation string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.retries[operation]++
}

// RecordAuthRecovery counts an in-flight token refresh triggered by an
// auth failure
func (c *Collector) RecordAuthRecovery(operation string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.authRecoveries[operation]++
}

// RecordTokenEvent counts a token lifecycle event (refresh_ok,
// refresh_failed, generate_ok, generate_failed, replication_failed)
func (c *Collector) RecordTokenEvent(event string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.tokenEvents[event]++
}

// RecordAlert counts an operational alert by event
func (c *Collector) RecordAlert(event string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.alertEvents[event]++
}

// Notify records the alert event and discards the message, letting the
// collector sit in a notifier fan-out.
func (c *Collector) Notify(_ context.Context, event, _ string) {
	c.RecordAlert(event)
}

// RecordMonitorExit counts a monitor-triggered position exit by reason
func (c *Collector) RecordMonitorExit(reason string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.monitorExits[reason]++
}

// GetSnapshot returns a point-in-time view of all metrics
func (c *Collector) GetSnapshot() MetricSnapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var counters []CounterEntry
	var histograms []HistogramEntry

	// HTTP request counters
	for key, count := range c.requestCounter {
		parts := c.parseKey(key, 3)
		if len(parts) >= 3 {
			counters = append(counters, CounterEntry{
				Name:  "http_requests_total",
				Value: count,
				Labels: map[string]string{
					"method": parts[0],
					"path":   parts[1],
					"status": parts[2],
				},
			})
		}
	}

	// HTTP request duration histograms
	for key, durations := range c.requestHistogram {
		parts := c.parseKey(key, 2)
		if len(parts) >= 2 {
			for _, duration := range durations {
				histograms = append(histograms, HistogramEntry{
					Name:  "http_request_duration_seconds",
					Value: duration,
					Labels: map[string]string{
						"method":   parts[0],
						"endpoint": parts[1],
					},
				})
			}
		}
	}

	// Order pipeline counters
	for symbol, count := range c.ordersPlaced {
		counters = append(counters, CounterEntry{
			Name:   "orders_placed_total",
			Value:  count,
			Labels: map[string]string{"symbol": symbol},
		})
	}
	for symbol, count := range c.ordersFailed {
		counters = append(counters, CounterEntry{
			Name:   "orders_failed_total",
			Value:  count,
			Labels: map[string]string{"symbol": symbol},
		})
	}
	if c.duplicates > 0 {
		counters = append(counters, CounterEntry{
			Name:   "webhook_duplicates_total",
			Value:  c.duplicates,
			Labels: make(map[string]string),
		})
	}

	// Provider call counters
	for operation, count := range c.retries {
		counters = append(counters, CounterEntry{
			Name:   "provider_retries_total",
			Value:  count,
			Labels: map[string]string{"operation": operation},
		})
	}
	for operation, count := range c.authRecoveries {
		counters = append(counters, CounterEntry{
			Name:   "auth_recoveries_total",
			Value:  count,
			Labels: map[string]string{"operation": operation},
		})
	}

	// Token lifecycle counters
	for event, count := range c.tokenEvents {
		counters = append(counters, CounterEntry{
			Name:   "token_events_total",
			Value:  count,
			Labels: map[string]string{"event": event},
		})
	}

	// Alert and monitor counters
	for event, count := range c.alertEvents {
		counters = append(counters, CounterEntry{
			Name:   "alerts_total",
			Value:  count,
			Labels: map[string]string{"event": event},
		})
	}
	for reason, count := range c.monitorExits {
		counters = append(counters, CounterEntry{
			Name:   "monitor_exits_total",
			Value:  count,
			Labels: map[string]string{"reason": reason},
		})
	}

	return MetricSnapshot{
		Counters:   counters,
		Histograms: histograms,
		Timestamp:  time.Now(),
	}
}

// Reset clears all metrics
func (c *Collector) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.requestCounter = make(map[string]int64)
	c.requestHistogram = make(map[string][]float64)
	c.ordersPlaced = make(map[string]int64)
	c.ordersFailed = make(map[string]int64)
	c.duplicates = 0
	c.retries = make(map[string]int64)
	c.authRecoveries = make(map[string]int64)
	c.tokenEvents = make(map[string]int64)
	c.alertEvents = make(map[string]int64)
	c.monitorExits = make(map[string]int64)
	c.startTime = time.Now()
}

// Collect returns Prometheus-formatted metrics
func (c *Collector) Collect() (string, error) {
	snapshot := c.GetSnapshot()
	var lines []string

	// Add uptime metric
	uptime := time.Since(c.startTime).Seconds()
	lines = append(lines, "# HELP relay_uptime_seconds Time since the server started")
	lines = append(lines, "# TYPE relay_uptime_seconds counter")
	lines = append(lines, fmt.Sprintf("relay_uptime_seconds %f %d", uptime, snapshot.Timestamp.Unix()))
	lines = append(lines, "")

	// Process counters
	counterGroups := make(map[string][]CounterEntry)
	for _, counter := range snapshot.Counters {
		counterGroups[counter.Name] = append(counterGroups[counter.Name], counter)
	}

	for metricName, counters := range counterGroups {
		// Add help and type comments
		lines = append(lines, fmt.Sprintf("# HELP %s %s", metricName, getCounterHelp(metricName)))
		lines = append(lines, fmt.Sprintf("# TYPE %s counter", metricName))

		// Add counter values
		for _, counter := range counters {
			labels := formatLabels(counter.Labels)
			lines = append(lines, fmt.Sprintf("%s%s %d %d", metricName, labels, counter.Value, snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	// Process histograms
	histogramGroups := make(map[string][]HistogramEntry)
	for _, histogram := range snapshot.Histograms {
		histogramGroups[histogram.Name] = append(histogramGroups[histogram.Name], histogram)
	}

	for metricName, histograms := range histogramGroups {
		// Add help and type comments
		lines = append(lines, fmt.Sprintf("# HELP %s %s", metricName, getHistogramHelp(metricName)))
		lines = append(lines, fmt.Sprintf("# TYPE %s histogram", metricName))

		// Group histograms by labels to create buckets
		labelGroups := make(map[string][]float64)
		for _, hist := range histograms {
			labelKey := formatLabels(hist.Labels)
			labelGroups[labelKey] = append(labelGroups[labelKey], hist.Value)
		}

		// Generate histogram buckets for each label group
		for labelKey, values := range labelGroups {
			bucketCounts := c.calculateBucketCounts(values)

			// Generate bucket metrics
			for i, bucketLimit := range c.histogramBuckets {
				bucketLabels := addBucketLabel(labelKey, bucketLimit)
				lines = append(lines, fmt.Sprintf("%s_bucket%s %d %d",
					metricName, bucketLabels, bucketCounts[i], snapshot.Timestamp.Unix()))
			}

			// Add +Inf bucket
			infBucketLabels := addBucketLabel(labelKey, "+Inf")
			lines = append(lines, fmt.Sprintf("%s_bucket%s %d %d",
				metricName, infBucketLabels, len(values), snapshot.Timestamp.Unix()))

			// Add sum and count
			sum := 0.0
			for _, value := range values {
				sum += value
			}
			lines = append(lines, fmt.Sprintf("%s_sum%s %f %d",
				metricName, labelKey, sum, snapshot.Timestamp.Unix()))
			lines = append(lines, fmt.Sprintf("%s_count%s %d %d",
				metricName, labelKey, len(values), snapshot.Timestamp.Unix()))
		}
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n"), nil
}

// buildKey creates a composite key from multiple parts
func (c *Collector) buildKey(parts ...interface{}) string {
	var key string
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		switch v := part.(type) {
		case string:
			key += v
		case int:
			key += strconv.Itoa(v)
		}
	}
	return key
}

// parseKey splits a composite key into parts
func (c *Collector) parseKey(key string, expectedParts int) []string {
	parts := make([]string, 0, expectedParts)
	current := ""

	for _, char := range key {
		if char == ':' {
			parts = append(parts, current)
			current = ""
		} else {
			current += string(char)
		}
	}

	if current != "" {
		parts = append(parts, current)
	}

	return parts
}

// Helper functions for Prometheus formatting

func getCounterHelp(metricName string) string {
	switch metricName {
	case "http_requests_total":
		return "Total number of HTTP requests"
	case "orders_placed_total":
		return "Total number of orders accepted by the broker"
	case "orders_failed_total":
		return "Total number of order placements that failed"
	case "webhook_duplicates_total":
		return "Total number of webhook deliveries answered from the idempotency cache"
	case "provider_retries_total":
		return "Total number of retried provider calls"
	case "auth_recoveries_total":
		return "Total number of token refreshes triggered by auth failures"
	case "token_events_total":
		return "Total number of token lifecycle events by outcome"
	case "alerts_total":
		return "Total number of operational alerts raised"
	case "monitor_exits_total":
		return "Total number of exits signalled by the trade monitor"
	default:
		return "Counter metric"
	}
}

func getHistogramHelp(metricName string) string {
	switch metricName {
	case "http_request_duration_seconds":
		return "HTTP request duration in seconds"
	default:
		return "Histogram metric"
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	var pairs []string
	for key, value := range labels {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, key, value))
	}

	return "{" + strings.Join(pairs, ",") + "}"
}

func addBucketLabel(existingLabels string, bucketLimit interface{}) string {
	bucketLimitStr := fmt.Sprintf("%v", bucketLimit)

	if existingLabels == "" || existingLabels == "{}" {
		return fmt.Sprintf(`{le="%s"}`, bucketLimitStr)
	}

	// Remove closing brace and add bucket label
	trimmed := strings.TrimSuffix(existingLabels, "}")
	return fmt.Sprintf(`%s,le="%s"}`, trimmed, bucketLimitStr)
}

func (c *Collector) calculateBucketCounts(values []float64) []int {
	bucketCounts := make([]int, len(c.histogramBuckets))

	for _, value := range values {
		for i, bucketLimit := range c.histogramBuckets {
			if value <= bucketLimit {
				bucketCounts[i]++
				break
			}
		}
	}

	// Make buckets cumulative
	for i := 1; i < len(bucketCounts); i++ {
		bucketCounts[i] += bucketCounts[i-1]
	}

	return bucketCounts
}
