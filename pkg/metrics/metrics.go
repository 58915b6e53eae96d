// Package metrics provides Prometheus metrics for the extraction pipeline.
// It offers counters and histograms for records extracted, normalized and
// skipped, API request latency, rate-limit hits, and batch flushes.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsExtracted counts raw records fetched from the external API.
	// Labels: entity (users/cards/...), status (success/skipped/failure)
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_records_extracted_total",
			Help: "Total number of records fetched from the external API",
		},
		[]string{"entity", "status"},
	)

	// RecordsNormalized counts records successfully normalized.
	RecordsNormalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_records_normalized_total",
			Help: "Total number of records normalized",
		},
		[]string{"entity"},
	)

	// RecordsSkipped counts per-record normalization failures.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_records_skipped_total",
			Help: "Total number of records skipped during normalization",
		},
		[]string{"entity", "reason"},
	)

	// BatchFlushes counts batch flushes to the output sink.
	// Labels: entity, status (success/failure)
	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_batch_flushes_total",
			Help: "Total number of batch flushes to the output sink",
		},
		[]string{"entity", "status"},
	)

	// APIRequestLatency tracks the distribution of API call latencies.
	// Labels: endpoint, status_code
	APIRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "cardflow_api_request_latency_seconds",
			Help: "External API request latency in seconds",
			Buckets: []float64{
				0.01, // local fixtures
				0.05,
				0.1,
				0.25,
				0.5,
				1,
				2.5,
				5, // throttled or degraded API
				10,
			},
		},
		[]string{"endpoint", "status_code"},
	)

	// RateLimitHits counts 429 responses from the external API.
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_rate_limit_hits_total",
			Help: "Total number of throttled API responses",
		},
		[]string{"endpoint"},
	)

	// AttachmentsStreamed counts attachment streaming outcomes.
	// Labels: status (success/skipped/failure)
	AttachmentsStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_attachments_streamed_total",
			Help: "Total number of attachments streamed to the output sink",
		},
		[]string{"status"},
	)

	// EventsEmitted counts events emitted per extraction kind.
	// Labels: kind, event (done/error/progress/delay)
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardflow_events_emitted_total",
			Help: "Total number of extraction events emitted",
		},
		[]string{"kind", "event"},
	)
)

// Collector provides a per-component metrics handle. Each component of
// the pipeline creates its own collector; the component name feeds the
// entity label where no more specific label applies.
type Collector struct {
	name      string
	startTime time.Time
	mu        sync.RWMutex
	counts    map[string]int64
}

// NewCollector creates a new metrics collector for a component.
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
		counts:    map[string]int64{},
	}
}

func (c *Collector) add(key string, n int64) {
	c.mu.Lock()
	c.counts[key] += n
	c.mu.Unlock()
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Extracted records fetched raw records for an entity.
func (c *Collector) Extracted(entity string, n int) {
	RecordsExtracted.WithLabelValues(entity, "success").Add(float64(n))
	c.add("extracted_"+entity, int64(n))
}

// Normalized records successfully normalized records for an entity.
func (c *Collector) Normalized(entity string, n int) {
	RecordsNormalized.WithLabelValues(entity).Add(float64(n))
	c.add("normalized_"+entity, int64(n))
}

// Skipped records a per-record normalization failure.
func (c *Collector) Skipped(entity, reason string) {
	RecordsSkipped.WithLabelValues(entity, reason).Inc()
	c.add("skipped_"+entity, 1)
}

// FlushSucceeded records a successful batch flush.
func (c *Collector) FlushSucceeded(entity string) {
	BatchFlushes.WithLabelValues(entity, "success").Inc()
	c.add("flushes_"+entity, 1)
}

// FlushFailed records a failed batch flush.
func (c *Collector) FlushFailed(entity string) {
	BatchFlushes.WithLabelValues(entity, "failure").Inc()
	c.add("flush_failures_"+entity, 1)
}

// GetAll returns a snapshot of collector-level values.
func (c *Collector) GetAll() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := map[string]interface{}{
		"component":  c.name,
		"start_time": c.startTime,
		"uptime":     time.Since(c.startTime).Seconds(),
	}
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Timer measures operation durations for the API latency histogram.
type Timer struct {
	start    time.Time
	endpoint string
}

// NewTimer creates a timer for an API endpoint and starts it immediately.
func NewTimer(endpoint string) *Timer {
	return &Timer{start: time.Now(), endpoint: endpoint}
}

// Stop observes the elapsed time under the given status code and
// returns the duration.
func (t *Timer) Stop(statusCode int) time.Duration {
	d := time.Since(t.start)
	APIRequestLatency.WithLabelValues(t.endpoint, strconv.Itoa(statusCode)).Observe(d.Seconds())
	return d
}
