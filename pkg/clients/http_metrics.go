// Package clients provides HTTP metrics tracking
package clients

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPMetrics tracks HTTP client performance metrics including request counts,
// latencies, connection reuse, and error rates.
type HTTPMetrics struct {
	// Request counts
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64

	// Connection metrics
	connectionsCreated int64
	connectionsReused  int64

	// Latency tracking
	latencySamples []time.Duration
	sampleIndex    int
	maxSamples     int

	// Error tracking
	errorsByType map[string]int64

	mu sync.RWMutex
}

// NewHTTPMetrics creates a new HTTP metrics tracker with pre-allocated buffers
// for efficient metric collection.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		latencySamples: make([]time.Duration, 1000), // Keep last 1000 samples
		maxSamples:     1000,
		errorsByType:   make(map[string]int64),
	}
}

// RecordRequest records metrics for an HTTP request including its method, host,
// latency, and whether it succeeded or failed.
func (hm *HTTPMetrics) RecordRequest(method, host string, latency time.Duration, err error) {
	atomic.AddInt64(&hm.totalRequests, 1)

	if err != nil {
		atomic.AddInt64(&hm.failedRequests, 1)
		hm.recordError(err)
	} else {
		atomic.AddInt64(&hm.successfulRequests, 1)
	}

	hm.recordLatency(latency)
}

// RecordConnectionReuse tracks whether a connection was reused or newly created,
// helping monitor connection pooling effectiveness.
func (hm *HTTPMetrics) RecordConnectionReuse(reused bool) {
	if reused {
		atomic.AddInt64(&hm.connectionsReused, 1)
	} else {
		atomic.AddInt64(&hm.connectionsCreated, 1)
	}
}

// GetConnectionReuseRate returns the percentage (0-100) of TLS responses
// that resumed an earlier TLS session rather than starting a new one.
func (hm *HTTPMetrics) GetConnectionReuseRate() float64 {
	reused := atomic.LoadInt64(&hm.connectionsReused)
	created := atomic.LoadInt64(&hm.connectionsCreated)
	total := reused + created
	if total == 0 {
		return 0
	}
	return float64(reused) / float64(total) * 100
}

// recordLatency records a latency sample into the ring buffer.
func (hm *HTTPMetrics) recordLatency(latency time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.latencySamples[hm.sampleIndex] = latency
	hm.sampleIndex = (hm.sampleIndex + 1) % hm.maxSamples
}

// recordError records error metrics
func (hm *HTTPMetrics) recordError(err error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	errorType := "unknown"
	if err != nil {
		errorType = err.Error()
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
	}

	hm.errorsByType[errorType]++
}

// GetAverageLatency returns the average latency
func (hm *HTTPMetrics) GetAverageLatency() time.Duration {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	var total time.Duration
	var count int

	for _, sample := range hm.latencySamples {
		if sample > 0 {
			total += sample
			count++
		}
	}

	if count == 0 {
		return 0
	}

	return total / time.Duration(count)
}

// GetP95Latency returns the 95th percentile latency
func (hm *HTTPMetrics) GetP95Latency() time.Duration {
	return hm.getPercentileLatency(0.95)
}

// GetP99Latency returns the 99th percentile latency
func (hm *HTTPMetrics) GetP99Latency() time.Duration {
	return hm.getPercentileLatency(0.99)
}

// getPercentileLatency calculates a specific percentile latency
func (hm *HTTPMetrics) getPercentileLatency(percentile float64) time.Duration {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	validSamples := make([]time.Duration, 0, len(hm.latencySamples))
	for _, sample := range hm.latencySamples {
		if sample > 0 {
			validSamples = append(validSamples, sample)
		}
	}

	if len(validSamples) == 0 {
		return 0
	}

	sort.Slice(validSamples, func(i, j int) bool {
		return validSamples[i] < validSamples[j]
	})

	index := int(float64(len(validSamples)-1) * percentile)
	return validSamples[index]
}
