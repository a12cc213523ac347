// Package metrics provides per-run metrics collection for authprobe.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates metrics for a probe run.
type Collector struct {
	// Counters
	requestsTotal atomic.Int64
	errorsTotal   atomic.Int64
	bytesTotal    atomic.Int64
	tokensFound   atomic.Int64

	// Response time tracking
	responseTimesSum atomic.Int64
	responseTimesNum atomic.Int64
	timingMu         sync.Mutex
	fastest          time.Duration
	slowest          time.Duration

	// Histogram buckets for response times in ms
	responseTimeBuckets [10]atomic.Int64 // <10, <50, <100, <250, <500, <1000, <2500, <5000, <10000, >=10000

	// Outcome breakdown
	outcomes  map[string]*atomic.Int64
	outcomeMu sync.RWMutex

	// Error breakdown
	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	// Status code breakdown
	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		outcomes:    make(map[string]*atomic.Int64),
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordRequest records an HTTP request.
func (c *Collector) RecordRequest() {
	c.requestsTotal.Add(1)
}

// RecordOutcome records the classification of one attempt.
func (c *Collector) RecordOutcome(outcome string) {
	increment(&c.outcomeMu, c.outcomes, outcome)
}

// RecordToken records a discovered token.
func (c *Collector) RecordToken() {
	c.tokensFound.Add(1)
}

// RecordError records an error by type.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)
	increment(&c.errorMu, c.errorCounts, errorType)
}

// RecordBytes records received body bytes.
func (c *Collector) RecordBytes(n int64) {
	c.bytesTotal.Add(n)
}

// RecordStatusCode records an HTTP status code.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()
}

// RecordResponseTime records a response time.
func (c *Collector) RecordResponseTime(d time.Duration) {
	ms := d.Milliseconds()
	c.responseTimesSum.Add(ms)
	c.responseTimesNum.Add(1)

	c.timingMu.Lock()
	if c.fastest == 0 || d < c.fastest {
		c.fastest = d
	}
	if d > c.slowest {
		c.slowest = d
	}
	c.timingMu.Unlock()

	c.responseTimeBuckets[getBucket(ms)].Add(1)
}

func getBucket(ms int64) int {
	switch {
	case ms < 10:
		return 0
	case ms < 50:
		return 1
	case ms < 100:
		return 2
	case ms < 250:
		return 3
	case ms < 500:
		return 4
	case ms < 1000:
		return 5
	case ms < 2500:
		return 6
	case ms < 5000:
		return 7
	case ms < 10000:
		return 8
	default:
		return 9
	}
}

func increment(mu *sync.RWMutex, m map[string]*atomic.Int64, key string) {
	mu.Lock()
	if m[key] == nil {
		m[key] = &atomic.Int64{}
	}
	m[key].Add(1)
	mu.Unlock()
}

// GetAverageResponseTime returns the average response time.
func (c *Collector) GetAverageResponseTime() time.Duration {
	sum := c.responseTimesSum.Load()
	num := c.responseTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.timingMu.Lock()
	fastest, slowest := c.fastest, c.slowest
	c.timingMu.Unlock()

	s := &Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.startTime),
		RequestsTotal:       c.requestsTotal.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		TokensFound:         c.tokensFound.Load(),
		AverageResponseTime: c.GetAverageResponseTime(),
		FastestResponse:     fastest,
		SlowestResponse:     slowest,
		Outcomes:            make(map[string]int64),
		ErrorCounts:         make(map[string]int64),
		StatusCodes:         make(map[int]int64),
		ResponseTimeHist:    make([]int64, 10),
	}

	c.outcomeMu.RLock()
	for k, v := range c.outcomes {
		s.Outcomes[k] = v.Load()
	}
	c.outcomeMu.RUnlock()

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := 0; i < 10; i++ {
		s.ResponseTimeHist[i] = c.responseTimeBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	BytesTotal          int64            `json:"bytes_total"`
	TokensFound         int64            `json:"tokens_found"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	FastestResponse     time.Duration    `json:"fastest_response"`
	SlowestResponse     time.Duration    `json:"slowest_response"`
	Outcomes            map[string]int64 `json:"outcomes"`
	ErrorCounts         map[string]int64 `json:"error_counts"`
	StatusCodes         map[int]int64    `json:"status_codes"`
	ResponseTimeHist    []int64          `json:"response_time_histogram"`
}

// ErrorRate returns the error rate (errors/requests).
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// RequestsPerSecond returns the average request rate over the run.
func (s *Snapshot) RequestsPerSecond() float64 {
	if s.Uptime <= 0 {
		return 0
	}
	return float64(s.RequestsTotal) / s.Uptime.Seconds()
}

// Summary returns a flat map suitable for structured logging.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"errors_total":         s.ErrorsTotal,
		"error_rate":           s.ErrorRate(),
		"tokens_found":         s.TokensFound,
		"requests_per_second":  s.RequestsPerSecond(),
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
	}
}
