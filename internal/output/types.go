package output

import (
	"fmt"
	"time"

	"github.com/PentesterFlow/authprobe/internal/metrics"
	"github.com/PentesterFlow/authprobe/internal/ratelimit"
)

// TimingInfo contains request timing for a run.
type TimingInfo struct {
	TotalDuration   time.Duration `json:"total_duration"`
	AverageResponse time.Duration `json:"average_response"`
	FastestResponse time.Duration `json:"fastest_response"`
	SlowestResponse time.Duration `json:"slowest_response"`
	RequestsPerSec  float64       `json:"requests_per_second"`
	BytesReceived   int64         `json:"bytes_received"`

	RateLimit *ratelimit.LimiterStats `json:"rate_limit,omitempty"`
}

// TimingFromSnapshot builds TimingInfo from a metrics snapshot.
func TimingFromSnapshot(s *metrics.Snapshot) *TimingInfo {
	if s == nil {
		return nil
	}
	return &TimingInfo{
		TotalDuration:   s.Uptime,
		AverageResponse: s.AverageResponseTime,
		FastestResponse: s.FastestResponse,
		SlowestResponse: s.SlowestResponse,
		RequestsPerSec:  s.RequestsPerSecond(),
		BytesReceived:   s.BytesTotal,
	}
}

// RunListing is one row of the history listing.
type RunListing struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	BaseURL      string    `json:"base_url"`
	TenantID     string    `json:"tenant_id"`
	Total        int       `json:"total"`
	Successes    int       `json:"successes"`
	Partials     int       `json:"partials"`
	Transport    int       `json:"transport_errors"`
	FirstWorking string    `json:"first_working,omitempty"`
}

// NewListing summarizes a stored report for the history listing.
func NewListing(id string, r *RunReport) RunListing {
	l := RunListing{
		ID:        id,
		StartedAt: r.StartedAt,
		BaseURL:   r.BaseURL,
		TenantID:  r.TenantID,
		Total:     r.Summary.Total,
		Successes: len(r.Summary.Successes),
		Partials:  r.Summary.Counts["partial"],
		Transport: r.Summary.Counts["transport_error"],
	}
	if len(r.Summary.Successes) > 0 {
		c := r.Summary.Successes[0]
		l.FirstWorking = fmt.Sprintf("%s #%d", c.Endpoint, c.PayloadIndex)
	}
	return l
}
