package probe

import (
	"time"

	probehttp "github.com/PentesterFlow/authprobe/internal/http"
	"github.com/PentesterFlow/authprobe/internal/logger"
	"github.com/PentesterFlow/authprobe/internal/metrics"
)

// Option is a functional option for configuring the Prober.
type Option func(*Prober) error

// WithConfig replaces the whole configuration.
func WithConfig(config *Config) Option {
	return func(p *Prober) error {
		p.config = config
		return nil
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) error {
		p.config.Timeout = timeout
		return nil
	}
}

// WithConcurrency sets how many attempts may be in flight at once.
func WithConcurrency(n int) Option {
	return func(p *Prober) error {
		if n < 1 {
			n = 1
		}
		p.config.Concurrency = n
		return nil
	}
}

// WithRateLimit sets the request pacing in requests per second.
func WithRateLimit(requestsPerSecond float64) Option {
	return func(p *Prober) error {
		p.config.RateLimit = requestsPerSecond
		return nil
	}
}

// WithDoer sends requests through doer instead of a real HTTP client.
func WithDoer(doer probehttp.Doer) Option {
	return func(p *Prober) error {
		p.doer = doer
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Prober) error {
		p.logger = l
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Prober) error {
		p.metrics = m
		return nil
	}
}

// WithAttemptHook registers a callback run after each attempt completes.
// With concurrency above 1 it may be called from several goroutines, and
// not in probe order.
func WithAttemptHook(fn func(Result)) Option {
	return func(p *Prober) error {
		p.onAttempt = fn
		return nil
	}
}
