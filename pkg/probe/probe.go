package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PentesterFlow/authprobe/internal/errors"
	probehttp "github.com/PentesterFlow/authprobe/internal/http"
	"github.com/PentesterFlow/authprobe/internal/logger"
	"github.com/PentesterFlow/authprobe/internal/metrics"
	"github.com/PentesterFlow/authprobe/internal/ratelimit"
)

// Prober runs the endpoint/payload discovery against one API.
type Prober struct {
	config    *Config
	doer      probehttp.Doer
	client    *probehttp.Client
	limiter   *ratelimit.Limiter
	logger    *logger.Logger
	metrics   *metrics.Collector
	onAttempt func(Result)
}

// New creates a Prober.
func New(opts ...Option) (*Prober, error) {
	p := &Prober{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := p.config.ValidateRuntime(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if p.logger == nil {
		p.logger = logger.Global().WithComponent("probe")
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}

	clientConfig := probehttp.ClientConfig{
		Timeout:       p.config.Timeout,
		UserAgent:     p.config.UserAgent,
		SkipTLSVerify: p.config.SkipTLSVerify,
	}
	if p.doer != nil {
		p.client = probehttp.NewClientWithDoer(p.doer, clientConfig)
	} else {
		p.client = probehttp.NewClient(clientConfig)
	}
	if len(p.config.Headers) > 0 {
		p.client.SetHeaders(p.config.Headers)
	}

	p.limiter = ratelimit.NewLimiter(p.config.RateLimit, 1)

	return p, nil
}

// Config returns the prober's configuration.
func (p *Prober) Config() *Config {
	return p.config
}

// Metrics returns the metrics collector.
func (p *Prober) Metrics() *metrics.Collector {
	return p.metrics
}

// LimiterStats returns the pacing settings in effect.
func (p *Prober) LimiterStats() ratelimit.LimiterStats {
	return p.limiter.Stats()
}

// Run probes using the base URL and credentials from the configuration.
func (p *Prober) Run(ctx context.Context) (*Report, error) {
	return p.Probe(ctx, p.config.BaseURL, p.config.TenantID, p.config.APIKey)
}

// Probe tries every endpoint with every payload shape and returns one result
// per combination, endpoints outermost. Request failures are recorded on the
// results; only an unusable base URL is returned as an error.
func (p *Prober) Probe(ctx context.Context, baseURL, tenantID, apiKey string) (*Report, error) {
	if _, err := ParseBaseURL(baseURL); err != nil {
		return nil, err
	}

	report := &Report{
		BaseURL:   baseURL,
		TenantID:  tenantID,
		StartedAt: time.Now(),
	}

	combos := Combinations()
	results := make([]Result, len(combos))

	p.logger.Infof("Probing %d endpoints x %d payloads against %s", len(Endpoints), len(PayloadShapes), baseURL)

	if p.config.Concurrency <= 1 {
		for i, combo := range combos {
			results[i] = p.attempt(ctx, combo, baseURL, tenantID, apiKey)
		}
	} else {
		sem := make(chan struct{}, p.config.Concurrency)
		var wg sync.WaitGroup

		for i, combo := range combos {
			wg.Add(1)
			go func(idx int, c Combination) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				results[idx] = p.attempt(ctx, c, baseURL, tenantID, apiKey)
			}(i, combo)
		}

		wg.Wait()
	}

	report.Results = results
	report.CompletedAt = time.Now()
	report.Summary = Summarize(results)

	p.logger.StatsEvent(p.metrics.Snapshot().Summary())

	return report, nil
}

// attempt sends one combination and classifies the response.
func (p *Prober) attempt(ctx context.Context, combo Combination, baseURL, tenantID, apiKey string) Result {
	payload := combo.Shape.Build(tenantID, apiKey)
	r := Result{
		Index:        combo.Index,
		Endpoint:     combo.Endpoint,
		URL:          JoinURL(baseURL, combo.Endpoint),
		PayloadIndex: combo.PayloadIndex,
		PayloadName:  combo.Shape.Name,
		Payload:      payload,
		TenantHeader: TenantHeader(payload),
	}

	if err := p.limiter.Wait(ctx); err != nil {
		Classify(&r, errors.NewCancelledError(r.URL, "request"))
		p.record(r)
		return r
	}

	resp := p.client.PostJSON(ctx, r.URL, payload, map[string]string{
		"X-Tenant-ID": r.TenantHeader,
	})
	p.metrics.RecordRequest()
	p.logger.RequestEvent("POST", r.URL, resp.StatusCode, resp.Duration)

	r.StatusCode = resp.StatusCode
	r.Body = resp.Body
	r.Truncated = resp.Truncated
	r.Duration = resp.Duration
	Classify(&r, resp.Error)

	p.record(r)
	return r
}

func (p *Prober) record(r Result) {
	p.metrics.RecordOutcome(string(r.Outcome))
	p.metrics.RecordStatusCode(r.StatusCode)
	if r.Duration > 0 {
		p.metrics.RecordResponseTime(r.Duration)
	}
	if r.Body != nil {
		p.metrics.RecordBytes(int64(len(r.Body)))
	}
	if r.Error != nil {
		p.metrics.RecordError(errors.GetErrorType(r.Error).String())
	}

	p.logger.AttemptEvent(r.Endpoint, r.PayloadIndex, r.StatusCode, string(r.Outcome), r.Duration)
	if r.Success {
		p.metrics.RecordToken()
		p.logger.TokenEvent(r.Endpoint, r.PayloadIndex, r.TokenKey, MaskSecret(r.Token))
	}

	if p.onAttempt != nil {
		p.onAttempt(r)
	}
}

// Close releases idle connections.
func (p *Prober) Close() {
	p.client.Close()
}
