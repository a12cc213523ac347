package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PentesterFlow/authprobe/internal/errors"
	"github.com/PentesterFlow/authprobe/internal/logger"
	"github.com/PentesterFlow/authprobe/internal/metrics"
)

// recordedRequest is one request seen by a test server.
type recordedRequest struct {
	Path   string
	Tenant string
	Body   string
}

// recorder is an HTTP handler that records requests and delegates the
// response to respond.
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(path string, body map[string]interface{}) (int, string)
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)

	rec.mu.Lock()
	rec.requests = append(rec.requests, recordedRequest{
		Path:   r.URL.Path,
		Tenant: r.Header.Get("X-Tenant-ID"),
		Body:   string(data),
	})
	rec.mu.Unlock()

	var body map[string]interface{}
	_ = json.Unmarshal(data, &body)

	status, resp := http.StatusNotFound, `{"detail":"Not Found"}`
	if rec.respond != nil {
		status, resp = rec.respond(r.URL.Path, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

func (rec *recorder) Requests() []recordedRequest {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]recordedRequest(nil), rec.requests...)
}

// doerFunc adapts a function to the http.Doer interface.
type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func newTestProber(t *testing.T, opts ...Option) *Prober {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithTimeout(2 * time.Second)}, opts...)
	p, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

// =============================================================================
// New() Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer p.Close()

	if p.Config().Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", p.Config().Concurrency)
	}
	if p.Config().Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", p.Config().Timeout)
	}
	if p.Metrics() == nil {
		t.Error("Metrics() is nil")
	}
	if p.limiter.Enabled() {
		t.Error("pacing should be disabled by default")
	}
}

func TestNew_InvalidRuntimeConfig(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero timeout", []Option{WithTimeout(0)}},
		{"negative rate", []Option{WithRateLimit(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestNew_ConcurrencyFloor(t *testing.T) {
	p := newTestProber(t, WithConcurrency(0))
	if p.Config().Concurrency != 1 {
		t.Errorf("Concurrency = %d, want 1", p.Config().Concurrency)
	}
}

func TestNew_OptionsApplyToConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidatePath = "custom/validate"

	p := newTestProber(t, WithConfig(cfg), WithRateLimit(5), WithConcurrency(3))
	if p.Config().ValidatePath != "custom/validate" {
		t.Errorf("ValidatePath = %s", p.Config().ValidatePath)
	}
	if p.Config().RateLimit != 5 {
		t.Errorf("RateLimit = %v, want 5", p.Config().RateLimit)
	}
	if p.Config().Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", p.Config().Concurrency)
	}
	if !p.limiter.Enabled() {
		t.Error("pacing should be enabled")
	}
}

// =============================================================================
// Probe() Tests
// =============================================================================

func TestProbe_InvalidBaseURL(t *testing.T) {
	p := newTestProber(t)

	for _, raw := range []string{"", "not a url", "ftp://host/api", "http://"} {
		report, err := p.Probe(context.Background(), raw, "t", "k")
		if err == nil {
			t.Errorf("Probe(%q) should fail", raw)
		}
		if report != nil {
			t.Errorf("Probe(%q) report should be nil", raw)
		}
		if errors.GetErrorType(err) != errors.Config {
			t.Errorf("Probe(%q) error type = %v, want config", raw, errors.GetErrorType(err))
		}
	}
}

func TestProbe_FiftyRequestsInOrder(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t)
	report, err := p.Probe(context.Background(), server.URL+"/api/", "tenant-1", "key-1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	requests := rec.Requests()
	if len(requests) != 50 {
		t.Fatalf("server saw %d requests, want 50", len(requests))
	}
	if len(report.Results) != 50 {
		t.Fatalf("len(Results) = %d, want 50", len(report.Results))
	}

	for i, req := range requests {
		wantPath := "/api/" + Endpoints[i/5]
		if req.Path != wantPath {
			t.Errorf("request %d path = %s, want %s", i, req.Path, wantPath)
		}
		wantBody, _ := json.Marshal(PayloadShapes[i%5].Build("tenant-1", "key-1"))
		if req.Body != string(wantBody) {
			t.Errorf("request %d body = %s, want %s", i, req.Body, wantBody)
		}

		r := report.Results[i]
		if r.Endpoint != Endpoints[i/5] || r.PayloadIndex != i%5+1 {
			t.Errorf("result %d = (%s, %d)", i, r.Endpoint, r.PayloadIndex)
		}
		if r.Outcome != OutcomeNotFound {
			t.Errorf("result %d outcome = %s, want not_found", i, r.Outcome)
		}
	}

	if report.Summary.Total != 50 {
		t.Errorf("Summary.Total = %d, want 50", report.Summary.Total)
	}
	if report.Summary.Counts[OutcomeNotFound] != 50 {
		t.Errorf("not_found count = %d, want 50", report.Summary.Counts[OutcomeNotFound])
	}
	if report.Summary.Recommendation != NoSuccessRecommendation {
		t.Errorf("Recommendation = %q", report.Summary.Recommendation)
	}
	if report.CompletedAt.Before(report.StartedAt) {
		t.Error("CompletedAt before StartedAt")
	}
}

func TestProbe_SingleSuccess(t *testing.T) {
	rec := &recorder{
		respond: func(path string, body map[string]interface{}) (int, string) {
			if path == "/api/auth/token" && body["grant_type"] == "api_key" && body["api_key"] != nil {
				return http.StatusOK, `{"access_token":"abc","token_type":"bearer"}`
			}
			return http.StatusNotFound, `{"detail":"Not Found"}`
		},
	}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t)
	report, err := p.Probe(context.Background(), server.URL+"/api", "tenant-1", "key-1")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	successes := report.Summary.Successes
	if len(successes) != 1 {
		t.Fatalf("len(Successes) = %d, want 1", len(successes))
	}

	s := successes[0]
	if s.Endpoint != "auth/token" {
		t.Errorf("Endpoint = %s, want auth/token", s.Endpoint)
	}
	if s.PayloadIndex != 1 {
		t.Errorf("PayloadIndex = %d, want 1", s.PayloadIndex)
	}
	if s.TokenKey != "access_token" {
		t.Errorf("TokenKey = %s, want access_token", s.TokenKey)
	}
	if s.Token != "abc" {
		t.Errorf("Token = %s, want abc", s.Token)
	}
	if s.Index != 5 {
		t.Errorf("Index = %d, want 5", s.Index)
	}
	if report.Summary.Recommendation != "" {
		t.Errorf("Recommendation should be empty, got %q", report.Summary.Recommendation)
	}
	if report.Summary.Counts[OutcomeNotFound] != 49 {
		t.Errorf("not_found count = %d, want 49", report.Summary.Counts[OutcomeNotFound])
	}
	if len(rec.Requests()) != 50 {
		t.Errorf("requests = %d, want 50 (no short-circuit)", len(rec.Requests()))
	}
}

func TestProbe_TokenKeyPriority(t *testing.T) {
	rec := &recorder{
		respond: func(path string, body map[string]interface{}) (int, string) {
			if path == "/oauth/token" && body["client_id"] != nil {
				return http.StatusOK, `{"accessToken":"x","token":"y"}`
			}
			return http.StatusUnauthorized, `{"detail":"invalid"}`
		},
	}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t)
	report, err := p.Probe(context.Background(), server.URL, "t", "k")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if len(report.Summary.Successes) != 1 {
		t.Fatalf("len(Successes) = %d, want 1", len(report.Summary.Successes))
	}
	s := report.Summary.Successes[0]
	if s.Token != "x" || s.TokenKey != "accessToken" {
		t.Errorf("token = %s (%s), want x (accessToken)", s.Token, s.TokenKey)
	}
	if s.PayloadIndex != 5 {
		t.Errorf("PayloadIndex = %d, want 5", s.PayloadIndex)
	}
	if report.Summary.Counts[OutcomeUnauthorized] != 49 {
		t.Errorf("unauthorized count = %d, want 49", report.Summary.Counts[OutcomeUnauthorized])
	}
}

func TestProbe_MixedOutcomes(t *testing.T) {
	rec := &recorder{
		respond: func(path string, body map[string]interface{}) (int, string) {
			switch path {
			case "/auth/api-key/token":
				return http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","username"],"msg":"field required"}]}`
			case "/auth/api-key":
				return http.StatusOK, `{"status":"ok"}`
			case "/token":
				return http.StatusInternalServerError, `boom`
			}
			return http.StatusNotFound, `{}`
		},
	}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t)
	report, err := p.Probe(context.Background(), server.URL, "t", "k")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	counts := report.Summary.Counts
	if counts[OutcomeValidationError] != 5 {
		t.Errorf("validation_error = %d, want 5", counts[OutcomeValidationError])
	}
	if counts[OutcomePartial] != 5 {
		t.Errorf("partial = %d, want 5", counts[OutcomePartial])
	}
	if counts[OutcomeFailure] != 5 {
		t.Errorf("failure = %d, want 5", counts[OutcomeFailure])
	}
	if counts[OutcomeNotFound] != 35 {
		t.Errorf("not_found = %d, want 35", counts[OutcomeNotFound])
	}
	if len(report.Summary.Partials) != 5 {
		t.Errorf("len(Partials) = %d, want 5", len(report.Summary.Partials))
	}

	first := report.Results[0]
	if !strings.Contains(string(first.Body), "field required") {
		t.Errorf("422 body not kept: %s", first.Body)
	}
	if report.Summary.Recommendation == "" {
		t.Error("partials alone should still produce a recommendation")
	}
}

func TestProbe_TransportErrorContinues(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if req.URL.Path == "/auth/token" {
			return nil, fmt.Errorf("dial tcp: connection refused")
		}
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(`{}`)),
			Header:     make(http.Header),
		}, nil
	})

	p := newTestProber(t, WithDoer(doer))
	report, err := p.Probe(context.Background(), "http://api.test/", "t", "k")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if calls != 50 {
		t.Errorf("calls = %d, want 50", calls)
	}

	for i, r := range report.Results {
		if r.Endpoint == "auth/token" {
			if r.Outcome != OutcomeTransportError {
				t.Errorf("result %d outcome = %s, want transport_error", i, r.Outcome)
			}
			if r.StatusCode != 0 {
				t.Errorf("result %d status = %d, want 0", i, r.StatusCode)
			}
			if r.HasBody() {
				t.Errorf("result %d should have no body", i)
			}
			if r.Error == nil {
				t.Errorf("result %d should carry the error", i)
			}
		} else if r.Outcome != OutcomeNotFound {
			t.Errorf("result %d outcome = %s, want not_found", i, r.Outcome)
		}
	}
	if report.Summary.Counts[OutcomeTransportError] != 5 {
		t.Errorf("transport_error = %d, want 5", report.Summary.Counts[OutcomeTransportError])
	}
}

func TestProbe_UnreachableServer(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	p := newTestProber(t)
	report, err := p.Probe(context.Background(), baseURL, "t", "k")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if report.Summary.Counts[OutcomeTransportError] != 50 {
		t.Errorf("transport_error = %d, want 50", report.Summary.Counts[OutcomeTransportError])
	}
	if report.Summary.Recommendation == "" {
		t.Error("Recommendation should be set")
	}
}

func TestProbe_TenantHeader(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t)
	if _, err := p.Probe(context.Background(), server.URL, "acme", "k"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	for i, req := range rec.Requests() {
		if req.Tenant != "acme" {
			t.Errorf("request %d X-Tenant-ID = %q, want acme", i, req.Tenant)
		}
	}
}

func TestProbe_RequestHeaders(t *testing.T) {
	var got http.Header
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			got = r.Header.Clone()
			if r.Method != http.MethodPost {
				t.Errorf("Method = %s, want POST", r.Method)
			}
		})
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestProber(t)
	if _, err := p.Probe(context.Background(), server.URL, "t", "k"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if got.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Get("Content-Type"))
	}
	if got.Get("User-Agent") != "authprobe/1.0" {
		t.Errorf("User-Agent = %q", got.Get("User-Agent"))
	}
}

func TestProbe_ConfiguredHeaders(t *testing.T) {
	var mu sync.Mutex
	var traces, tenants []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		traces = append(traces, r.Header.Get("X-Trace"))
		tenants = append(tenants, r.Header.Get("X-Tenant-ID"))
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Headers = map[string]string{
		"X-Trace":     "run-1",
		"X-Tenant-ID": "ignored",
	}

	p := newTestProber(t, WithConfig(cfg))
	if _, err := p.Probe(context.Background(), server.URL, "acme", "k"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if len(traces) != 50 {
		t.Fatalf("requests = %d, want 50", len(traces))
	}
	for i := range traces {
		if traces[i] != "run-1" {
			t.Errorf("request %d X-Trace = %q, want run-1", i, traces[i])
		}
		if tenants[i] != "acme" {
			t.Errorf("request %d X-Tenant-ID = %q, the payload tenant should win", i, tenants[i])
		}
	}
}

func TestProbe_Idempotent(t *testing.T) {
	rec := &recorder{
		respond: func(path string, body map[string]interface{}) (int, string) {
			if path == "/v1/auth/token" && body["apiKey"] != nil {
				return http.StatusOK, `{"token":"tok-123456789"}`
			}
			if path == "/authenticate" {
				return http.StatusUnprocessableEntity, `{"detail":"missing password"}`
			}
			return http.StatusNotFound, `{}`
		},
	}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t)
	first, err := p.Probe(context.Background(), server.URL, "t", "k")
	if err != nil {
		t.Fatalf("first Probe() error = %v", err)
	}
	second, err := p.Probe(context.Background(), server.URL, "t", "k")
	if err != nil {
		t.Fatalf("second Probe() error = %v", err)
	}

	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.Outcome != b.Outcome || a.StatusCode != b.StatusCode || a.Token != b.Token {
			t.Errorf("result %d differs: (%s %d %s) vs (%s %d %s)",
				i, a.Outcome, a.StatusCode, a.Token, b.Outcome, b.StatusCode, b.Token)
		}
	}
}

func TestProbe_ConcurrentKeepsOrder(t *testing.T) {
	rec := &recorder{
		respond: func(path string, body map[string]interface{}) (int, string) {
			if path == "/api/auth/token" && body["grant_type"] == "client_credentials" {
				return http.StatusOK, `{"access_token":"abc"}`
			}
			return http.StatusNotFound, `{}`
		},
	}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t, WithConcurrency(8))
	report, err := p.Probe(context.Background(), server.URL+"/api", "t", "k")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if len(rec.Requests()) != 50 {
		t.Errorf("requests = %d, want 50", len(rec.Requests()))
	}
	for i, r := range report.Results {
		if r.Index != i {
			t.Errorf("Results[%d].Index = %d", i, r.Index)
		}
		if r.Endpoint != Endpoints[i/5] || r.PayloadIndex != i%5+1 {
			t.Errorf("Results[%d] = (%s, %d)", i, r.Endpoint, r.PayloadIndex)
		}
	}
}

func TestProbe_CancelledContext(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestProber(t)
	report, err := p.Probe(ctx, server.URL, "t", "k")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if len(report.Results) != 50 {
		t.Fatalf("len(Results) = %d, want 50", len(report.Results))
	}
	for i, r := range report.Results {
		if r.Outcome != OutcomeTransportError {
			t.Errorf("result %d outcome = %s, want transport_error", i, r.Outcome)
		}
		if errors.GetErrorType(r.Error) != errors.Cancelled {
			t.Errorf("result %d error type = %v, want cancelled", i, errors.GetErrorType(r.Error))
		}
	}
	if len(rec.Requests()) != 0 {
		t.Errorf("requests = %d, want 0", len(rec.Requests()))
	}
}

func TestProbe_AttemptHookAndMetrics(t *testing.T) {
	rec := &recorder{
		respond: func(path string, body map[string]interface{}) (int, string) {
			if path == "/token" {
				return http.StatusOK, `{"access_token":"abcdefghijkl"}`
			}
			return http.StatusNotFound, `{}`
		},
	}
	server := httptest.NewServer(rec)
	defer server.Close()

	var mu sync.Mutex
	var seen []int
	m := metrics.New()

	p := newTestProber(t, WithMetrics(m), WithAttemptHook(func(r Result) {
		mu.Lock()
		seen = append(seen, r.Index)
		mu.Unlock()
	}))
	if _, err := p.Probe(context.Background(), server.URL, "t", "k"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	if len(seen) != 50 {
		t.Fatalf("hook called %d times, want 50", len(seen))
	}
	for i, idx := range seen {
		if idx != i {
			t.Errorf("hook call %d saw index %d", i, idx)
		}
	}

	snap := m.Snapshot()
	if snap.RequestsTotal != 50 {
		t.Errorf("RequestsTotal = %d, want 50", snap.RequestsTotal)
	}
	if snap.TokensFound != 5 {
		t.Errorf("TokensFound = %d, want 5", snap.TokensFound)
	}
	if snap.Outcomes[string(OutcomeSuccess)] != 5 {
		t.Errorf("success outcomes = %d, want 5", snap.Outcomes[string(OutcomeSuccess)])
	}
}

func TestProbe_RateLimited(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	p := newTestProber(t, WithRateLimit(500))
	start := time.Now()
	if _, err := p.Probe(context.Background(), server.URL, "t", "k"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	// 49 paced gaps at 2ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("elapsed = %v, expected pacing", elapsed)
	}
}

func TestProber_LimiterStats(t *testing.T) {
	if stats := newTestProber(t).LimiterStats(); stats.Enabled {
		t.Errorf("LimiterStats() = %+v, want disabled", stats)
	}

	stats := newTestProber(t, WithRateLimit(5)).LimiterStats()
	if !stats.Enabled || stats.Rate != 5 || stats.Burst != 1 {
		t.Errorf("LimiterStats() = %+v", stats)
	}
}

// =============================================================================
// Run() Tests
// =============================================================================

func TestRun_UsesConfig(t *testing.T) {
	rec := &recorder{}
	server := httptest.NewServer(rec)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.TenantID = "from-config"
	cfg.APIKey = "secret"

	p := newTestProber(t, WithConfig(cfg))
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.TenantID != "from-config" {
		t.Errorf("TenantID = %s", report.TenantID)
	}
	if reqs := rec.Requests(); len(reqs) == 0 || reqs[0].Tenant != "from-config" {
		t.Error("requests should carry the configured tenant")
	}
}
