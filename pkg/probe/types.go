// Package probe discovers which authentication endpoint and request body a
// multi-tenant checkout API accepts for API-key authentication.
package probe

import (
	"time"

	"github.com/PentesterFlow/authprobe/internal/errors"
)

// Outcome classifies a single probe attempt.
type Outcome string

const (
	// OutcomeSuccess is a 2xx response carrying a recognizable token field.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial is a 2xx response without a usable token.
	OutcomePartial Outcome = "partial"
	// OutcomeNotFound is a 404 response.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeUnauthorized is a 401 response.
	OutcomeUnauthorized Outcome = "unauthorized"
	// OutcomeValidationError is a 422 response.
	OutcomeValidationError Outcome = "validation_error"
	// OutcomeFailure is any other HTTP status.
	OutcomeFailure Outcome = "failure"
	// OutcomeTransportError means no HTTP response was received.
	OutcomeTransportError Outcome = "transport_error"
)

// Outcomes lists every outcome in report order.
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomePartial,
	OutcomeNotFound,
	OutcomeUnauthorized,
	OutcomeValidationError,
	OutcomeFailure,
	OutcomeTransportError,
}

// Result is the record of one probe combination.
type Result struct {
	Index        int
	Endpoint     string
	URL          string
	PayloadIndex int // 1-based position in PayloadShapes
	PayloadName  string
	Payload      Payload
	TenantHeader string
	StatusCode   int
	Body         []byte // nil when no response was received
	Truncated    bool   // Body was cut at the client's size limit
	Outcome      Outcome
	Success      bool
	Token        string
	TokenKey     string
	Error        *errors.ProbeError
	Duration     time.Duration
}

// HasBody reports whether a response body was received.
func (r *Result) HasBody() bool {
	return r.Body != nil
}

// Summary aggregates the results of one run.
type Summary struct {
	Total          int
	Counts         map[Outcome]int
	Successes      []Result
	Partials       []Result
	Recommendation string
}

// Report is the complete output of one probe run.
type Report struct {
	BaseURL     string
	TenantID    string
	StartedAt   time.Time
	CompletedAt time.Time
	Results     []Result
	Summary     Summary
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
