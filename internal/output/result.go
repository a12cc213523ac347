package output

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/PentesterFlow/authprobe/pkg/probe"
)

// RunReport is the serializable form of a probe run. It never carries the
// API key, and tokens are masked unless the report was built to show them.
type RunReport struct {
	BaseURL     string        `json:"base_url"`
	TenantID    string        `json:"tenant_id"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Summary     Summary       `json:"summary"`
	Attempts    []Attempt     `json:"attempts"`
	Timing      *TimingInfo   `json:"timing,omitempty"`
}

// Attempt is one endpoint/payload combination and its outcome.
type Attempt struct {
	Index        int             `json:"index"`
	Endpoint     string          `json:"endpoint"`
	URL          string          `json:"url"`
	PayloadIndex int             `json:"payload_index"`
	PayloadName  string          `json:"payload_name"`
	Payload      json.RawMessage `json:"payload"`
	TenantHeader string          `json:"tenant_header"`
	StatusCode   int             `json:"status_code"`
	Body         *string         `json:"body"`
	Truncated    bool            `json:"truncated,omitempty"`
	Outcome      string          `json:"outcome"`
	Success      bool            `json:"success"`
	TokenKey     string          `json:"token_key,omitempty"`
	Token        string          `json:"token,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
}

// Summary lists the working combinations and outcome counts.
type Summary struct {
	Total          int            `json:"total"`
	Counts         map[string]int `json:"counts"`
	Successes      []Combination  `json:"successes"`
	Partials       []Combination  `json:"partials,omitempty"`
	Recommendation string         `json:"recommendation,omitempty"`
}

// Combination identifies an endpoint and payload shape that answered 2xx.
type Combination struct {
	Endpoint     string   `json:"endpoint"`
	URL          string   `json:"url"`
	PayloadIndex int      `json:"payload_index"`
	PayloadName  string   `json:"payload_name"`
	Fields       []string `json:"fields"`
	StatusCode   int      `json:"status_code"`
	TokenKey     string   `json:"token_key,omitempty"`
	Token        string   `json:"token,omitempty"`
}

// FromReport converts a probe report. Tokens are masked unless showTokens.
func FromReport(r *probe.Report, showTokens bool) *RunReport {
	out := &RunReport{
		BaseURL:     r.BaseURL,
		TenantID:    r.TenantID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    r.Duration(),
		Attempts:    make([]Attempt, 0, len(r.Results)),
	}

	for _, res := range r.Results {
		out.Attempts = append(out.Attempts, FromResult(res, showTokens))
	}
	out.Summary = FromSummary(r.Summary, showTokens)

	return out
}

// FromResult converts a single probe result.
func FromResult(r probe.Result, showTokens bool) Attempt {
	a := Attempt{
		Index:        r.Index,
		Endpoint:     r.Endpoint,
		URL:          r.URL,
		PayloadIndex: r.PayloadIndex,
		PayloadName:  r.PayloadName,
		Payload:      json.RawMessage(r.Payload.Redacted()),
		TenantHeader: r.TenantHeader,
		StatusCode:   r.StatusCode,
		Outcome:      string(r.Outcome),
		Success:      r.Success,
		TokenKey:     r.TokenKey,
		Token:        tokenValue(r.Token, showTokens),
		Truncated:    r.Truncated,
		DurationMs:   r.Duration.Milliseconds(),
	}
	if r.HasBody() {
		raw := r.Body
		if r.Success && !showTokens {
			raw = maskBody(raw, r.Token)
		}
		body := string(raw)
		a.Body = &body
	}
	if r.Error != nil {
		a.Error = r.Error.Error()
	}
	return a
}

// FromSummary converts a probe summary.
func FromSummary(s probe.Summary, showTokens bool) Summary {
	out := Summary{
		Total:          s.Total,
		Counts:         make(map[string]int, len(s.Counts)),
		Successes:      make([]Combination, 0, len(s.Successes)),
		Recommendation: s.Recommendation,
	}
	for o, n := range s.Counts {
		out.Counts[string(o)] = n
	}
	for _, r := range s.Successes {
		out.Successes = append(out.Successes, combination(r, showTokens))
	}
	for _, r := range s.Partials {
		out.Partials = append(out.Partials, combination(r, showTokens))
	}
	return out
}

func combination(r probe.Result, showTokens bool) Combination {
	fields := make([]string, len(r.Payload))
	for i, f := range r.Payload {
		fields[i] = f.Name
	}
	return Combination{
		Endpoint:     r.Endpoint,
		URL:          r.URL,
		PayloadIndex: r.PayloadIndex,
		PayloadName:  r.PayloadName,
		Fields:       fields,
		StatusCode:   r.StatusCode,
		TokenKey:     r.TokenKey,
		Token:        tokenValue(r.Token, showTokens),
	}
}

// maskBody masks every token field of a token response, and any other
// occurrence of the extracted token.
func maskBody(body []byte, token string) []byte {
	out := body

	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&obj); err == nil && obj != nil {
		for _, k := range probe.TokenKeys {
			switch v := obj[k].(type) {
			case string:
				obj[k] = probe.MaskSecret(v)
			case json.Number:
				obj[k] = probe.MaskSecret(v.String())
			}
		}
		if data, err := json.Marshal(obj); err == nil {
			out = data
		}
	}

	if token != "" {
		out = bytes.ReplaceAll(out, []byte(token), []byte(probe.MaskSecret(token)))
	}
	return out
}

func tokenValue(token string, show bool) string {
	if show {
		return token
	}
	return probe.MaskSecret(token)
}
