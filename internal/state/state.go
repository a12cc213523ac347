// Package state keeps a local history of probe runs.
package state

import (
	"time"

	"github.com/PentesterFlow/authprobe/internal/logger"
	"github.com/PentesterFlow/authprobe/internal/output"
	"github.com/PentesterFlow/authprobe/pkg/probe"
)

// History records probe runs into a Store.
type History struct {
	store  Store
	logger *logger.Logger
}

// NewHistory creates a history backed by store. A nil logger uses the global
// logger.
func NewHistory(store Store, l *logger.Logger) *History {
	if l == nil {
		l = logger.Global().WithComponent("history")
	}
	return &History{
		store:  store,
		logger: l,
	}
}

// Record stores a finished run with tokens masked.
func (h *History) Record(report *probe.Report) (*RunRecord, error) {
	rec := &RunRecord{
		SavedAt: time.Now(),
		Report:  output.FromReport(report, false),
	}
	if err := h.store.Save(rec); err != nil {
		return nil, err
	}

	h.logger.Event(logger.DebugLevel).
		Str("id", rec.ID).
		Str("base_url", report.BaseURL).
		Int("successes", len(report.Summary.Successes)).
		Msg("Run recorded")

	return rec, nil
}

// Get returns a stored run.
func (h *History) Get(id string) (*RunRecord, error) {
	return h.store.Get(id)
}

// List returns listings of up to limit runs, newest first.
func (h *History) List(limit int) ([]output.RunListing, error) {
	records, err := h.store.List(limit)
	if err != nil {
		return nil, err
	}

	listings := make([]output.RunListing, 0, len(records))
	for _, r := range records {
		listings = append(listings, r.Listing())
	}
	return listings, nil
}

// Previous returns the newest run against the same base URL and tenant that
// was stored before the run with id exceptID. It returns nil when there is
// none.
func (h *History) Previous(baseURL, tenantID, exceptID string) (*RunRecord, error) {
	records, err := h.store.List(0)
	if err != nil {
		return nil, err
	}

	for _, r := range records {
		if r.ID == exceptID || r.Report == nil {
			continue
		}
		if r.Report.BaseURL == baseURL && r.Report.TenantID == tenantID {
			return r, nil
		}
	}
	return nil, nil
}

// Close closes the underlying store.
func (h *History) Close() error {
	return h.store.Close()
}

// Compare lists the combinations whose outcome changed between two runs.
// Attempts are matched by endpoint and payload index.
func Compare(before, after *output.RunReport) []Change {
	type key struct {
		endpoint string
		payload  int
	}

	prev := make(map[key]output.Attempt, len(before.Attempts))
	for _, a := range before.Attempts {
		prev[key{a.Endpoint, a.PayloadIndex}] = a
	}

	var changes []Change
	for _, a := range after.Attempts {
		b, ok := prev[key{a.Endpoint, a.PayloadIndex}]
		if ok && b.Outcome == a.Outcome && b.StatusCode == a.StatusCode {
			continue
		}
		c := Change{
			Index:        a.Index,
			Endpoint:     a.Endpoint,
			PayloadIndex: a.PayloadIndex,
			After:        a.Outcome,
			AfterStatus:  a.StatusCode,
		}
		if ok {
			c.Before = b.Outcome
			c.BeforeStatus = b.StatusCode
		}
		changes = append(changes, c)
	}
	return changes
}
