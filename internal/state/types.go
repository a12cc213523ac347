package state

import (
	"errors"
	"time"

	"github.com/PentesterFlow/authprobe/internal/output"
)

// ErrNotFound is returned when a run id is not in the store.
var ErrNotFound = errors.New("run not found")

// RunRecord is one stored probe run. The report inside never carries the API
// key, and tokens are masked before a record is built.
type RunRecord struct {
	ID      string            `json:"id"`
	SavedAt time.Time         `json:"saved_at"`
	Report  *output.RunReport `json:"report"`
}

// Listing summarizes the record for the history listing.
func (r *RunRecord) Listing() output.RunListing {
	return output.NewListing(r.ID, r.Report)
}

// Change is one combination whose outcome differs between two runs.
type Change struct {
	Index        int    `json:"index"`
	Endpoint     string `json:"endpoint"`
	PayloadIndex int    `json:"payload_index"`
	Before       string `json:"before"`
	After        string `json:"after"`
	BeforeStatus int    `json:"before_status"`
	AfterStatus  int    `json:"after_status"`
}
