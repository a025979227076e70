// Package tracking defines core types shared across subsystems.
package tracking

import "time"

// Trigger identifies which event path caused a tracking check.
type Trigger string

// Trigger values recorded with each view.
const (
	TriggerInitial    Trigger = "initial"
	TriggerNavigation Trigger = "navigation"
	TriggerInPage     Trigger = "in_page"
	TriggerScan       Trigger = "scan"
)

// Settings is the persisted agent configuration mutated at runtime.
// APIEndpoint carries no trailing slash; DatabaseID is canonical hyphenated
// form or empty; LastTracked is zero until the first successful increment.
type Settings struct {
	APIEndpoint string    `json:"api_endpoint"`
	APIKey      string    `json:"api_key"`
	Enabled     bool      `json:"enabled"`
	DatabaseID  string    `json:"database_id,omitempty"`
	LastTracked time.Time `json:"last_tracked,omitempty"`
}

// Snapshot is a DOM capture of a page at (or shortly after) a check trigger.
type Snapshot struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Body         []byte
	UsedHeadless bool
	Duration     time.Duration
}

// EffectiveURL returns the post-redirect URL when one was observed.
func (s Snapshot) EffectiveURL() string {
	if s.FinalURL != "" {
		return s.FinalURL
	}
	return s.URL
}

// ViewRecord is appended to the journal for every dispatched increment.
type ViewRecord struct {
	ID         string    `json:"id"`
	PageID     string    `json:"page_id"`
	DatabaseID string    `json:"database_id,omitempty"`
	URL        string    `json:"url"`
	Trigger    Trigger   `json:"trigger"`
	TrackedAt  time.Time `json:"tracked_at"`
	NewViews   int       `json:"new_views"`
	OK         bool      `json:"ok"`
	ErrorText  string    `json:"error_text,omitempty"`
}

// IncrementResult is the normalized success payload of an increment call.
type IncrementResult struct {
	NewViews int `json:"new_views"`
}

// UsageStats is the normalized payload of the remote stats endpoint.
type UsageStats struct {
	TotalUsers int `json:"total_users"`
	TotalViews int `json:"total_views,omitempty"`
}

// CheckOutcome describes what a single tracking decision did.
type CheckOutcome string

// Outcomes surfaced by the tracker and the scan endpoint.
const (
	OutcomeDisabled    CheckOutcome = "disabled"
	OutcomeNoPageID    CheckOutcome = "no_page_id"
	OutcomeNotDBItem   CheckOutcome = "not_db_item"
	OutcomeAlreadySeen CheckOutcome = "already_seen"
	OutcomeTracked     CheckOutcome = "tracked"
	OutcomeTrackFailed CheckOutcome = "track_failed"
)
