package models

import "time"

// Refresh job names
const (
	JobIncremental = "incremental"
	JobFull        = "full"
)

// RefreshWindow selects the fetch range of a batch refresh.
type RefreshWindow string

const (
	WindowRecent RefreshWindow = "recent" // trailing window ending today
	WindowFull   RefreshWindow = "full"   // asset inception through today
)

// WritePolicy selects how fetched points are written to the cache.
type WritePolicy string

const (
	WriteMerge   WritePolicy = "merge"
	WriteReplace WritePolicy = "replace"
)

// SymbolFailure records a symbol whose fetch exhausted its attempts.
type SymbolFailure struct {
	Symbol   string `json:"symbol"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// RefreshReport is the outcome of one batch refresh run.
type RefreshReport struct {
	Job          string          `json:"job"`
	RunID        string          `json:"run_id"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	Total        int             `json:"total"`
	Refreshed    []string        `json:"refreshed"`
	Empty        []string        `json:"empty"`
	Failed       []SymbolFailure `json:"failed"`
	Skipped      []string        `json:"skipped,omitempty"` // never dispatched (cancelled)
	PersistError string          `json:"persist_error,omitempty"`
	Partial      bool            `json:"partial"` // any failed or skipped symbol, or a persist error
	DurationMS   int64           `json:"duration_ms"`
}

// Persisted reports whether the run's snapshot write succeeded.
func (r *RefreshReport) Persisted() bool {
	return r != nil && r.PersistError == ""
}

// JobStatus is the scheduler's view of one job.
type JobStatus struct {
	Job        string         `json:"job"`
	Running    bool           `json:"running"`
	RunID      string         `json:"run_id,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	LastReport *RefreshReport `json:"last_report,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	Runs       int            `json:"runs"`
}
