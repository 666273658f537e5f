package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// RunStatus represents the current state of a catalog sync run.
type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// SyncType selects full or incremental catalog ingestion.
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// DefaultMaxPlaces is the ceiling applied when a caller does not set one.
const DefaultMaxPlaces = 200

// SyncConfig is the caller-supplied configuration for a single run.
// It is copied verbatim onto the run record for audit.
type SyncConfig struct {
	Type           SyncType `json:"type"`
	MaxPlaces      int      `json:"max_places"`
	Provinces      []string `json:"provinces,omitempty"`
	DownloadPhotos bool     `json:"download_photos"`
	FetchReviews   bool     `json:"fetch_reviews"`
}

// DefaultSyncConfig returns the configuration used by the scheduled trigger.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Type:           SyncTypeIncremental,
		MaxPlaces:      DefaultMaxPlaces,
		DownloadPhotos: true,
		FetchReviews:   true,
	}
}

// Normalize fills defaults and validates the config.
func (c *SyncConfig) Normalize() error {
	if c.Type == "" {
		c.Type = SyncTypeIncremental
	}
	if c.Type != SyncTypeFull && c.Type != SyncTypeIncremental {
		return eris.Errorf("model: invalid sync type %q", c.Type)
	}
	if c.MaxPlaces == 0 {
		c.MaxPlaces = DefaultMaxPlaces
	}
	if c.MaxPlaces < 0 {
		return eris.Errorf("model: max places must be positive, got %d", c.MaxPlaces)
	}
	return nil
}

// RunMetrics holds the per-run counters persisted on completion.
type RunMetrics struct {
	PlacesFound      int     `json:"places_found"`
	PlacesUpdated    int     `json:"places_updated"`
	PhotosCataloged  int     `json:"photos_cataloged"`
	ReviewsFetched   int     `json:"reviews_fetched"`
	APIRequests      int     `json:"api_requests"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// SyncRun is the append-only audit record for one pipeline execution.
// Only its status, completion and metrics fields mutate, and only at the
// terminal transition.
type SyncRun struct {
	ID              string     `json:"id"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Config          SyncConfig `json:"config"`
	Metrics         RunMetrics `json:"metrics"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ErrorDetails    string     `json:"error_details,omitempty"`
}

// RunSnapshot is the in-memory progress view of the active run. It is
// best-effort; the persisted SyncRun is the durable source of truth.
type RunSnapshot struct {
	RunID   string     `json:"run_id"`
	Status  RunStatus  `json:"status"`
	Phase   string     `json:"phase"`
	Metrics RunMetrics `json:"metrics"`
}
