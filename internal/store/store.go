// Package store persists sync-run audit records and raw catalog data.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/campatlas/catalog-cli/internal/model"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs. Results are always ordered
// by start time descending.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the sync pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, cfg model.SyncConfig) (*model.SyncRun, error)
	FinishRun(ctx context.Context, run *model.SyncRun) error
	GetRun(ctx context.Context, id string) (*model.SyncRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error)
	// FailStale marks runs left in processing by a crashed process as failed.
	FailStale(ctx context.Context, message string) (int64, error)

	// Raw records
	UpsertPlace(ctx context.Context, p *model.RawPlace) error
	AddPhotoStubs(ctx context.Context, stubs []model.PhotoStub) (int64, error)
	AddReviewStubs(ctx context.Context, stubs []model.ReviewStub) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
