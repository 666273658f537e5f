package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campatlas/catalog-cli/internal/config"
	"github.com/campatlas/catalog-cli/internal/cost"
	"github.com/campatlas/catalog-cli/internal/model"
	"github.com/campatlas/catalog-cli/internal/pacer"
	"github.com/campatlas/catalog-cli/internal/store"
	"github.com/campatlas/catalog-cli/pkg/places"
)

// ErrAlreadyRunning is returned by StartSync when a run is in flight. The
// HTTP layer maps it to a conflict status; the scheduler swallows it.
var ErrAlreadyRunning = eris.New("syncer: sync already running")

const (
	cancelMessage = "sync cancelled by operator"
	staleMessage  = "sync interrupted by process restart"
)

// Orchestrator enforces single-flight execution of the sync pipeline and
// owns the run-to-completion state transitions. Construct one at startup and
// inject it; at most one run is processing at any time process-wide.
type Orchestrator struct {
	store  store.Store
	pipe   *pipeline
	est    *cost.Estimator
	limits config.SyncConfig

	mu     sync.Mutex
	active *activeRun
}

// activeRun is the in-memory liveness cache for the run in flight. The
// persisted SyncRun remains the durable source of truth.
type activeRun struct {
	run    *model.SyncRun
	cancel context.CancelFunc
	pr     *progress
}

// New creates the orchestrator. A nil client is allowed and degrades catalog
// phases to logged no-ops.
func New(st store.Store, client places.Client, gov *pacer.Governor, est *cost.Estimator, limits config.SyncConfig) *Orchestrator {
	return &Orchestrator{
		store:  st,
		est:    est,
		limits: limits,
		pipe: &pipeline{
			client: client,
			store:  st,
			gov:    gov,
			est:    est,
			limits: limits,
		},
	}
}

// Reconcile sweeps runs left in processing by a previous process. Call once
// at startup before accepting work.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	n, err := o.store.FailStale(ctx, staleMessage)
	if err != nil {
		return eris.Wrap(err, "syncer: reconcile stale runs")
	}
	if n > 0 {
		zap.L().Warn("marked stale processing runs as failed", zap.Int64("count", n))
	}
	return nil
}

// StartSync validates the config, persists a run in processing state and
// kicks off the pipeline on a background goroutine. It returns before the
// pipeline completes. A second call while a run is active fails with
// ErrAlreadyRunning and creates no run row.
func (o *Orchestrator) StartSync(ctx context.Context, cfg model.SyncConfig) (*model.SyncRun, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if cfg.MaxPlaces > o.limits.MaxPlaces {
		zap.L().Warn("clamping max places to configured ceiling",
			zap.Int("requested", cfg.MaxPlaces),
			zap.Int("ceiling", o.limits.MaxPlaces),
		)
		cfg.MaxPlaces = o.limits.MaxPlaces
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		return nil, ErrAlreadyRunning
	}

	run, err := o.store.CreateRun(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "syncer: create run")
	}

	// The pipeline outlives the triggering request, so it gets its own
	// context, cancelled only through CancelSync.
	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{run: run, cancel: cancel, pr: newProgress()}
	o.active = ar

	zap.L().Info("sync run started",
		zap.String("run_id", run.ID),
		zap.String("type", string(cfg.Type)),
		zap.Int("max_places", cfg.MaxPlaces),
	)

	go o.execute(runCtx, ar, cfg)

	return run, nil
}

// GetStatus returns a live snapshot of the active run, or nil when idle.
func (o *Orchestrator) GetStatus() *model.RunSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		return nil
	}
	return &model.RunSnapshot{
		RunID:   o.active.run.ID,
		Status:  model.RunStatusProcessing,
		Phase:   o.active.pr.currentPhase(),
		Metrics: o.active.pr.metrics(o.est),
	}
}

// CancelSync requests cooperative cancellation of the active run. Only the
// active run's id is accepted. In-flight calls are not aborted; the pipeline
// observes cancellation at the next phase boundary.
func (o *Orchestrator) CancelSync(runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil {
		return eris.Errorf("syncer: no active run to cancel")
	}
	if o.active.run.ID != runID {
		return eris.Errorf("syncer: run %s is not the active run", runID)
	}

	zap.L().Info("cancelling sync run", zap.String("run_id", runID))
	o.active.cancel()
	return nil
}

// RunScheduled starts an incremental sync with the default config. Invoked
// by the recurring scheduler; an already-running sync is logged, not an error.
func (o *Orchestrator) RunScheduled() {
	run, err := o.StartSync(context.Background(), model.DefaultSyncConfig())
	if err != nil {
		if eris.Is(err, ErrAlreadyRunning) {
			zap.L().Info("scheduled sync skipped, a run is already active")
		} else {
			zap.L().Error("scheduled sync failed to start", zap.Error(err))
		}
		return
	}
	zap.L().Info("scheduled sync started", zap.String("run_id", run.ID))
}

// execute runs the pipeline and always finishes the run record and releases
// the single-flight slot, whatever way the pipeline exits.
func (o *Orchestrator) execute(ctx context.Context, ar *activeRun, cfg model.SyncConfig) {
	start := time.Now()
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = eris.Errorf("panic in sync pipeline: %v", r)
			zap.L().Error("sync pipeline panicked",
				zap.String("run_id", ar.run.ID),
				zap.Any("panic", r),
			)
		}
		o.finish(ctx, ar, start, runErr)
	}()

	runErr = o.pipe.run(ctx, cfg, ar.pr)
}

// finish writes the terminal state and clears the single-flight flag.
func (o *Orchestrator) finish(runCtx context.Context, ar *activeRun, start time.Time, runErr error) {
	now := time.Now().UTC()
	run := ar.run
	run.CompletedAt = &now
	run.DurationSeconds = time.Since(start).Seconds()
	run.Metrics = ar.pr.metrics(o.est)

	switch {
	case runCtx.Err() != nil:
		run.Status = model.RunStatusCancelled
		run.ErrorMessage = cancelMessage
	case runErr != nil:
		run.Status = model.RunStatusFailed
		run.ErrorMessage = runErr.Error()
		run.ErrorDetails = eris.ToString(runErr, true)
	default:
		run.Status = model.RunStatusCompleted
	}

	// The run context may already be cancelled; the final write gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.FinishRun(ctx, run); err != nil {
		zap.L().Error("failed to persist final run state",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("sync run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("places_found", run.Metrics.PlacesFound),
		zap.Int("places_updated", run.Metrics.PlacesUpdated),
		zap.Int("api_requests", run.Metrics.APIRequests),
		zap.Float64("estimated_cost_usd", run.Metrics.EstimatedCostUSD),
		zap.Float64("duration_secs", run.DurationSeconds),
	)

	ar.cancel()

	o.mu.Lock()
	o.active = nil
	o.mu.Unlock()
}
