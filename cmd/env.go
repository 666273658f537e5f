package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campatlas/catalog-cli/internal/cost"
	"github.com/campatlas/catalog-cli/internal/pacer"
	"github.com/campatlas/catalog-cli/internal/store"
	"github.com/campatlas/catalog-cli/internal/syncer"
	"github.com/campatlas/catalog-cli/pkg/places"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "catalog.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// syncEnv bundles the wired orchestrator with the store it owns.
type syncEnv struct {
	Store        store.Store
	Orchestrator *syncer.Orchestrator
}

func (e *syncEnv) Close() {
	_ = e.Store.Close()
}

// initSync builds the orchestrator, migrates the store and sweeps runs left
// in processing by a previous process.
func initSync(ctx context.Context) (*syncEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Catalog API client is optional. Without a key the pipeline still runs
	// and records a completed run with zero metrics.
	var client places.Client
	if cfg.Places.APIKey != "" {
		client = places.NewClient(cfg.Places.APIKey,
			places.WithBaseURL(cfg.Places.BaseURL),
			places.WithTimeout(time.Duration(cfg.Places.TimeoutSecs)*time.Second),
		)
	} else {
		zap.L().Warn("CATALOG_PLACES_API_KEY not set, catalog calls disabled")
	}

	gov := pacer.New(
		time.Duration(cfg.Sync.RequestDelayMS)*time.Millisecond,
		time.Duration(cfg.Sync.CooldownSecs)*time.Second,
	)
	est := cost.NewEstimator(cost.DefaultRates())

	orc := syncer.New(st, client, gov, est, cfg.Sync)
	if err := orc.Reconcile(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &syncEnv{Store: st, Orchestrator: orc}, nil
}
