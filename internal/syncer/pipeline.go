package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campatlas/catalog-cli/internal/config"
	"github.com/campatlas/catalog-cli/internal/cost"
	"github.com/campatlas/catalog-cli/internal/model"
	"github.com/campatlas/catalog-cli/internal/pacer"
	"github.com/campatlas/catalog-cli/internal/placeid"
	"github.com/campatlas/catalog-cli/internal/store"
	"github.com/campatlas/catalog-cli/pkg/places"
)

// pipeline runs the four ordered sync phases. Per-item failures inside a
// phase are logged and skipped; only budget overruns, persistence of the run
// itself, and cancellation abort a run.
type pipeline struct {
	client places.Client // nil when no API key is configured
	store  store.Store
	gov    *pacer.Governor
	est    *cost.Estimator
	limits config.SyncConfig
}

// fetched pairs an upserted record with the detail response it came from, so
// the photo and review phases need no further network calls.
type fetched struct {
	place  *model.RawPlace
	detail *places.Detail
}

// run executes the phases in order and returns the first fatal error.
func (p *pipeline) run(ctx context.Context, cfg model.SyncConfig, pr *progress) error {
	log := zap.L().With(zap.String("component", "syncer.pipeline"))

	ids, err := p.searchPlaces(ctx, cfg, pr)
	if err != nil {
		return err
	}

	// Hard request-budget gate before any detail calls are made.
	if n := pr.requests.Load(); n > int64(p.limits.MaxRequests) {
		return eris.Errorf("pipeline: request budget exceeded after search: %d > %d", n, p.limits.MaxRequests)
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: cancelled")
	}

	items, err := p.fetchDetails(ctx, ids, pr)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: cancelled")
	}
	if cfg.DownloadPhotos {
		p.catalogPhotos(ctx, items, pr)
	} else {
		log.Info("photo catalog disabled for this run")
	}

	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: cancelled")
	}
	if cfg.FetchReviews {
		p.catalogReviews(ctx, items, pr)
	} else {
		log.Info("review catalog disabled for this run")
	}

	pr.setPhase(phaseFinalize)
	estimated := p.est.Estimate(int(pr.requests.Load()))
	if estimated > p.limits.MaxCostUSD {
		log.Error("estimated cost exceeds per-run maximum",
			zap.Float64("estimated_usd", estimated),
			zap.Float64("max_usd", p.limits.MaxCostUSD),
		)
	} else if estimated > p.limits.CostAlertUSD {
		log.Warn("estimated cost exceeds alert threshold",
			zap.Float64("estimated_usd", estimated),
			zap.Float64("alert_usd", p.limits.CostAlertUSD),
		)
	}

	return nil
}

// searchPlaces sweeps the configured provinces in each search language and
// accumulates a deduplicated id set, stopping once the place ceiling is hit.
// Failed searches count zero results and do not abort the phase.
func (p *pipeline) searchPlaces(ctx context.Context, cfg model.SyncConfig, pr *progress) ([]string, error) {
	pr.setPhase(phaseTextSearch)
	log := zap.L().With(zap.String("component", "syncer.pipeline"), zap.String("phase", phaseTextSearch))

	if p.client == nil {
		log.Error("catalog api key not configured, search skipped")
		return nil, nil
	}

	provinces := cfg.Provinces
	if len(provinces) == 0 {
		provinces = p.limits.Provinces
	}
	if len(provinces) == 0 {
		provinces = defaultProvinces
	}

	seen := make(map[string]struct{})
	var ids []string

sweep:
	for _, province := range provinces {
		for _, lang := range searchLanguages {
			if len(ids) >= cfg.MaxPlaces {
				break sweep
			}
			if err := p.gov.Wait(ctx); err != nil {
				return nil, err
			}

			resp, err := p.client.TextSearch(ctx, "camping "+province, lang)
			pr.requests.Add(1)
			if err != nil {
				if eris.Is(err, places.ErrRateLimited) {
					if cerr := p.gov.Cooldown(ctx); cerr != nil {
						return nil, cerr
					}
				}
				log.Warn("text search failed, counting zero results",
					zap.String("province", province),
					zap.String("lang", lang),
					zap.Error(err),
				)
				continue
			}

			for _, ref := range resp.Places {
				if _, ok := seen[ref.ID]; ok {
					continue
				}
				seen[ref.ID] = struct{}{}
				ids = append(ids, ref.ID)
				if len(ids) >= cfg.MaxPlaces {
					break
				}
			}
		}
	}

	pr.found.Store(int64(len(ids)))
	log.Info("search complete",
		zap.Int("provinces", len(provinces)),
		zap.Int("places_found", len(ids)),
	)
	return ids, nil
}

// fetchDetails fetches and upserts every discovered place with a bounded
// worker pool. Per-place failures (timeouts, throttling, upsert errors) are
// soft; the place is skipped this run and picked up by the next one. The
// global request budget stays accurate under concurrent increment.
func (p *pipeline) fetchDetails(ctx context.Context, ids []string, pr *progress) ([]fetched, error) {
	pr.setPhase(phaseDetailFetch)
	log := zap.L().With(zap.String("component", "syncer.pipeline"), zap.String("phase", phaseDetailFetch))

	if p.client == nil || len(ids) == 0 {
		return nil, nil
	}

	workers := p.limits.DetailWorkers
	if workers <= 0 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		items []fetched
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := p.gov.Wait(gctx); err != nil {
				return err
			}

			// Reserve budget before the call so concurrent workers cannot
			// overshoot the ceiling.
			if pr.requests.Add(1) > int64(p.limits.MaxRequests) {
				pr.requests.Add(-1)
				return eris.Errorf("pipeline: request budget exhausted during detail fetch (%d)", p.limits.MaxRequests)
			}

			detail, err := p.client.Details(gctx, id)
			if err != nil {
				if eris.Is(err, places.ErrRateLimited) {
					_ = p.gov.Cooldown(gctx)
				}
				log.Warn("detail fetch failed, skipping place",
					zap.String("place_id", id),
					zap.Error(err),
				)
				return nil
			}

			place := recordFromDetail(detail)
			if err := p.store.UpsertPlace(gctx, place); err != nil {
				log.Warn("upsert failed, skipping place",
					zap.String("place_id", id),
					zap.Error(err),
				)
				return nil
			}
			pr.updated.Add(1)

			mu.Lock()
			items = append(items, fetched{place: place, detail: detail})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("detail fetch complete",
		zap.Int("fetched", len(items)),
		zap.Int("skipped", len(ids)-len(items)),
	)
	return items, nil
}

// catalogPhotos records up to the photo cap of photo references per place.
// No photo bytes are transferred here.
func (p *pipeline) catalogPhotos(ctx context.Context, items []fetched, pr *progress) {
	pr.setPhase(phasePhotoCatalog)
	log := zap.L().With(zap.String("component", "syncer.pipeline"), zap.String("phase", phasePhotoCatalog))

	capPerPlace := p.limits.PhotoCap
	if capPerPlace <= 0 {
		capPerPlace = 5
	}

	for _, it := range items {
		if !it.place.HasPhotos {
			continue
		}
		photos := it.detail.Photos
		if len(photos) > capPerPlace {
			photos = photos[:capPerPlace]
		}

		stubs := make([]model.PhotoStub, 0, len(photos))
		for _, ph := range photos {
			stubs = append(stubs, model.PhotoStub{
				ExternalPlaceID: it.place.ExternalID,
				Ref:             ph.Name,
				WidthPx:         ph.WidthPx,
				HeightPx:        ph.HeightPx,
			})
		}

		n, err := p.store.AddPhotoStubs(ctx, stubs)
		pr.photos.Add(n)
		if err != nil {
			log.Warn("photo catalog failed for place",
				zap.String("place_id", it.place.ExternalID),
				zap.Error(err),
			)
		}
	}
}

// catalogReviews records a review stub per review already present in the
// detail responses from phase two; no additional network calls.
func (p *pipeline) catalogReviews(ctx context.Context, items []fetched, pr *progress) {
	pr.setPhase(phaseReviewCatalog)
	log := zap.L().With(zap.String("component", "syncer.pipeline"), zap.String("phase", phaseReviewCatalog))

	for _, it := range items {
		if !it.place.HasReviews {
			continue
		}

		stubs := make([]model.ReviewStub, 0, len(it.detail.Reviews))
		for _, rv := range it.detail.Reviews {
			payload, err := json.Marshal(rv)
			if err != nil {
				log.Warn("review marshal failed, skipping review",
					zap.String("place_id", it.place.ExternalID),
					zap.Error(err),
				)
				continue
			}
			stub := model.ReviewStub{
				ExternalPlaceID: it.place.ExternalID,
				Ref:             rv.Name,
				Payload:         payload,
				Author:          rv.AuthorAttribution.DisplayName,
				Rating:          rv.Rating,
			}
			if ts, err := time.Parse(time.RFC3339, rv.PublishTime); err == nil {
				stub.PostedAt = &ts
			}
			stubs = append(stubs, stub)
		}

		n, err := p.store.AddReviewStubs(ctx, stubs)
		pr.reviews.Add(n)
		if err != nil {
			log.Warn("review catalog failed for place",
				zap.String("place_id", it.place.ExternalID),
				zap.Error(err),
			)
		}
	}
}

// recordFromDetail maps a catalog detail response to the canonical record.
func recordFromDetail(detail *places.Detail) *model.RawPlace {
	return &model.RawPlace{
		ExternalID:       detail.ID,
		IdentityHash:     placeid.Hash(detail.DisplayName.Text, detail.FormattedAddress),
		Payload:          detail.Raw,
		FetchedAt:        time.Now().UTC(),
		ProcessingStatus: model.ProcessingPending,
		HasPhotos:        len(detail.Photos) > 0,
		PhotoCount:       len(detail.Photos),
		HasReviews:       len(detail.Reviews) > 0,
		ReviewCount:      len(detail.Reviews),
		Rating:           detail.Rating,
	}
}
