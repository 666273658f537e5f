package syncer

import (
	"sync/atomic"

	"github.com/campatlas/catalog-cli/internal/cost"
	"github.com/campatlas/catalog-cli/internal/model"
)

// Pipeline phase names, reported through status snapshots.
const (
	phaseStarting      = "starting"
	phaseTextSearch    = "text_search"
	phaseDetailFetch   = "detail_fetch"
	phasePhotoCatalog  = "photo_catalog"
	phaseReviewCatalog = "review_catalog"
	phaseFinalize      = "finalize"
)

// progress holds the live counters shared between the pipeline goroutine and
// status readers. Counters are atomics so GetStatus never blocks the pipeline.
type progress struct {
	phase    atomic.Value // string
	found    atomic.Int64
	updated  atomic.Int64
	photos   atomic.Int64
	reviews  atomic.Int64
	requests atomic.Int64
}

func newProgress() *progress {
	p := &progress{}
	p.phase.Store(phaseStarting)
	return p
}

func (p *progress) setPhase(name string) {
	p.phase.Store(name)
}

func (p *progress) currentPhase() string {
	return p.phase.Load().(string)
}

// metrics materializes the counters, pricing the request count so far.
func (p *progress) metrics(est *cost.Estimator) model.RunMetrics {
	requests := int(p.requests.Load())
	return model.RunMetrics{
		PlacesFound:      int(p.found.Load()),
		PlacesUpdated:    int(p.updated.Load()),
		PhotosCataloged:  int(p.photos.Load()),
		ReviewsFetched:   int(p.reviews.Load()),
		APIRequests:      requests,
		EstimatedCostUSD: est.Estimate(requests),
	}
}
