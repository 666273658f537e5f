// Package cost estimates the monetary cost of a sync run's catalog API usage.
package cost

// Rates holds per-category catalog API pricing in USD per 1000 requests.
type Rates struct {
	SearchPerK float64 `yaml:"search_per_k" mapstructure:"search_per_k"`
	DetailPerK float64 `yaml:"detail_per_k" mapstructure:"detail_per_k"`
	PhotoPerK  float64 `yaml:"photo_per_k" mapstructure:"photo_per_k"`
}

// Historical request mix observed across runs: detail lookups dominate,
// followed by searches and photo metadata calls.
const (
	detailShare = 0.70
	searchShare = 0.20
	photoShare  = 0.10
)

// Estimator apportions a total request count across categories using the
// fixed historical mix and prices each share. Pure and deterministic so the
// estimate is reproducible independent of network behavior.
type Estimator struct {
	rates Rates
}

// NewEstimator creates an Estimator with the given rates.
func NewEstimator(rates Rates) *Estimator {
	return &Estimator{rates: rates}
}

// Estimate returns the estimated USD cost for the given total request count.
func (e *Estimator) Estimate(requests int) float64 {
	if requests <= 0 {
		return 0
	}
	n := float64(requests)
	return n*detailShare/1000*e.rates.DetailPerK +
		n*searchShare/1000*e.rates.SearchPerK +
		n*photoShare/1000*e.rates.PhotoPerK
}

// DefaultRates returns the default catalog pricing.
func DefaultRates() Rates {
	return Rates{
		SearchPerK: 32.00,
		DetailPerK: 17.00,
		PhotoPerK:  7.00,
	}
}
