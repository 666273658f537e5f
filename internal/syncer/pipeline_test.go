package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campatlas/catalog-cli/internal/config"
	"github.com/campatlas/catalog-cli/internal/cost"
	"github.com/campatlas/catalog-cli/internal/model"
	"github.com/campatlas/catalog-cli/internal/pacer"
	"github.com/campatlas/catalog-cli/internal/placeid"
)

func newTestPipeline(st *fakeStore, client *fakeClient, limits config.SyncConfig) *pipeline {
	p := &pipeline{
		store:  st,
		gov:    pacer.New(time.Millisecond, 2*time.Millisecond),
		est:    cost.NewEstimator(cost.DefaultRates()),
		limits: limits,
	}
	if client != nil {
		p.client = client
	}
	return p
}

func TestSearchPlaces_DedupesAcrossQueries(t *testing.T) {
	client := &fakeClient{ids: []string{"a", "b"}}
	p := newTestPipeline(newFakeStore(), client, testLimits())
	pr := newProgress()

	cfg := model.DefaultSyncConfig()
	cfg.Provinces = []string{"Teruel"}
	ids, err := p.searchPlaces(context.Background(), cfg, pr)
	require.NoError(t, err)

	// Both language sweeps return the same set; each id appears once.
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, int64(2), client.searchCalls.Load())
	assert.Equal(t, int64(2), pr.found.Load())
	assert.Equal(t, int64(2), pr.requests.Load())
}

func TestSearchPlaces_StopsAtMaxPlaces(t *testing.T) {
	client := &fakeClient{ids: []string{"a", "b", "c", "d", "e"}}
	p := newTestPipeline(newFakeStore(), client, testLimits())
	pr := newProgress()

	cfg := model.DefaultSyncConfig()
	cfg.Provinces = []string{"Teruel", "Huesca"}
	cfg.MaxPlaces = 3
	ids, err := p.searchPlaces(context.Background(), cfg, pr)
	require.NoError(t, err)

	assert.Len(t, ids, 3)
	assert.Equal(t, int64(1), client.searchCalls.Load(), "sweep stops once the ceiling is hit")
}

func TestSearchPlaces_RateLimitedQueryIsSoft(t *testing.T) {
	client := &fakeClient{ids: []string{"a"}, searchFailures: 1}
	p := newTestPipeline(newFakeStore(), client, testLimits())
	pr := newProgress()

	cfg := model.DefaultSyncConfig()
	cfg.Provinces = []string{"Teruel"}
	ids, err := p.searchPlaces(context.Background(), cfg, pr)
	require.NoError(t, err)

	// The throttled query counts zero results; the next query still runs.
	assert.Equal(t, []string{"a"}, ids)
	assert.Equal(t, int64(2), pr.requests.Load())
}

func TestSearchPlaces_FallsBackToDefaultProvinces(t *testing.T) {
	client := &fakeClient{}
	p := newTestPipeline(newFakeStore(), client, testLimits())

	cfg := model.DefaultSyncConfig()
	cfg.Provinces = nil
	_, err := p.searchPlaces(context.Background(), cfg, newProgress())
	require.NoError(t, err)

	want := int64(len(defaultProvinces) * len(searchLanguages))
	assert.Equal(t, want, client.searchCalls.Load())
}

func TestFetchDetails_BudgetReserveUnderConcurrency(t *testing.T) {
	client := &fakeClient{ids: []string{"a"}}
	limits := testLimits()
	limits.MaxRequests = 4
	limits.DetailWorkers = 3
	p := newTestPipeline(newFakeStore(), client, limits)

	ids := []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"}
	_, err := p.fetchDetails(context.Background(), ids, newProgress())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request budget exhausted")
	assert.LessOrEqual(t, client.detailCalls.Load(), int64(4),
		"no detail call may start past the reserved budget")
}

func TestCatalogPhotos_CapsPerPlace(t *testing.T) {
	st := newFakeStore()
	limits := testLimits()
	limits.PhotoCap = 2
	p := newTestPipeline(st, nil, limits)
	pr := newProgress()

	detail := makeDetail("p1", 8, 0)
	items := []fetched{{place: recordFromDetail(detail), detail: detail}}
	p.catalogPhotos(context.Background(), items, pr)

	assert.Equal(t, 2, st.photoCount())
	assert.Equal(t, int64(2), pr.photos.Load())
}

func TestCatalogPhotos_SkipsPlacesWithoutPhotos(t *testing.T) {
	st := newFakeStore()
	p := newTestPipeline(st, nil, testLimits())

	detail := makeDetail("p1", 0, 1)
	items := []fetched{{place: recordFromDetail(detail), detail: detail}}
	p.catalogPhotos(context.Background(), items, newProgress())

	assert.Zero(t, st.photoCount())
}

func TestCatalogReviews_ParsesStubFields(t *testing.T) {
	st := newFakeStore()
	p := newTestPipeline(st, nil, testLimits())
	pr := newProgress()

	detail := makeDetail("p1", 0, 3)
	items := []fetched{{place: recordFromDetail(detail), detail: detail}}
	p.catalogReviews(context.Background(), items, pr)

	assert.Equal(t, 3, st.reviewCount())
	assert.Equal(t, int64(3), pr.reviews.Load())
}

func TestCatalogReviews_RecountIsIdempotent(t *testing.T) {
	st := newFakeStore()
	p := newTestPipeline(st, nil, testLimits())
	pr := newProgress()

	detail := makeDetail("p1", 0, 2)
	items := []fetched{{place: recordFromDetail(detail), detail: detail}}
	p.catalogReviews(context.Background(), items, pr)
	p.catalogReviews(context.Background(), items, pr)

	assert.Equal(t, 2, st.reviewCount())
	assert.Equal(t, int64(2), pr.reviews.Load(), "only newly inserted stubs are counted")
}

func TestRecordFromDetail(t *testing.T) {
	detail := makeDetail("p1", 2, 1)
	place := recordFromDetail(detail)

	assert.Equal(t, "p1", place.ExternalID)
	assert.Equal(t, placeid.Hash("Camping p1", "Calle Mayor 1, p1"), place.IdentityHash)
	assert.Equal(t, model.ProcessingPending, place.ProcessingStatus)
	assert.True(t, place.HasPhotos)
	assert.Equal(t, 2, place.PhotoCount)
	assert.True(t, place.HasReviews)
	assert.Equal(t, 1, place.ReviewCount)
	assert.InDelta(t, 4.2, place.Rating, 0.001)
	assert.JSONEq(t, string(detail.Raw), string(place.Payload))
	assert.False(t, place.FetchedAt.IsZero())
}
