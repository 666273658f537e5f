package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/campatlas/catalog-cli/internal/model"
	"github.com/campatlas/catalog-cli/internal/store"
	"github.com/campatlas/catalog-cli/pkg/places"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeStore is an in-memory store.Store for orchestrator and pipeline tests.
type fakeStore struct {
	mu          sync.Mutex
	runs        map[string]*model.SyncRun
	places      map[string]*model.RawPlace
	photoRefs   map[string]struct{}
	reviewRefs  map[string]struct{}
	createCalls int
	upsertErrs  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:       make(map[string]*model.SyncRun),
		places:     make(map[string]*model.RawPlace),
		photoRefs:  make(map[string]struct{}),
		reviewRefs: make(map[string]struct{}),
		upsertErrs: make(map[string]error),
	}
}

func (f *fakeStore) CreateRun(_ context.Context, cfg model.SyncConfig) (*model.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusProcessing,
		StartedAt: time.Now().UTC(),
		Config:    cfg,
	}
	cp := *run
	f.runs[run.ID] = &cp
	return run, nil
}

func (f *fakeStore) FinishRun(_ context.Context, run *model.SyncRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.ID]; !ok {
		return store.ErrRunNotFound
	}
	cp := *run
	f.runs[run.ID] = &cp
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*model.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.SyncRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SyncRun
	for _, run := range f.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, *run)
	}
	return out, nil
}

func (f *fakeStore) FailStale(_ context.Context, message string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, run := range f.runs {
		if run.Status == model.RunStatusProcessing {
			run.Status = model.RunStatusFailed
			run.ErrorMessage = message
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpsertPlace(_ context.Context, p *model.RawPlace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.upsertErrs[p.ExternalID]; ok {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	cp := *p
	f.places[p.ExternalID] = &cp
	return nil
}

func (f *fakeStore) AddPhotoStubs(_ context.Context, stubs []model.PhotoStub) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, st := range stubs {
		key := st.ExternalPlaceID + "|" + st.Ref
		if _, ok := f.photoRefs[key]; ok {
			continue
		}
		f.photoRefs[key] = struct{}{}
		n++
	}
	return n, nil
}

func (f *fakeStore) AddReviewStubs(_ context.Context, stubs []model.ReviewStub) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, st := range stubs {
		key := st.ExternalPlaceID + "|" + st.Ref
		if _, ok := f.reviewRefs[key]; ok {
			continue
		}
		f.reviewRefs[key] = struct{}{}
		n++
	}
	return n, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

func (f *fakeStore) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeStore) placeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.places)
}

func (f *fakeStore) photoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.photoRefs)
}

func (f *fakeStore) reviewCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reviewRefs)
}

var _ store.Store = (*fakeStore)(nil)

// fakeClient is a canned places.Client. Every search returns the same id
// set; Details synthesizes a detail unless an error is injected for the id.
type fakeClient struct {
	ids        []string
	photosPer  int
	reviewsPer int

	detailErrs     map[string]error
	searchFailures int           // first N searches return ErrRateLimited
	block          chan struct{} // when set, Details waits until closed

	searchCalls atomic.Int64
	detailCalls atomic.Int64
}

func (c *fakeClient) TextSearch(_ context.Context, _, _ string) (*places.TextSearchResponse, error) {
	if n := c.searchCalls.Add(1); int(n) <= c.searchFailures {
		return nil, eris.Wrap(places.ErrRateLimited, "fake: throttled")
	}
	resp := &places.TextSearchResponse{}
	for _, id := range c.ids {
		resp.Places = append(resp.Places, places.PlaceRef{ID: id})
	}
	return resp, nil
}

func (c *fakeClient) Details(ctx context.Context, placeID string) (*places.Detail, error) {
	c.detailCalls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "fake: cancelled")
		}
	}
	if err, ok := c.detailErrs[placeID]; ok {
		return nil, err
	}
	return makeDetail(placeID, c.photosPer, c.reviewsPer), nil
}

var _ places.Client = (*fakeClient)(nil)

func makeDetail(id string, photos, reviews int) *places.Detail {
	d := &places.Detail{
		ID:               id,
		DisplayName:      places.Text{Text: "Camping " + id},
		FormattedAddress: "Calle Mayor 1, " + id,
		Rating:           4.2,
		UserRatingCount:  reviews,
	}
	for i := range photos {
		d.Photos = append(d.Photos, places.Photo{
			Name:     fmt.Sprintf("places/%s/photos/ph%d", id, i),
			WidthPx:  800,
			HeightPx: 600,
		})
	}
	for i := range reviews {
		d.Reviews = append(d.Reviews, places.Review{
			Name:              fmt.Sprintf("places/%s/reviews/r%d", id, i),
			Rating:            4,
			Text:              places.Text{Text: "nice"},
			AuthorAttribution: places.Author{DisplayName: "Ana"},
			PublishTime:       "2026-02-01T09:00:00Z",
		})
	}
	raw, _ := json.Marshal(d)
	d.Raw = raw
	return d
}
