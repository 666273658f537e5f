package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/campatlas/catalog-cli/internal/db"
	"github.com/campatlas/catalog-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'processing',
	started_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	config           JSONB NOT NULL,
	metrics          JSONB,
	error_message    TEXT,
	error_details    TEXT
);

CREATE TABLE IF NOT EXISTS raw_places (
	id                TEXT PRIMARY KEY,
	external_id       TEXT NOT NULL UNIQUE,
	identity_hash     TEXT NOT NULL UNIQUE,
	payload           JSONB NOT NULL,
	fetched_at        TIMESTAMPTZ NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	has_photos        BOOLEAN NOT NULL DEFAULT false,
	photo_count       INTEGER NOT NULL DEFAULT 0,
	has_reviews       BOOLEAN NOT NULL DEFAULT false,
	review_count      INTEGER NOT NULL DEFAULT 0,
	rating            DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS place_photos (
	id                TEXT PRIMARY KEY,
	external_place_id TEXT NOT NULL,
	ref               TEXT NOT NULL,
	width_px          INTEGER NOT NULL DEFAULT 0,
	height_px         INTEGER NOT NULL DEFAULT 0,
	download_status   TEXT NOT NULL DEFAULT 'pending',
	UNIQUE (external_place_id, ref)
);

CREATE TABLE IF NOT EXISTS place_reviews (
	id                TEXT PRIMARY KEY,
	external_place_id TEXT NOT NULL,
	ref               TEXT NOT NULL,
	payload           JSONB NOT NULL,
	author            TEXT,
	rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
	posted_at         TIMESTAMPTZ,
	UNIQUE (external_place_id, ref)
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_raw_places_processing ON raw_places(processing_status);
CREATE INDEX IF NOT EXISTS idx_place_photos_place ON place_photos(external_place_id);
CREATE INDEX IF NOT EXISTS idx_place_reviews_place ON place_reviews(external_place_id);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateRun inserts a new run in processing state.
func (s *PostgresStore) CreateRun(ctx context.Context, cfg model.SyncConfig) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusProcessing,
		StartedAt: time.Now().UTC(),
		Config:    cfg,
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, status, started_at, config) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), run.StartedAt, cfgJSON,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// FinishRun writes the terminal status, metrics and error fields of a run.
func (s *PostgresStore) FinishRun(ctx context.Context, run *model.SyncRun) error {
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal metrics")
	}

	var errMsg, errDetails *string
	if run.ErrorMessage != "" {
		errMsg = &run.ErrorMessage
	}
	if run.ErrorDetails != "" {
		errDetails = &run.ErrorDetails
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $1, completed_at = $2, duration_seconds = $3, metrics = $4,
		     error_message = $5, error_details = $6
		 WHERE id = $7`,
		string(run.Status), run.CompletedAt, run.DurationSeconds, metricsJSON,
		errMsg, errDetails, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotFound, "postgres: finish run %s", run.ID)
	}
	return nil
}

const runColumns = `id, status, started_at, completed_at, duration_seconds, config, metrics, error_message, error_details`

// GetRun fetches a run by id.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.SyncRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_runs WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrRunNotFound, "postgres: get run %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return run, nil
}

// ListRuns returns runs matching the filter, most recent first.
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT ` + runColumns + ` FROM sync_runs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs")
}

// FailStale marks all processing runs as failed. Called once at startup to
// reconcile rows orphaned by a process crash.
func (s *PostgresStore) FailStale(ctx context.Context, message string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $1, completed_at = now(), error_message = $2
		 WHERE status = $3`,
		string(model.RunStatusFailed), message, string(model.RunStatusProcessing),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale runs")
	}
	return tag.RowsAffected(), nil
}

// UpsertPlace inserts or refreshes a raw place record keyed by external id.
// Re-fetching the same place overwrites the payload and fetched_at without
// creating a duplicate row, and resets it for downstream reprocessing.
func (s *PostgresStore) UpsertPlace(ctx context.Context, p *model.RawPlace) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_places
		 (id, external_id, identity_hash, payload, fetched_at, processing_status,
		  has_photos, photo_count, has_reviews, review_count, rating)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (external_id) DO UPDATE SET
		   identity_hash = EXCLUDED.identity_hash,
		   payload = EXCLUDED.payload,
		   fetched_at = EXCLUDED.fetched_at,
		   processing_status = EXCLUDED.processing_status,
		   has_photos = EXCLUDED.has_photos,
		   photo_count = EXCLUDED.photo_count,
		   has_reviews = EXCLUDED.has_reviews,
		   review_count = EXCLUDED.review_count,
		   rating = EXCLUDED.rating`,
		p.ID, p.ExternalID, p.IdentityHash, []byte(p.Payload), p.FetchedAt,
		string(model.ProcessingPending), p.HasPhotos, p.PhotoCount,
		p.HasReviews, p.ReviewCount, p.Rating,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert place %s", p.ExternalID)
	}
	return nil
}

// AddPhotoStubs inserts photo stubs, skipping refs already cataloged.
func (s *PostgresStore) AddPhotoStubs(ctx context.Context, stubs []model.PhotoStub) (int64, error) {
	var added int64
	for _, st := range stubs {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO place_photos (id, external_place_id, ref, width_px, height_px, download_status)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (external_place_id, ref) DO NOTHING`,
			st.ID, st.ExternalPlaceID, st.Ref, st.WidthPx, st.HeightPx, "pending",
		)
		if err != nil {
			return added, eris.Wrapf(err, "postgres: add photo stub for %s", st.ExternalPlaceID)
		}
		added += tag.RowsAffected()
	}
	return added, nil
}

// AddReviewStubs inserts review stubs, skipping refs already cataloged.
func (s *PostgresStore) AddReviewStubs(ctx context.Context, stubs []model.ReviewStub) (int64, error) {
	var added int64
	for _, st := range stubs {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO place_reviews (id, external_place_id, ref, payload, author, rating, posted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (external_place_id, ref) DO NOTHING`,
			st.ID, st.ExternalPlaceID, st.Ref, []byte(st.Payload), st.Author, st.Rating, st.PostedAt,
		)
		if err != nil {
			return added, eris.Wrapf(err, "postgres: add review stub for %s", st.ExternalPlaceID)
		}
		added += tag.RowsAffected()
	}
	return added, nil
}

// scanRun decodes one sync_runs row from either QueryRow or Query results.
func scanRun(row pgx.Row) (*model.SyncRun, error) {
	var (
		run         model.SyncRun
		status      string
		completedAt *time.Time
		cfgJSON     []byte
		metricsJSON []byte
		errMsg      *string
		errDetails  *string
	)
	err := row.Scan(&run.ID, &status, &run.StartedAt, &completedAt, &run.DurationSeconds,
		&cfgJSON, &metricsJSON, &errMsg, &errDetails)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	run.CompletedAt = completedAt
	if cfgJSON != nil {
		if err := json.Unmarshal(cfgJSON, &run.Config); err != nil {
			return nil, eris.Wrap(err, "unmarshal config")
		}
	}
	if metricsJSON != nil {
		if err := json.Unmarshal(metricsJSON, &run.Metrics); err != nil {
			return nil, eris.Wrap(err, "unmarshal metrics")
		}
	}
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	if errDetails != nil {
		run.ErrorDetails = *errDetails
	}
	return &run, nil
}
