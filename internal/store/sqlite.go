package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/campatlas/catalog-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and one-shot CLI runs without a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'processing',
	started_at       DATETIME NOT NULL,
	completed_at     DATETIME,
	duration_seconds REAL NOT NULL DEFAULT 0,
	config           TEXT NOT NULL,
	metrics          TEXT,
	error_message    TEXT,
	error_details    TEXT
);

CREATE TABLE IF NOT EXISTS raw_places (
	id                TEXT PRIMARY KEY,
	external_id       TEXT NOT NULL UNIQUE,
	identity_hash     TEXT NOT NULL UNIQUE,
	payload           TEXT NOT NULL,
	fetched_at        DATETIME NOT NULL,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	has_photos        INTEGER NOT NULL DEFAULT 0,
	photo_count       INTEGER NOT NULL DEFAULT 0,
	has_reviews       INTEGER NOT NULL DEFAULT 0,
	review_count      INTEGER NOT NULL DEFAULT 0,
	rating            REAL NOT NULL DEFAULT 0
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
	payload           TEXT NOT NULL,
	author            TEXT,
	rating            REAL NOT NULL DEFAULT 0,
	posted_at         DATETIME,
	UNIQUE (external_place_id, ref)
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_status ON sync_runs(status);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_raw_places_processing ON raw_places(processing_status);
CREATE INDEX IF NOT EXISTS idx_place_photos_place ON place_photos(external_place_id);
CREATE INDEX IF NOT EXISTS idx_place_reviews_place ON place_reviews(external_place_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, cfg model.SyncConfig) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusProcessing,
		StartedAt: time.Now().UTC(),
		Config:    cfg,
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, status, started_at, config) VALUES (?, ?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt, string(cfgJSON),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.SyncRun) error {
	metricsJSON, err := json.Marshal(run.Metrics)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal metrics")
	}

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, completed_at = ?, duration_seconds = ?, metrics = ?,
		     error_message = ?, error_details = ?
		 WHERE id = ?`,
		string(run.Status), completedAt, run.DurationSeconds, string(metricsJSON),
		nullString(run.ErrorMessage), nullString(run.ErrorDetails), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", run.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrRunNotFound, "sqlite: finish run %s", run.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.SyncRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, started_at, completed_at, duration_seconds, config, metrics,
		        error_message, error_details
		 FROM sync_runs WHERE id = ?`, id)

	run, err := scanSQLiteRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrRunNotFound, "sqlite: get run %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.SyncRun, error) {
	query := `SELECT id, status, started_at, completed_at, duration_seconds, config, metrics,
	                 error_message, error_details
	          FROM sync_runs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.SyncRun
	for rows.Next() {
		run, err := scanSQLiteRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs")
}

func (s *SQLiteStore) FailStale(ctx context.Context, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET status = ?, completed_at = ?, error_message = ?
		 WHERE status = ?`,
		string(model.RunStatusFailed), time.Now().UTC(), message,
		string(model.RunStatusProcessing),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale runs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: fail stale runs")
}

func (s *SQLiteStore) UpsertPlace(ctx context.Context, p *model.RawPlace) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_places
		 (id, external_id, identity_hash, payload, fetched_at, processing_status,
		  has_photos, photo_count, has_reviews, review_count, rating)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (external_id) DO UPDATE SET
		   identity_hash = excluded.identity_hash,
		   payload = excluded.payload,
		   fetched_at = excluded.fetched_at,
		   processing_status = excluded.processing_status,
		   has_photos = excluded.has_photos,
		   photo_count = excluded.photo_count,
		   has_reviews = excluded.has_reviews,
		   review_count = excluded.review_count,
		   rating = excluded.rating`,
		p.ID, p.ExternalID, p.IdentityHash, string(p.Payload), p.FetchedAt,
		string(model.ProcessingPending), p.HasPhotos, p.PhotoCount,
		p.HasReviews, p.ReviewCount, p.Rating,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert place %s", p.ExternalID)
	}
	return nil
}

func (s *SQLiteStore) AddPhotoStubs(ctx context.Context, stubs []model.PhotoStub) (int64, error) {
	var added int64
	for _, st := range stubs {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO place_photos (id, external_place_id, ref, width_px, height_px, download_status)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (external_place_id, ref) DO NOTHING`,
			st.ID, st.ExternalPlaceID, st.Ref, st.WidthPx, st.HeightPx, "pending",
		)
		if err != nil {
			return added, eris.Wrapf(err, "sqlite: add photo stub for %s", st.ExternalPlaceID)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	return added, nil
}

func (s *SQLiteStore) AddReviewStubs(ctx context.Context, stubs []model.ReviewStub) (int64, error) {
	var added int64
	for _, st := range stubs {
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		var postedAt any
		if st.PostedAt != nil {
			postedAt = *st.PostedAt
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO place_reviews (id, external_place_id, ref, payload, author, rating, posted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (external_place_id, ref) DO NOTHING`,
			st.ID, st.ExternalPlaceID, st.Ref, string(st.Payload), st.Author, st.Rating, postedAt,
		)
		if err != nil {
			return added, eris.Wrapf(err, "sqlite: add review stub for %s", st.ExternalPlaceID)
		}
		n, _ := res.RowsAffected()
		added += n
	}
	return added, nil
}

// scanSQLiteRun decodes one sync_runs row via the given Scan func.
func scanSQLiteRun(scan func(...any) error) (*model.SyncRun, error) {
	var (
		run         model.SyncRun
		status      string
		completedAt sql.NullTime
		cfgJSON     string
		metricsJSON sql.NullString
		errMsg      sql.NullString
		errDetails  sql.NullString
	)
	err := scan(&run.ID, &status, &run.StartedAt, &completedAt, &run.DurationSeconds,
		&cfgJSON, &metricsJSON, &errMsg, &errDetails)
	if err != nil {
		return nil, err
	}
	run.Status = model.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return nil, eris.Wrap(err, "unmarshal config")
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &run.Metrics); err != nil {
			return nil, eris.Wrap(err, "unmarshal metrics")
		}
	}
	run.ErrorMessage = errMsg.String
	run.ErrorDetails = errDetails.String
	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
