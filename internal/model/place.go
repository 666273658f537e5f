package model

import (
	"encoding/json"
	"time"
)

// ProcessingStatus tracks downstream candidate-generation consumption of a
// raw place record. This core only ever writes "pending".
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingProcessed ProcessingStatus = "processed"
)

// RawPlace is a place record as received from the external catalog, upserted
// by ExternalID. IdentityHash fingerprints (name, address) so the record can
// be deduplicated even if the upstream catalog reassigns ids.
type RawPlace struct {
	ID               string           `json:"id"`
	ExternalID       string           `json:"external_id"`
	IdentityHash     string           `json:"identity_hash"`
	Payload          json.RawMessage  `json:"payload"`
	FetchedAt        time.Time        `json:"fetched_at"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	HasPhotos        bool             `json:"has_photos"`
	PhotoCount       int              `json:"photo_count"`
	HasReviews       bool             `json:"has_reviews"`
	ReviewCount      int              `json:"review_count"`
	Rating           float64          `json:"rating"`
}

// PhotoStub records a photo reference discovered during cataloging. The byte
// transfer itself belongs to a separate subsystem; DownloadStatus is a
// placeholder it consumes.
type PhotoStub struct {
	ID              string `json:"id"`
	ExternalPlaceID string `json:"external_place_id"`
	Ref             string `json:"ref"`
	WidthPx         int    `json:"width_px"`
	HeightPx        int    `json:"height_px"`
	DownloadStatus  string `json:"download_status"`
}

// ReviewStub records a verbatim review payload plus extracted fields.
type ReviewStub struct {
	ID              string          `json:"id"`
	ExternalPlaceID string          `json:"external_place_id"`
	Ref             string          `json:"ref"`
	Payload         json.RawMessage `json:"payload"`
	Author          string          `json:"author"`
	Rating          float64         `json:"rating"`
	PostedAt        *time.Time      `json:"posted_at,omitempty"`
}
