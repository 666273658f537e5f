// Package places is a typed client for the external geocoded-place catalog API.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// ErrRateLimited indicates the catalog API returned a throttling response.
// Callers apply a cooldown and skip the item for this run.
var ErrRateLimited = eris.New("places: rate limited")

// Client performs catalog API operations.
type Client interface {
	TextSearch(ctx context.Context, query, languageCode string) (*TextSearchResponse, error)
	Details(ctx context.Context, placeID string) (*Detail, error)
}

// TextSearchResponse is the response from a catalog text search.
type TextSearchResponse struct {
	Places []PlaceRef `json:"places"`
}

// PlaceRef identifies a place returned by search.
type PlaceRef struct {
	ID string `json:"id"`
}

// Detail is the full place record returned by a detail lookup. Raw carries
// the verbatim response body for opaque persistence.
type Detail struct {
	ID               string   `json:"id"`
	DisplayName      Text     `json:"displayName"`
	FormattedAddress string   `json:"formattedAddress"`
	Rating           float64  `json:"rating"`
	UserRatingCount  int      `json:"userRatingCount"`
	Photos           []Photo  `json:"photos"`
	Reviews          []Review `json:"reviews"`

	Raw json.RawMessage `json:"-"`
}

// Text holds a localized text value.
type Text struct {
	Text string `json:"text"`
}

// Photo is a photo reference with dimensions; bytes are fetched elsewhere.
type Photo struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx"`
	HeightPx int    `json:"heightPx"`
}

// Review is a user review attached to a place.
type Review struct {
	Name              string  `json:"name"`
	Rating            float64 `json:"rating"`
	Text              Text    `json:"text"`
	AuthorAttribution Author  `json:"authorAttribution"`
	PublishTime       string  `json:"publishTime"`
}

// Author identifies a review author.
type Author struct {
	DisplayName string `json:"displayName"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a catalog API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery    string `json:"textQuery"`
	LanguageCode string `json:"languageCode,omitempty"`
}

func (c *httpClient) TextSearch(ctx context.Context, query, languageCode string) (*TextSearchResponse, error) {
	body, err := json.Marshal(textSearchRequest{TextQuery: query, LanguageCode: languageCode})
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", "places.id")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal search response")
	}

	return &result, nil
}

func (c *httpClient) Details(ctx context.Context, placeID string) (*Detail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+placeID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", "id,displayName,formattedAddress,rating,userRatingCount,photos,reviews")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var detail Detail
	if err := json.Unmarshal(respBody, &detail); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal detail response")
	}
	detail.Raw = respBody

	return &detail, nil
}

func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, eris.Wrapf(ErrRateLimited, "places: %s", req.URL.Path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("places: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}
