package postcodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/richardfarnhill/leaflet-campaign/internal/pacer"
)

// PageSize is the fixed page size used against the postcode search
// service. A short page (fewer than PageSize results) ends pagination.
const PageSize = 100

// DefaultBaseURL is the public postcode search endpoint.
const DefaultBaseURL = "https://api.postcodes.io"

// Record is one postcode returned by the search service. Coordinates and
// the output-area code are nullable: the source omits them for some
// postcodes and enrichment must short-circuit rather than crash.
type Record struct {
	Postcode string
	Lat      *float64
	Lng      *float64
	OA21Code *string
}

type cachedSector struct {
	records   []Record
	pageCount int
}

// Fetcher retrieves every postcode in a sector, memoizing per sector so a
// repeated request inside one run issues no network calls. The cache is
// owned by the instance; construct a fresh Fetcher per run.
type Fetcher struct {
	baseURL string
	client  *http.Client
	pace    pacer.Pacer
	cache   map[string]cachedSector
}

// NewFetcher creates a sector fetcher against the given base URL.
func NewFetcher(baseURL string, pace pacer.Pacer) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Fetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		pace:    pace,
		cache:   make(map[string]cachedSector),
	}
}

type searchResult struct {
	Postcode  string   `json:"postcode"`
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Codes     struct {
		OutputArea2021 *string `json:"output_area_2021"`
	} `json:"codes"`
}

type searchResponse struct {
	Result []searchResult `json:"result"`
}

// Fetch returns all postcode records in a sector plus the number of pages
// read. A failure on any page fails the whole sector; the caller decides
// whether to continue with other sectors.
func (f *Fetcher) Fetch(ctx context.Context, sector string) ([]Record, int, error) {
	if hit, ok := f.cache[sector]; ok {
		return hit.records, hit.pageCount, nil
	}

	var records []Record
	pageCount := 0

	for page := 1; ; page++ {
		if page > 1 {
			if err := f.pace.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		results, err := f.fetchPage(ctx, sector, page)
		if err != nil {
			return nil, 0, fmt.Errorf("sector %s page %d: %w", sector, page, err)
		}

		pageCount++
		for _, r := range results {
			records = append(records, Record{
				Postcode: r.Postcode,
				Lat:      r.Latitude,
				Lng:      r.Longitude,
				OA21Code: r.Codes.OutputArea2021,
			})
		}

		// A partial page, including an empty one, is the end of results.
		if len(results) < PageSize {
			break
		}
	}

	f.cache[sector] = cachedSector{records: records, pageCount: pageCount}
	return records, pageCount, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, sector string, page int) ([]searchResult, error) {
	endpoint := fmt.Sprintf("%s/postcodes?q=%s&page=%d&limit=%d",
		f.baseURL, url.QueryEscape(sector), page, PageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	return parsed.Result, nil
}
