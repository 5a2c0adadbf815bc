package nomis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/richardfarnhill/leaflet-campaign/internal/pacer"
)

// DefaultBaseURL is the public NOMIS API root.
const DefaultBaseURL = "https://www.nomisweb.co.uk/api/v01"

// BatchSize is the number of geography codes sent per data.json call.
// Alpha OA codes work directly in the data endpoint, so no numeric ID
// resolution step is needed.
const BatchSize = 100

// householdsDataset is NM_2072_1 (census TS054 Tenure). With tenure
// category 0 ("Total: All households") and measure 20100 (count) it
// yields total household counts per output area.
const householdsDataset = "NM_2072_1"

// Client fetches area statistics from the NOMIS API.
type Client struct {
	baseURL string
	client  *http.Client
	pace    pacer.Pacer
}

// NewClient creates a NOMIS client against the given base URL.
func NewClient(baseURL string, pace pacer.Pacer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		pace:    pace,
	}
}

type observation struct {
	Geography struct {
		GeogCode string `json:"geogcode"`
	} `json:"geography"`
	ObsValue struct {
		Value *float64 `json:"value"`
	} `json:"obs_value"`
}

type dataResponse struct {
	Obs []observation `json:"obs"`
}

// FetchHouseholds returns total household counts for the given OA21
// codes, batching BatchSize codes per call. A failed batch is logged and
// counted as zero resolved; it never blocks later batches. The second
// return value is the sorted set of requested codes that produced no
// value — downstream consumers must treat those as unknown, not zero.
func (c *Client) FetchHouseholds(ctx context.Context, codes []string) (map[string]int, []string) {
	counts := make(map[string]int)

	for i := 0; i < len(codes); i += BatchSize {
		end := i + BatchSize
		if end > len(codes) {
			end = len(codes)
		}
		batch := codes[i:end]

		if i > 0 {
			if err := c.pace.Wait(ctx); err != nil {
				log.Printf("  batch %d-%d: %v", i+1, end, err)
				break
			}
		}

		batchCounts, err := c.fetchHouseholdBatch(ctx, batch)
		if err != nil {
			log.Printf("  batch %d-%d failed: %v", i+1, end, err)
			continue
		}
		for code, count := range batchCounts {
			counts[code] = count
		}
		log.Printf("  batch %d-%d: got %d/%d", i+1, end, len(batchCounts), len(batch))
	}

	var missed []string
	for _, code := range codes {
		if _, ok := counts[code]; !ok {
			missed = append(missed, code)
		}
	}
	sort.Strings(missed)

	return counts, missed
}

func (c *Client) fetchHouseholdBatch(ctx context.Context, codes []string) (map[string]int, error) {
	endpoint := fmt.Sprintf(
		"%s/dataset/%s.data.json?geography=%s&c2021_tenure_9=0&measures=20100&select=geography_code,obs_value",
		c.baseURL, householdsDataset, strings.Join(codes, ","))

	parsed, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, obs := range parsed.Obs {
		if obs.Geography.GeogCode == "" || obs.ObsValue.Value == nil {
			continue
		}
		counts[obs.Geography.GeogCode] = int(*obs.ObsValue.Value)
	}
	return counts, nil
}

// FetchOwnerOccupiedPct returns the owner-occupied percentage for one
// OA21 code (tenure category 1001 "Owned", measure 20301 percentage).
// The bool is false when the service has no figure or the call failed.
func (c *Client) FetchOwnerOccupiedPct(ctx context.Context, code string) (float64, bool) {
	if err := c.pace.Wait(ctx); err != nil {
		return 0, false
	}

	endpoint := fmt.Sprintf(
		"%s/dataset/%s.data.json?geography=%s&c2021_tenure_9=1001&measures=20301&select=geography_code,obs_value",
		c.baseURL, householdsDataset, code)

	parsed, err := c.get(ctx, endpoint)
	if err != nil {
		log.Printf("  NOMIS fetch failed for %s: %v", code, err)
		return 0, false
	}

	if len(parsed.Obs) == 0 || parsed.Obs[0].ObsValue.Value == nil {
		return 0, false
	}
	return *parsed.Obs[0].ObsValue.Value, true
}

func (c *Client) get(ctx context.Context, endpoint string) (*dataResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &parsed, nil
}
