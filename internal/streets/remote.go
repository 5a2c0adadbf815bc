package streets

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/richardfarnhill/leaflet-campaign/internal/pacer"
)

// DefaultNominatimURL is the public OSM reverse-geocode endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

const userAgent = "LeafletCampaignTracker/1.0"

type nominatimAddress struct {
	Road string `json:"road"`
}

type nominatimResponse struct {
	Address nominatimAddress `json:"address"`
}

// remoteSource reverse-geocodes coordinates one at a time. Results are
// cached per instance, keyed by coordinates rounded to 4 decimal places
// (~11m), which collapses near-duplicate postcode centroids. A failed
// lookup caches an empty result: within one run, failure is not retried.
type remoteSource struct {
	baseURL string
	client  *http.Client
	pace    pacer.Pacer
	cache   map[string][]string
}

func newRemoteSource(baseURL string, pace pacer.Pacer) *remoteSource {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	return &remoteSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		pace:    pace,
		cache:   make(map[string][]string),
	}
}

func (s *remoteSource) StreetsNear(ctx context.Context, lat, lng float64) []string {
	key := fmt.Sprintf("%.4f,%.4f", lat, lng)
	if hit, ok := s.cache[key]; ok {
		return hit
	}

	streets := []string{}

	road, err := s.reverseGeocode(ctx, lat, lng)
	if err != nil {
		log.Printf("  reverse geocode (%s) failed: %v", key, err)
	} else if road != "" {
		streets = append(streets, road)
	}

	s.cache[key] = streets
	return streets
}

// reverseGeocode returns the road name at a coordinate, or "" when the
// service has no street there (which is not an error).
func (s *remoteSource) reverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if err := s.pace.Wait(ctx); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/reverse?lat=%f&lon=%f&format=json", s.baseURL, lat, lng)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var parsed nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return parsed.Address.Road, nil
}
