package streets

import (
	"context"
	"log"
	"sort"

	"github.com/richardfarnhill/leaflet-campaign/internal/geo"
	"github.com/richardfarnhill/leaflet-campaign/internal/pacer"
)

// LocalRadiusMeters is the proximity radius used when resolving street
// names against the local point index.
const LocalRadiusMeters = 500.0

// Point is one postcode centroid to resolve streets for. Coordinates are
// nullable; a point missing either is skipped with a warning.
type Point struct {
	Postcode string
	Lat      *float64
	Lng      *float64
}

// Route is a target area with its postcode centroids. Streets is filled
// in by Enrich.
type Route struct {
	ID      string
	Name    string
	Points  []Point
	Streets []string
}

// NameSource is the single capability both resolution strategies share:
// given coordinates, return nearby street names. The strategy is chosen
// once at construction, never per call.
type NameSource interface {
	StreetsNear(ctx context.Context, lat, lng float64) []string
}

// Resolver resolves deduplicated, sorted street names for sets of points.
type Resolver struct {
	source NameSource
}

// NewResolver picks the resolution strategy: local when a spatial index
// is available, otherwise the remote reverse-geocode fallback.
func NewResolver(index *geo.Index, pace pacer.Pacer) *Resolver {
	if index == nil {
		log.Printf("No street index available, using remote reverse geocoding")
		return NewRemoteResolver(DefaultNominatimURL, pace)
	}
	return NewLocalResolver(index)
}

// NewLocalResolver resolves against a pre-built spatial point index.
func NewLocalResolver(index *geo.Index) *Resolver {
	return &Resolver{source: &localSource{index: index, radius: LocalRadiusMeters}}
}

// NewRemoteResolver resolves via a reverse-geocode service.
func NewRemoteResolver(baseURL string, pace pacer.Pacer) *Resolver {
	return &Resolver{source: newRemoteSource(baseURL, pace)}
}

// Resolve returns the lexicographically sorted set of street names near
// the given points. Points with missing coordinates are skipped with a
// warning; blank and purely numeric names never appear in the output.
func (r *Resolver) Resolve(ctx context.Context, points []Point) []string {
	seen := make(map[string]struct{})

	for _, p := range points {
		if p.Lat == nil || p.Lng == nil {
			log.Printf("  %s: missing lat/lng, skipping", p.Postcode)
			continue
		}

		for _, name := range r.source.StreetsNear(ctx, *p.Lat, *p.Lng) {
			if name == "" || isNumeric(name) {
				continue
			}
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enrich resolves streets for every route independently and attaches the
// result. A route whose points all fail resolution gets an empty list;
// no route aborts the batch.
func (r *Resolver) Enrich(ctx context.Context, routes []Route) []Route {
	enriched := make([]Route, 0, len(routes))

	for _, route := range routes {
		route.Streets = r.Resolve(ctx, route.Points)
		enriched = append(enriched, route)
		log.Printf("  %s: %d streets, %d postcodes", route.Name, len(route.Streets), len(route.Points))
	}

	return enriched
}

type localSource struct {
	index  *geo.Index
	radius float64
}

func (s *localSource) StreetsNear(ctx context.Context, lat, lng float64) []string {
	return s.index.StreetsWithin(lat, lng, s.radius)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
