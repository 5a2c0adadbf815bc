package geo

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/umahmood/haversine"
)

// metersPerDegree is the flat-earth approximation used to size radius
// queries: 1 degree of latitude is roughly 111km. Accuracy degrades at
// high latitudes, which is acceptable for a single mid-latitude country.
const metersPerDegree = 111000.0

// Point is a named point feature from the street dataset.
type Point struct {
	Name string
	Lat  float64
	Lng  float64
}

// Index answers radius queries over a set of named points.
type Index struct {
	tree *rtreego.Rtree
	size int
}

type pointItem struct {
	rect rtreego.Rect
	name string
	lat  float64
	lng  float64
}

func (p *pointItem) Bounds() rtreego.Rect {
	return p.rect
}

// R-tree node fan-out. Nodes split at 50 entries, keeping lookups
// logarithmic in the number of indexed points.
const (
	treeMinChildren = 25
	treeMaxChildren = 50
)

// BuildIndex builds an R-tree over the given points. Points with
// non-finite coordinates are dropped.
func BuildIndex(points []Point) *Index {
	tree := rtreego.NewTree(2, treeMinChildren, treeMaxChildren)
	size := 0

	for _, p := range points {
		if !finite(p.Lat) || !finite(p.Lng) {
			continue
		}
		rect, err := rtreego.NewRect(rtreego.Point{p.Lng, p.Lat}, []float64{0.0001, 0.0001})
		if err != nil {
			continue
		}
		tree.Insert(&pointItem{rect: rect, name: p.Name, lat: p.Lat, lng: p.Lng})
		size++
	}

	return &Index{tree: tree, size: size}
}

// Size returns the number of indexed points.
func (ix *Index) Size() int {
	return ix.size
}

// StreetsWithin returns the names of all indexed points within
// radiusMeters of (lat, lng). The rectangle search over-selects, so
// candidates are re-checked with an exact haversine distance. A malformed
// query degrades to an empty result rather than failing the batch.
func (ix *Index) StreetsWithin(lat, lng, radiusMeters float64) []string {
	if !finite(lat) || !finite(lng) || radiusMeters <= 0 {
		return nil
	}

	degrees := radiusMeters / metersPerDegree
	rect, err := rtreego.NewRect(
		rtreego.Point{lng - degrees, lat - degrees},
		[]float64{2 * degrees, 2 * degrees},
	)
	if err != nil {
		return nil
	}

	var names []string
	for _, item := range ix.tree.SearchIntersect(rect) {
		p := item.(*pointItem)

		from := haversine.Coord{Lat: lat, Lon: lng}
		to := haversine.Coord{Lat: p.lat, Lon: p.lng}
		_, km := haversine.Distance(from, to)
		if km*1000 > radiusMeters {
			continue
		}

		// Drop blanks and addresses misclassified as streets ("221").
		if p.name == "" || isNumeric(p.name) {
			continue
		}
		names = append(names, p.name)
	}

	return names
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
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
