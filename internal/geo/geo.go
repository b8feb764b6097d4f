// Package geo places referral addresses relative to the agency office.
package geo

import (
	"context"
	"math"
	"strings"
)

const earthRadiusMiles = 3958.8

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `koanf:"lat" json:"lat"`
	Lng float64 `koanf:"lng" json:"lng"`
}

// Table resolves distances from ZIP centroids. It never calls out, so lookups
// are deterministic and bounded.
type Table struct {
	origin    Point
	centroids map[string]Point
}

func NewTable(origin Point, centroids map[string]Point) *Table {
	c := make(map[string]Point, len(centroids))
	for zip, p := range centroids {
		c[normalizeZip(zip)] = p
	}
	return &Table{origin: origin, centroids: c}
}

// Distance returns the great-circle distance in miles from the office to the
// centroid of zipCode, falling back to a ZIP found at the end of address.
func (t *Table) Distance(_ context.Context, address, zipCode string) (float64, bool, error) {
	zip := normalizeZip(zipCode)
	if zip == "" {
		zip = trailingZip(address)
	}
	p, ok := t.centroids[zip]
	if !ok {
		return 0, false, nil
	}
	return Haversine(t.origin, p), true, nil
}

// Len reports how many ZIP centroids are loaded.
func (t *Table) Len() int {
	return len(t.centroids)
}

// Haversine returns the great-circle distance between a and b in miles.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

func normalizeZip(zip string) string {
	zip = strings.TrimSpace(zip)
	if len(zip) > 5 {
		zip = zip[:5]
	}
	return zip
}

func trailingZip(address string) string {
	fields := strings.Fields(address)
	if len(fields) == 0 {
		return ""
	}
	last := normalizeZip(fields[len(fields)-1])
	if len(last) != 5 {
		return ""
	}
	for _, r := range last {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return last
}
