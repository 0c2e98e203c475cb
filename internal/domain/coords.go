package domain

import "math"

// Quantize canonicalizes a coordinate onto the shared 0.01-degree grid:
// two decimal places, ties rounded away from zero. Negative zero collapses
// to zero so a cell on the equator or prime meridian has a single key and
// a single printed form.
func Quantize(deg float64) float64 {
	q := math.Round(deg*100) / 100
	if q == 0 {
		return 0
	}
	return q
}

// SignedLongitude converts a longitude from the 0-360 model convention to
// canonical signed degrees [-180, 180). Values already in signed form pass
// through unchanged.
func SignedLongitude(lon float64) float64 {
	if lon >= 180 {
		lon -= 360
	}
	return lon
}

// UnsignedLongitude is the inverse of SignedLongitude, mapping signed
// degrees back onto [0, 360).
func UnsignedLongitude(lon float64) float64 {
	if lon < 0 {
		lon += 360
	}
	return lon
}

// GridKey identifies one cell of the quantized grid. Keys built through
// KeyFor are safe map keys: quantization is idempotent, so re-deriving a
// key from a cell's own coordinates yields identical bits.
type GridKey struct {
	Lat float64
	Lon float64
}

// KeyFor quantizes a coordinate pair into its grid cell key. The longitude
// must already be in signed form.
func KeyFor(lat, lon float64) GridKey {
	return GridKey{Lat: Quantize(lat), Lon: Quantize(lon)}
}

// BoundingBox is an inclusive latitude/longitude window in signed degrees.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// ContiguousUS bounds the lower-48 window used for us_ tables.
var ContiguousUS = BoundingBox{MinLat: 24.25, MaxLat: 49.25, MinLon: -125, MaxLon: -67}

// Contains reports whether the quantized coordinate falls inside the box.
// Quantizing first keeps a cell on the same side of the boundary no matter
// which dataset it came from.
func (b BoundingBox) Contains(lat, lon float64) bool {
	lat = Quantize(lat)
	lon = Quantize(lon)
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}
