package cover

import (
	"math"

	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geo"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

const metersPerDegree = 2 * math.Pi * geo.EarthRadiusM / 360

// cellWidthMeters returns the east-west extent in meters of a cell at the
// given code length and latitude.
func cellWidthMeters(length int, lat float64) float64 {
	w := geohash.CellWidth(length)
	if w == 0 {
		return 0
	}
	return geo.Haversine(geo.Point{Lon: 0, Lat: lat}, geo.Point{Lon: w, Lat: lat})
}

// SuitableLength returns the longest code length whose cell width at the
// given latitude is still at least granularityMeters. A granularity coarser
// than the widest cell yields 1; a non-positive granularity yields the
// finest length.
func SuitableLength(granularityMeters float64, at geo.Point) int {
	if granularityMeters <= 0 {
		return geohash.MaxLength
	}
	for length := 1; length <= geohash.MaxLength; length++ {
		if cellWidthMeters(length, at.Lat) < granularityMeters {
			if length == 1 {
				return 1
			}
			return length - 1
		}
	}
	return geohash.MaxLength
}
