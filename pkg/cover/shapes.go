package cover

import (
	"fmt"
	"math"

	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geo"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

// Line covers a path by turning each segment into a thin quadrilateral of
// the given width and delegating to the polygon engine, unioning the
// per-segment results. The cover length is derived from the width via
// SuitableLength.
func Line(widthMeters float64, points []geo.Point) (Set, error) {
	if widthMeters <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrBadWidth, widthMeters)
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrBadPath, len(points))
	}
	if err := validateVertices(points); err != nil {
		return nil, err
	}

	length := SuitableLength(widthMeters, points[0])
	if length > MaxPolygonLength {
		length = MaxPolygonLength
	}

	out := Set{}
	for i := 0; i+1 < len(points); i++ {
		quad := segmentQuad(points[i], points[i+1], widthMeters)
		if quad == nil {
			continue
		}
		s, err := Polygon(length, quad)
		if err != nil {
			return nil, err
		}
		out.Merge(s)
	}
	if len(out) == 0 {
		// all segments degenerate; cover the single position
		code, err := geohash.Encode(points[0].Lat, points[0].Lon, length)
		if err != nil {
			return nil, err
		}
		out.Add(code)
	}
	return out, nil
}

// segmentQuad builds the quadrilateral around p-q offset by half the width
// on each side, perpendicular to the segment in degree space. Returns nil
// for a zero-length segment.
func segmentQuad(p, q geo.Point, widthMeters float64) []geo.Point {
	dx := q.Lon - p.Lon
	dy := q.Lat - p.Lat
	norm := math.Hypot(dx, dy)
	if norm == 0 {
		return nil
	}

	midLat := (p.Lat + q.Lat) / 2
	halfLat := widthMeters / 2 / metersPerDegree
	halfLon := halfLat / math.Cos(midLat*math.Pi/180)

	ox := -dy / norm * halfLon
	oy := dx / norm * halfLat
	return []geo.Point{
		{Lon: p.Lon + ox, Lat: p.Lat + oy},
		{Lon: q.Lon + ox, Lat: q.Lat + oy},
		{Lon: q.Lon - ox, Lat: q.Lat - oy},
		{Lon: p.Lon - ox, Lat: p.Lat - oy},
	}
}

// Circle covers a circle by approximating it as a regular polygon and
// delegating to the polygon engine. The segment count follows the target
// resolution: enough vertices that each chord spans roughly one cell, within
// fixed bounds.
func Circle(length int, center geo.Point, radiusMeters float64) (Set, error) {
	if length < 1 || length > geohash.MaxLength {
		return nil, fmt.Errorf("%w: %d not in [1,%d]", ErrBadLength, length, geohash.MaxLength)
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrBadRadius, radiusMeters)
	}
	if err := validateVertices([]geo.Point{center}); err != nil {
		return nil, err
	}

	maxLength := length
	if maxLength > MaxPolygonLength {
		maxLength = MaxPolygonLength
	}

	segments := circleSegments(radiusMeters, maxLength, center.Lat)
	latStep := radiusMeters / metersPerDegree
	lonStep := latStep / math.Cos(center.Lat*math.Pi/180)

	ring := make([]geo.Point, 0, segments)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		ring = append(ring, geo.Point{
			Lon: center.Lon + lonStep*math.Cos(theta),
			Lat: center.Lat + latStep*math.Sin(theta),
		})
	}
	return Polygon(maxLength, ring)
}

func circleSegments(radiusMeters float64, length int, lat float64) int {
	cellM := cellWidthMeters(length, lat)
	if cellM <= 0 {
		return 16
	}
	n := int(math.Ceil(2 * math.Pi * radiusMeters / cellM))
	if n < 16 {
		return 16
	}
	if n > 180 {
		return 180
	}
	return n
}
