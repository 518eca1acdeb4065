// Package geo provides the planar geometry primitives the cover engine is
// built on: bounding boxes, point-in-polygon and segment-intersection tests,
// and great-circle distance. Everything here is a pure function over value
// types.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusM is the spherical Earth radius used by Haversine. The sphere
// approximation is off by up to ~0.5% against the real ellipsoid.
const EarthRadiusM = 6371000.0

var ErrEmptyInput = errors.New("geo: empty point set")

// Point is a position in EPSG:4326 degrees.
type Point struct {
	Lon float64
	Lat float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%f,%f)", p.Lon, p.Lat)
}

// BBox is an axis-aligned box in degrees. South <= North always; a box with
// West > East encodes an antimeridian crossing, which callers must
// special-case themselves.
type BBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

func (b BBox) Width() float64  { return b.East - b.West }
func (b BBox) Height() float64 { return b.North - b.South }

func (b BBox) Center() Point {
	return Point{Lon: (b.West + b.East) / 2, Lat: (b.South + b.North) / 2}
}

// Corners returns the box corners in SW, NW, NE, SE order.
func (b BBox) Corners() [4]Point {
	return [4]Point{
		{Lon: b.West, Lat: b.South},
		{Lon: b.West, Lat: b.North},
		{Lon: b.East, Lat: b.North},
		{Lon: b.East, Lat: b.South},
	}
}

// Edges returns the four sides of the box as segment endpoint pairs.
func (b BBox) Edges() [4][2]Point {
	c := b.Corners()
	return [4][2]Point{
		{c[0], c[1]},
		{c[1], c[2]},
		{c[2], c[3]},
		{c[3], c[0]},
	}
}

func (b BBox) Contains(p Point) bool {
	return p.Lon >= b.West && p.Lon <= b.East && p.Lat >= b.South && p.Lat <= b.North
}

// BoundingBox computes the min/max sweep over all vertices.
func BoundingBox(points []Point) (BBox, error) {
	if len(points) == 0 {
		return BBox{}, ErrEmptyInput
	}
	bb := BBox{
		West:  points[0].Lon,
		South: points[0].Lat,
		East:  points[0].Lon,
		North: points[0].Lat,
	}
	for _, p := range points[1:] {
		bb.West = math.Min(bb.West, p.Lon)
		bb.East = math.Max(bb.East, p.Lon)
		bb.South = math.Min(bb.South, p.Lat)
		bb.North = math.Max(bb.North, p.Lat)
	}
	return bb, nil
}

// PointInPolygon runs an even-odd ray cast against the ring, which is treated
// as closed (last vertex connects back to the first). Edges parallel to the
// casting ray are skipped entirely, so points exactly on a boundary are not
// guaranteed to test as inside. That is a documented approximation of this
// test, not a defect.
func PointInPolygon(p Point, ring []Point) (bool, error) {
	if len(ring) < 3 {
		return false, fmt.Errorf("geo: polygon needs at least 3 vertices, got %d", len(ring))
	}
	inside := false
	j := len(ring) - 1
	for i := range ring {
		yi, yj := ring[i].Lat, ring[j].Lat
		if yi == yj {
			// edge parallel to the casting ray
			j = i
			continue
		}
		if (yi > p.Lat) != (yj > p.Lat) {
			x := ring[i].Lon + (p.Lat-yi)/(yj-yi)*(ring[j].Lon-ring[i].Lon)
			if x > p.Lon {
				inside = !inside
			}
		}
		j = i
	}
	return inside, nil
}

// SegmentsIntersect reports whether the finite segments a1-a2 and b1-b2
// cross. It solves the line-line intersection in slope/intercept form,
// handling vertical segments separately; colinear segments intersect when
// their parameter ranges overlap.
func SegmentsIntersect(a1, a2, b1, b2 Point) bool {
	aVert := a1.Lon == a2.Lon
	bVert := b1.Lon == b2.Lon

	switch {
	case aVert && bVert:
		if a1.Lon != b1.Lon {
			return false
		}
		return between(b1.Lat, a1.Lat, a2.Lat) || between(b2.Lat, a1.Lat, a2.Lat) ||
			between(a1.Lat, b1.Lat, b2.Lat) || between(a2.Lat, b1.Lat, b2.Lat)
	case aVert:
		mb := slope(b1, b2)
		yi := b1.Lat + mb*(a1.Lon-b1.Lon)
		return between(a1.Lon, b1.Lon, b2.Lon) && between(yi, a1.Lat, a2.Lat)
	case bVert:
		ma := slope(a1, a2)
		yi := a1.Lat + ma*(b1.Lon-a1.Lon)
		return between(b1.Lon, a1.Lon, a2.Lon) && between(yi, b1.Lat, b2.Lat)
	}

	ma := slope(a1, a2)
	mb := slope(b1, b2)
	ca := a1.Lat - ma*a1.Lon
	cb := b1.Lat - mb*b1.Lon
	if ma == mb {
		if ca != cb {
			return false
		}
		return between(b1.Lon, a1.Lon, a2.Lon) || between(b2.Lon, a1.Lon, a2.Lon) ||
			between(a1.Lon, b1.Lon, b2.Lon) || between(a2.Lon, b1.Lon, b2.Lon)
	}

	xi := (cb - ca) / (ma - mb)
	return between(xi, a1.Lon, a2.Lon) && between(xi, b1.Lon, b2.Lon)
}

func slope(p, q Point) float64 {
	return (q.Lat - p.Lat) / (q.Lon - p.Lon)
}

// between reports whether v lies within the closed range spanned by p and q,
// in either order.
func between(v, p, q float64) bool {
	return (p-v)*(v-q) >= 0
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(s))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
