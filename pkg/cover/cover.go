// Package cover computes geohash cover sets for polygons, lines and
// circles. A cover set is the set of geohash cells whose union of bounding
// boxes covers the input shape, suitable for use as inverted-index keys.
//
// Cost grows with polygon edge count times candidate cells per refinement
// pass, and each pass can grow the candidate set by up to 32x. Covering a
// large shape at a fine max length can therefore produce very large result
// sets; callers needing bounded latency must bound shape complexity and max
// length themselves.
package cover

import (
	"errors"
	"fmt"
	"math"

	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geo"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

// MaxPolygonLength is the finest max length accepted by Polygon. One level
// is held in reserve so a refinement pass past the requested maximum stays
// within the codec's 12-character limit.
const MaxPolygonLength = 11

// poleLatLimit rejects geometry too close to a pole. The refinement loop is
// not correctness-guaranteed above this latitude; the threshold is an
// empirically tuned cutoff, kept as-is rather than re-derived.
const poleLatLimit = 89.5

var (
	ErrBadLength = errors.New("cover: max length out of range")
	ErrBadRing   = errors.New("cover: ring needs at least 3 vertices")
	ErrBadWidth  = errors.New("cover: width must be positive")
	ErrBadRadius = errors.New("cover: radius must be positive")
	ErrBadPath   = errors.New("cover: path needs at least 2 points")
	ErrNearPole  = errors.New("cover: geometry too close to a pole")
)

// Set is an unordered, de-duplicated collection of geohash codes. Iteration
// order is unspecified.
type Set map[string]struct{}

func (s Set) Add(code string) { s[code] = struct{}{} }

func (s Set) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s Set) Merge(other Set) {
	for code := range other {
		s[code] = struct{}{}
	}
}

// Codes returns the codes as a slice in unspecified order.
func (s Set) Codes() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, code)
	}
	return out
}

// Polygon covers the outer ring with geohash cells no finer than maxLength,
// except that refinement may run past maxLength (up to the codec limit) when
// no cell has yet been classified fully inside, so a thin polygon never
// resolves to an empty set.
func Polygon(maxLength int, ring []geo.Point) (Set, error) {
	inside, boundary, err := PolygonSets(maxLength, ring)
	if err != nil {
		return nil, err
	}
	inside.Merge(boundary)
	return inside, nil
}

// PolygonSets is Polygon with the classification exposed: inside holds cells
// whose four corners all test inside the ring, boundary holds the partially
// overlapping cells left at the final refinement length.
func PolygonSets(maxLength int, ring []geo.Point) (inside, boundary Set, err error) {
	if maxLength < 1 || maxLength > MaxPolygonLength {
		return nil, nil, fmt.Errorf("%w: %d not in [1,%d]", ErrBadLength, maxLength, MaxPolygonLength)
	}
	if err := validateRing(ring); err != nil {
		return nil, nil, err
	}

	bb, err := geo.BoundingBox(ring)
	if err != nil {
		return nil, nil, err
	}

	length := startLength(bb)
	pending := sweep(bb, length)
	inside = Set{}
	boundary = Set{}

	// Worklist refinement instead of recursion: cells partially overlapping
	// the ring are replaced by their 32 children on the next pass.
	for len(pending) > 0 {
		next := pending[:0]
		for _, cell := range pending {
			cellBB, derr := geohash.DecodeBBox(cell)
			if derr != nil {
				return nil, nil, derr
			}
			n := 0
			for _, corner := range cellBB.Corners() {
				ok, perr := geo.PointInPolygon(corner, ring)
				if perr != nil {
					return nil, nil, perr
				}
				if ok {
					n++
				}
			}
			switch {
			case n == 4:
				inside.Add(cell)
			case n > 0:
				next = append(next, cell)
			default:
				if cellTouchesRing(cellBB, ring) {
					next = append(next, cell)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		if length >= geohash.MaxLength || (length >= maxLength && len(inside) > 0) {
			for _, cell := range next {
				boundary.Add(cell)
			}
			break
		}
		children := make([]string, 0, len(next)*len(geohash.Alphabet))
		for _, cell := range next {
			children = append(children, geohash.SubHashes(cell)...)
		}
		pending = children
		length++
	}
	return inside, boundary, nil
}

func validateRing(ring []geo.Point) error {
	if len(ring) < 3 {
		return fmt.Errorf("%w: got %d", ErrBadRing, len(ring))
	}
	return validateVertices(ring)
}

func validateVertices(points []geo.Point) error {
	for _, p := range points {
		if err := geohash.ValidateCoordinate(p.Lat, p.Lon); err != nil {
			return err
		}
		if math.Abs(p.Lat) > poleLatLimit {
			return fmt.Errorf("%w: latitude %v beyond %v", ErrNearPole, p.Lat, poleLatLimit)
		}
	}
	return nil
}

// startLength picks the initial grid resolution so the bbox diagonal is
// resolved by a handful of cells.
func startLength(bb geo.BBox) int {
	diag := geo.Haversine(
		geo.Point{Lon: bb.West, Lat: bb.South},
		geo.Point{Lon: bb.East, Lat: bb.North},
	)
	length := SuitableLength(diag, bb.Center())
	if length > MaxPolygonLength {
		length = MaxPolygonLength
	}
	return length
}

// sweep enumerates the full grid of same-length cells tiling the bbox,
// south to north and west to east, by neighbor stepping. The grid is the
// candidate set; it has not been filtered by the actual shape yet.
func sweep(bb geo.BBox, length int) []string {
	row, err := geohash.Encode(bb.South, bb.West, length)
	if err != nil {
		return nil
	}
	var cells []string
	for {
		rowBB, _ := geohash.DecodeBBox(row)
		cell := row
		for {
			cells = append(cells, cell)
			cellBB, _ := geohash.DecodeBBox(cell)
			if cellBB.East >= bb.East || cellBB.East >= 180 {
				break
			}
			cell, _ = geohash.East(cell)
		}
		if rowBB.North >= bb.North || rowBB.North >= 90 {
			break
		}
		row, _ = geohash.North(row)
	}
	return cells
}

// cellTouchesRing decides whether a cell with no corner inside the ring
// still overlaps it: either a cell edge crosses a ring edge, or a ring
// vertex falls inside the cell (the ring fits entirely within the cell).
func cellTouchesRing(bb geo.BBox, ring []geo.Point) bool {
	edges := bb.Edges()
	for i := range ring {
		j := (i + 1) % len(ring)
		for _, e := range edges {
			if geo.SegmentsIntersect(e[0], e[1], ring[i], ring[j]) {
				return true
			}
		}
	}
	for _, p := range ring {
		if bb.Contains(p) {
			return true
		}
	}
	return false
}
