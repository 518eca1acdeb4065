// Package geohashmapper maps geometry onto fixed-length geohash cells
// using the cover engine, memoizing recent results.
package geohashmapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/observability"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/cover"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geo"
)

type Mapper struct {
	memo *lru.Cache[uint64, model.Cells]
}

func New(memoSize int) *Mapper {
	if memoSize <= 0 {
		memoSize = 1024
	}
	c, _ := lru.New[uint64, model.Cells](memoSize)
	return &Mapper{memo: c}
}

func validateLength(length int) error {
	if length < 1 || length > cover.MaxPolygonLength {
		return fmt.Errorf("invalid geohash length %d (must be 1..%d)", length, cover.MaxPolygonLength)
	}
	return nil
}

func (m *Mapper) CellsForBBox(bb model.BBox, length int) (model.Cells, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	key := memoKey("bbox", bb.String(), length)
	if cells, ok := m.memo.Get(key); ok {
		return cells, nil
	}

	ring := []geo.Point{
		{Lon: bb.X1, Lat: bb.Y1},
		{Lon: bb.X2, Lat: bb.Y1},
		{Lon: bb.X2, Lat: bb.Y2},
		{Lon: bb.X1, Lat: bb.Y2},
	}
	cells, err := m.coverRing("bbox", ring, length)
	if err != nil {
		return nil, err
	}
	m.memo.Add(key, cells)
	return cells, nil
}

func (m *Mapper) CellsForPolygon(geom model.Geometry, length int) (model.Cells, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	key := memoKey("polygon", geom.GeoJSON, length)
	if cells, ok := m.memo.Get(key); ok {
		return cells, nil
	}

	rings, err := outerRings(geom.GeoJSON)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	set := cover.Set{}
	for _, ring := range rings {
		s, err := cover.Polygon(length, ring)
		if err != nil {
			return nil, fmt.Errorf("polygon cover: %w", err)
		}
		set.Merge(s)
	}
	cells := normalize(set, length)
	observability.ObserveCover("polygon", time.Since(start).Seconds(), len(cells))

	m.memo.Add(key, cells)
	return cells, nil
}

func (m *Mapper) CellsForLine(line model.Line, length int) (model.Cells, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	key := memoKey("line", fmt.Sprintf("%s|%v", line.GeoJSON, line.WidthM), length)
	if cells, ok := m.memo.Get(key); ok {
		return cells, nil
	}

	pts, err := lineStringPoints(line.GeoJSON)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	set, err := cover.Line(line.WidthM, pts)
	if err != nil {
		return nil, fmt.Errorf("line cover: %w", err)
	}
	cells := normalize(set, length)
	observability.ObserveCover("line", time.Since(start).Seconds(), len(cells))

	m.memo.Add(key, cells)
	return cells, nil
}

func (m *Mapper) CellsForCircle(c model.Circle, length int) (model.Cells, error) {
	if err := validateLength(length); err != nil {
		return nil, err
	}
	key := memoKey("circle", fmt.Sprintf("%v|%v|%v", c.Lon, c.Lat, c.RadiusM), length)
	if cells, ok := m.memo.Get(key); ok {
		return cells, nil
	}

	start := time.Now()
	set, err := cover.Circle(length, geo.Point{Lon: c.Lon, Lat: c.Lat}, c.RadiusM)
	if err != nil {
		return nil, fmt.Errorf("circle cover: %w", err)
	}
	cells := normalize(set, length)
	observability.ObserveCover("circle", time.Since(start).Seconds(), len(cells))

	m.memo.Add(key, cells)
	return cells, nil
}

func (m *Mapper) coverRing(shape string, ring []geo.Point, length int) (model.Cells, error) {
	start := time.Now()
	set, err := cover.Polygon(length, ring)
	if err != nil {
		return nil, fmt.Errorf("%s cover: %w", shape, err)
	}
	cells := normalize(set, length)
	observability.ObserveCover(shape, time.Since(start).Seconds(), len(cells))
	return cells, nil
}

func memoKey(shape, geom string, length int) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(shape)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(geom)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(fmt.Sprintf("%d", length))
	return h.Sum64()
}

// outerRings extracts the outer ring of a GeoJSON Polygon, or the outer
// rings of a MultiPolygon. Holes are ignored: covering the full outer
// ring over-approximates, which is safe for an index.
func outerRings(raw string) ([][]geo.Point, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &hdr); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}

	switch hdr.Type {
	case "Polygon":
		var tmp struct {
			Coordinates [][][]float64 `json:"coordinates"` // [ring][i][lon,lat]
		}
		if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		if len(tmp.Coordinates) == 0 {
			return nil, errors.New("empty polygon")
		}
		ring := toRing(tmp.Coordinates[0])
		if len(ring) < 3 {
			return nil, errors.New("outer ring has < 3 vertices")
		}
		return [][]geo.Point{ring}, nil

	case "MultiPolygon":
		var tmp struct {
			Coordinates [][][][]float64 `json:"coordinates"` // [poly][ring][i][lon,lat]
		}
		if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		if len(tmp.Coordinates) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		out := make([][]geo.Point, 0, len(tmp.Coordinates))
		for pi, polyRings := range tmp.Coordinates {
			if len(polyRings) == 0 {
				return nil, fmt.Errorf("polygon %d is empty", pi)
			}
			ring := toRing(polyRings[0])
			if len(ring) < 3 {
				return nil, fmt.Errorf("polygon %d outer ring has < 3 vertices", pi)
			}
			out = append(out, ring)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %s", hdr.Type)
	}
}

func lineStringPoints(raw string) ([]geo.Point, error) {
	var tmp struct {
		Type        string      `json:"type"`
		Coordinates [][]float64 `json:"coordinates"` // [i][lon,lat]
	}
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	if tmp.Type != "LineString" {
		return nil, fmt.Errorf("unsupported GeoJSON type: %s", tmp.Type)
	}
	pts := make([]geo.Point, 0, len(tmp.Coordinates))
	for _, xy := range tmp.Coordinates {
		if len(xy) != 2 {
			continue
		}
		pts = append(pts, geo.Point{Lon: xy[0], Lat: xy[1]})
	}
	if len(pts) < 2 {
		return nil, errors.New("linestring has < 2 points")
	}
	return pts, nil
}

// Convert a GeoJSON ring [[lon,lat], ...] to points. If the ring is
// explicitly closed (last == first), drop the trailing duplicate.
func toRing(coords [][]float64) []geo.Point {
	ring := make([]geo.Point, 0, len(coords))
	for _, xy := range coords {
		if len(xy) != 2 {
			continue
		}
		ring = append(ring, geo.Point{Lon: xy[0], Lat: xy[1]})
	}
	if len(ring) >= 2 {
		last := ring[len(ring)-1]
		if last == ring[0] {
			ring = ring[:len(ring)-1]
		}
	}
	return ring
}
