package geohashmapper

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/cover"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

func berlinBBox() model.BBox {
	return model.BBox{X1: 13.38, Y1: 52.52, X2: 13.41, Y2: 52.54, SRID: "EPSG:4326"}
}

func TestCellsForBBox_FixedLengthAndCoverage(t *testing.T) {
	m := New(16)

	cells, err := m.CellsForBBox(berlinBBox(), 6)
	if err != nil {
		t.Fatalf("CellsForBBox: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("empty cover")
	}

	seen := map[string]struct{}{}
	for _, c := range cells {
		if len(c) != 6 {
			t.Fatalf("cell %q has length %d, want 6", c, len(c))
		}
		seen[c] = struct{}{}
	}
	if len(seen) != len(cells) {
		t.Fatalf("cells are not unique")
	}
	if !reflect.DeepEqual(cells, sortedCopy(cells)) {
		t.Fatalf("cells are not sorted")
	}

	// a point inside the bbox must land in one of the cells
	want, _ := geohash.Encode(52.530888, 13.394904, 6)
	if _, ok := seen[want]; !ok {
		t.Fatalf("cell %q for an interior point missing from the cover", want)
	}
}

func TestCellsForBBox_Memoized(t *testing.T) {
	m := New(16)

	a, err := m.CellsForBBox(berlinBBox(), 6)
	if err != nil {
		t.Fatalf("CellsForBBox: %v", err)
	}
	b, err := m.CellsForBBox(berlinBBox(), 6)
	if err != nil {
		t.Fatalf("CellsForBBox: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("memoized result differs")
	}
}

func TestCellsForPolygon_PolygonAndMultiPolygon(t *testing.T) {
	m := New(16)

	poly := `{"type":"Polygon","coordinates":[[[13.38,52.52],[13.41,52.52],[13.41,52.54],[13.38,52.54],[13.38,52.52]]]}`
	cells, err := m.CellsForPolygon(model.Geometry{GeoJSON: poly}, 6)
	if err != nil {
		t.Fatalf("CellsForPolygon: %v", err)
	}
	want, _ := geohash.Encode(52.530888, 13.394904, 6)
	if !contains(cells, want) {
		t.Fatalf("interior point cell %q missing", want)
	}

	multi := `{"type":"MultiPolygon","coordinates":[` +
		`[[[13.38,52.52],[13.41,52.52],[13.41,52.54],[13.38,52.54],[13.38,52.52]]],` +
		`[[[11.5,48.1],[11.6,48.1],[11.6,48.2],[11.5,48.2],[11.5,48.1]]]]}`
	cells, err = m.CellsForPolygon(model.Geometry{GeoJSON: multi}, 5)
	if err != nil {
		t.Fatalf("CellsForPolygon multi: %v", err)
	}
	berlin, _ := geohash.Encode(52.53, 13.39, 5)
	munich, _ := geohash.Encode(48.15, 11.55, 5)
	if !contains(cells, berlin) || !contains(cells, munich) {
		t.Fatalf("multipolygon cover misses a member polygon: %v", cells)
	}
}

func TestCellsForPolygon_Errors(t *testing.T) {
	m := New(16)

	if _, err := m.CellsForPolygon(model.Geometry{GeoJSON: `{"type":"Point","coordinates":[1,2]}`}, 6); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := m.CellsForPolygon(model.Geometry{GeoJSON: `not json`}, 6); err == nil {
		t.Fatalf("expected error for invalid json")
	}

	nearPole := `{"type":"Polygon","coordinates":[[[0,89.6],[1,89.6],[1,89.7],[0,89.7],[0,89.6]]]}`
	if _, err := m.CellsForPolygon(model.Geometry{GeoJSON: nearPole}, 5); !errors.Is(err, cover.ErrNearPole) {
		t.Fatalf("expected ErrNearPole, got %v", err)
	}
}

func TestValidateLength(t *testing.T) {
	m := New(16)
	if _, err := m.CellsForBBox(berlinBBox(), 0); err == nil {
		t.Fatalf("length 0 must be rejected")
	}
	if _, err := m.CellsForBBox(berlinBBox(), 12); err == nil {
		t.Fatalf("length 12 must be rejected")
	}
}

func TestCellsForLine_VerticesCovered(t *testing.T) {
	m := New(16)

	line := model.Line{
		GeoJSON: `{"type":"LineString","coordinates":[[13.38,52.52],[13.40,52.53],[13.41,52.54]]}`,
		WidthM:  250,
	}
	cells, err := m.CellsForLine(line, 6)
	if err != nil {
		t.Fatalf("CellsForLine: %v", err)
	}
	for _, pt := range [][2]float64{{13.38, 52.52}, {13.40, 52.53}, {13.41, 52.54}} {
		want, _ := geohash.Encode(pt[1], pt[0], 6)
		if !contains(cells, want) {
			t.Fatalf("vertex cell %q missing from line cover", want)
		}
	}

	if _, err := m.CellsForLine(model.Line{GeoJSON: `{"type":"Polygon","coordinates":[]}`, WidthM: 10}, 6); err == nil {
		t.Fatalf("expected error for non-linestring geometry")
	}
}

func TestCellsForCircle_CenterCovered(t *testing.T) {
	m := New(16)

	c := model.Circle{Lon: 13.4, Lat: 52.5, RadiusM: 1000}
	cells, err := m.CellsForCircle(c, 6)
	if err != nil {
		t.Fatalf("CellsForCircle: %v", err)
	}
	want, _ := geohash.Encode(52.5, 13.4, 6)
	if !contains(cells, want) {
		t.Fatalf("center cell %q missing from circle cover", want)
	}

	if _, err := m.CellsForCircle(model.Circle{Lon: 13.4, Lat: 52.5, RadiusM: -1}, 6); err == nil {
		t.Fatalf("expected error for negative radius")
	}
}

func TestToParentToChildren(t *testing.T) {
	m := New(16)

	p, err := m.ToParent("u33dbf", 3)
	if err != nil {
		t.Fatalf("ToParent: %v", err)
	}
	if p != "u33" {
		t.Fatalf("ToParent=%q want u33", p)
	}
	if _, err := m.ToParent("u33", 5); err == nil {
		t.Fatalf("ToParent beyond cell length must fail")
	}
	if _, err := m.ToParent("abc", 1); err == nil {
		t.Fatalf("ToParent of an invalid code must fail")
	}

	kids, err := m.ToChildren("u33", 4)
	if err != nil {
		t.Fatalf("ToChildren: %v", err)
	}
	if len(kids) != 32 {
		t.Fatalf("children=%d want 32", len(kids))
	}
	for _, k := range kids {
		if !ChildrenOf("u33", k) || len(k) != 4 {
			t.Fatalf("unexpected child %q", k)
		}
	}

	same, err := m.ToChildren("u33", 3)
	if err != nil || len(same) != 1 || same[0] != "u33" {
		t.Fatalf("ToChildren at same length: %v %v", same, err)
	}
	if _, err := m.ToChildren("u33", 2); err == nil {
		t.Fatalf("ToChildren coarser than the cell must fail")
	}
}

func contains(cells model.Cells, want string) bool {
	for _, c := range cells {
		if c == want {
			return true
		}
	}
	return false
}

func sortedCopy(cells model.Cells) model.Cells {
	out := make(model.Cells, len(cells))
	copy(out, cells)
	sort.Strings(out)
	return out
}
