// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching the wfs/wms bbox parameter format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// Geometry carries a GeoJSON Polygon or MultiPolygon as received.
type Geometry struct {
	GeoJSON string
}

// Line is a GeoJSON LineString buffered to a width in meters.
type Line struct {
	GeoJSON string
	WidthM  float64
}

type Circle struct {
	Lat     float64
	Lon     float64
	RadiusM float64
}

// Cells is a set of geohash codes, sorted and de-duplicated at this layer.
type Cells []string

type QueryRequest struct {
	Layer   string
	BBox    *BBox
	Polygon *Geometry
	Line    *Line
	Circle  *Circle
	Filters string
	MaxLen  int
}

// Feature is an indexed entity: an ID plus the geometry it occupies.
type Feature struct {
	Layer      string          `json:"layer"`
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

type Filters string
