// Package mapper converts query and feature geometry into geohash cells.
package mapper

import (
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
)

type Interface interface {
	CellsForBBox(bb model.BBox, length int) (model.Cells, error)
	CellsForPolygon(geom model.Geometry, length int) (model.Cells, error)
	CellsForLine(line model.Line, length int) (model.Cells, error)
	CellsForCircle(c model.Circle, length int) (model.Cells, error)
}
