package index

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/featurestore"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/config"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/mapper/geohashmapper"
)

func newService(t *testing.T) (*Service, *expdecay.Tracker) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	cfg := config.Config{
		IndexLen:        6,
		LenMin:          6,
		LenMax:          6,
		MaxQueryLen:     9,
		CoverMemoSize:   16,
		CacheOpTimeout:  time.Second,
		CacheTTLDefault: time.Minute,
	}

	hot := expdecay.New(time.Minute)
	svc := New(nil, cfg,
		geohashmapper.New(cfg.CoverMemoSize),
		cli,
		cellindex.NewRedisIndex(cli),
		featurestore.NewRedisStore(cli, cfg.CacheTTLDefault),
		hot,
	)
	return svc, hot
}

func pointFeature(layer, id string, lon, lat float64) model.Feature {
	geom, _ := json.Marshal(struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	}{Type: "Point", Coordinates: []float64{lon, lat}})
	return model.Feature{Layer: layer, ID: id, Geometry: geom}
}

func TestPutQueryRemove_PointFeature(t *testing.T) {
	svc, hot := newService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	f := pointFeature("demo:places", "p1", 13.394904, 52.530888)
	cells, err := svc.PutFeature(ctx, f)
	if err != nil {
		t.Fatalf("PutFeature: %v", err)
	}
	if cells != 1 {
		t.Fatalf("point feature cells=%d want 1", cells)
	}

	q := model.QueryRequest{
		Layer: "demo:places",
		BBox:  &model.BBox{X1: 13.39, Y1: 52.52, X2: 13.40, Y2: 52.54, SRID: "EPSG:4326"},
	}
	res, err := svc.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Length != 6 {
		t.Fatalf("query length=%d want 6", res.Length)
	}
	if len(res.IDs) != 1 || res.IDs[0] != "p1" {
		t.Fatalf("query ids=%v want [p1]", res.IDs)
	}
	if len(res.Features) != 1 {
		t.Fatalf("query features=%d want 1", len(res.Features))
	}

	// queried cells become hot
	if hot.Size() == 0 {
		t.Fatalf("hotness tracker saw no cells")
	}

	if err := svc.RemoveFeature(ctx, "demo:places", "p1"); err != nil {
		t.Fatalf("RemoveFeature: %v", err)
	}
	res, err = svc.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query after remove: %v", err)
	}
	if len(res.Features) != 0 {
		t.Fatalf("features remain after remove: %d", len(res.Features))
	}

	if err := svc.RemoveFeature(ctx, "demo:places", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutQuery_PolygonFeatureAndCircleQuery(t *testing.T) {
	svc, _ := newService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	f := model.Feature{
		Layer:    "demo:parks",
		ID:       "park-1",
		Geometry: json.RawMessage(`{"type":"Polygon","coordinates":[[[13.38,52.52],[13.41,52.52],[13.41,52.54],[13.38,52.54],[13.38,52.52]]]}`),
	}
	if _, err := svc.PutFeature(ctx, f); err != nil {
		t.Fatalf("PutFeature: %v", err)
	}

	res, err := svc.Query(ctx, model.QueryRequest{
		Layer:  "demo:parks",
		Circle: &model.Circle{Lon: 13.395, Lat: 52.53, RadiusM: 300},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.IDs) != 1 || res.IDs[0] != "park-1" {
		t.Fatalf("circle query ids=%v want [park-1]", res.IDs)
	}

	// a query far away finds nothing
	res, err = svc.Query(ctx, model.QueryRequest{
		Layer:  "demo:parks",
		Circle: &model.Circle{Lon: 11.55, Lat: 48.15, RadiusM: 300},
	})
	if err != nil {
		t.Fatalf("Query far: %v", err)
	}
	if len(res.IDs) != 0 {
		t.Fatalf("distant query ids=%v want none", res.IDs)
	}
}

func TestQuery_CachedSecondRead(t *testing.T) {
	svc, _ := newService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	if _, err := svc.PutFeature(ctx, pointFeature("demo:places", "p1", 13.394904, 52.530888)); err != nil {
		t.Fatalf("PutFeature: %v", err)
	}

	q := model.QueryRequest{
		Layer: "demo:places",
		BBox:  &model.BBox{X1: 13.39, Y1: 52.52, X2: 13.40, Y2: 52.54, SRID: "EPSG:4326"},
	}
	first, err := svc.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	second, err := svc.Query(ctx, q)
	if err != nil {
		t.Fatalf("Query (cached): %v", err)
	}
	if len(first.IDs) != len(second.IDs) {
		t.Fatalf("cached read differs: %v vs %v", first.IDs, second.IDs)
	}
}

func TestPutFeature_Validation(t *testing.T) {
	svc, _ := newService(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	if _, err := svc.PutFeature(ctx, model.Feature{ID: "x"}); !errors.Is(err, ErrBadFeature) {
		t.Fatalf("missing layer: %v", err)
	}
	if _, err := svc.PutFeature(ctx, model.Feature{Layer: "l", ID: "x"}); !errors.Is(err, ErrBadFeature) {
		t.Fatalf("missing geometry: %v", err)
	}
	bad := model.Feature{Layer: "l", ID: "x", Geometry: json.RawMessage(`{"type":"GeometryCollection"}`)}
	if _, err := svc.PutFeature(ctx, bad); !errors.Is(err, ErrBadFeature) {
		t.Fatalf("unsupported geometry: %v", err)
	}
}

func TestQuery_NeedsAShape(t *testing.T) {
	svc, _ := newService(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	if _, err := svc.Query(ctx, model.QueryRequest{Layer: "demo:places"}); err == nil {
		t.Fatalf("expected error for shapeless query")
	}
}

func TestQueryLength_HonorsMaxLenWithinRange(t *testing.T) {
	svc, _ := newService(t)

	if got := svc.queryLength(0); got != 6 {
		t.Fatalf("default length=%d want 6", got)
	}
	// the configured range pins every request to 6
	if got := svc.queryLength(3); got != 6 {
		t.Fatalf("clamped length=%d want 6", got)
	}
	if got := svc.queryLength(9); got != 6 {
		t.Fatalf("clamped length=%d want 6", got)
	}
}

func TestQueryLength_CappedByMaxQueryLen(t *testing.T) {
	cfg := config.Config{IndexLen: 5, LenMin: 4, LenMax: 8, MaxQueryLen: 6}
	svc := New(nil, cfg, nil, nil, nil, nil, nil)

	if got := svc.queryLength(0); got != 5 {
		t.Fatalf("default length=%d want 5", got)
	}
	if got := svc.queryLength(6); got != 6 {
		t.Fatalf("length=%d want 6", got)
	}
	// within the index range but beyond the query cap
	if got := svc.queryLength(8); got != 6 {
		t.Fatalf("capped length=%d want 6", got)
	}
	if got := svc.queryLength(3); got != 4 {
		t.Fatalf("clamped length=%d want 4", got)
	}
}
