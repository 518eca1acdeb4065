// Package index ties the mapper, cell index and feature store together
// into the spatial index service.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/featurestore"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/keys"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/config"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/hotness"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/mapper"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

var (
	ErrBadFeature = errors.New("invalid feature")
	ErrNotFound   = errors.New("feature not found")
)

type Service struct {
	log   *slog.Logger
	cfg   config.Config
	mp    mapper.Interface
	store cache.Interface
	idx   cellindex.CellIndex
	feats featurestore.FeatureStore
	hot   hotness.Interface
}

func New(
	log *slog.Logger,
	cfg config.Config,
	mp mapper.Interface,
	store cache.Interface,
	idx cellindex.CellIndex,
	feats featurestore.FeatureStore,
	hot hotness.Interface,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:   log,
		cfg:   cfg,
		mp:    mp,
		store: store,
		idx:   idx,
		feats: feats,
		hot:   hot,
	}
}

type QueryResult struct {
	Layer    string
	Length   int
	Cells    int
	IDs      []string
	Features []json.RawMessage
}

// queryLength resolves the geohash length a query runs at. The caller's
// maxlen is honored within the configured index range, further capped by
// MaxQueryLen.
func (s *Service) queryLength(maxLen int) int {
	l := s.cfg.IndexLen
	if maxLen > 0 {
		l = maxLen
	}
	hi := s.cfg.LenMax
	if s.cfg.MaxQueryLen > 0 && s.cfg.MaxQueryLen < hi {
		hi = s.cfg.MaxQueryLen
	}
	if l < s.cfg.LenMin {
		l = s.cfg.LenMin
	}
	if l > hi {
		l = hi
	}
	return l
}

// cacheCtx bounds one cache round trip so a slow Redis cannot stall the
// query path.
func (s *Service) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CacheOpTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.CacheOpTimeout)
	}
	return ctx, func() {}
}

func (s *Service) ttlFor(layer string) time.Duration {
	if ttl, ok := s.cfg.CacheTTLOvr[layer]; ok {
		return ttl
	}
	return s.cfg.CacheTTLDefault
}

func (s *Service) Query(ctx context.Context, q model.QueryRequest) (QueryResult, error) {
	length := s.queryLength(q.MaxLen)

	cells, err := s.cellsForQuery(q, length)
	if err != nil {
		return QueryResult{}, err
	}

	ids, err := s.collectIDs(ctx, q.Layer, length, cells, q.Filters)
	if err != nil {
		return QueryResult{}, err
	}

	payloads, err := s.feats.MGetFeatures(ctx, q.Layer, ids)
	if err != nil {
		return QueryResult{}, fmt.Errorf("load features: %w", err)
	}

	out := QueryResult{
		Layer:  q.Layer,
		Length: length,
		Cells:  len(cells),
		IDs:    ids,
	}
	for _, id := range ids {
		if body, ok := payloads[id]; ok {
			out.Features = append(out.Features, json.RawMessage(body))
		}
	}
	return out, nil
}

func (s *Service) cellsForQuery(q model.QueryRequest, length int) (model.Cells, error) {
	switch {
	case q.Polygon != nil:
		return s.mp.CellsForPolygon(*q.Polygon, length)
	case q.Line != nil:
		return s.mp.CellsForLine(*q.Line, length)
	case q.Circle != nil:
		return s.mp.CellsForCircle(*q.Circle, length)
	case q.BBox != nil:
		return s.mp.CellsForBBox(*q.BBox, length)
	default:
		return nil, errors.New("query needs one of bbox, polygon, line or circle")
	}
}

// collectIDs unions the feature IDs of all cells, reading through a
// per-cell cache so hot cells skip the index sets entirely.
func (s *Service) collectIDs(
	ctx context.Context,
	layer string,
	length int,
	cells model.Cells,
	filters string,
) ([]string, error) {
	cellKeys := make([]string, len(cells))
	for i, cell := range cells {
		cellKeys[i] = keys.Key(layer, length, cell, filters)
		if s.hot != nil {
			s.hot.Inc(cell)
		}
	}

	cached := map[string][]byte{}
	if s.store != nil {
		mgetCtx, cancel := s.cacheCtx(ctx)
		var err error
		cached, err = s.store.MGet(mgetCtx, cellKeys)
		cancel()
		if err != nil {
			s.log.Warn("query cache read failed", "layer", layer, "err", err)
			cached = map[string][]byte{}
		}
	}

	seen := make(map[string]struct{})
	var ids []string
	add := func(batch []string) {
		for _, id := range batch {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	ttl := s.ttlFor(layer)
	for i, cell := range cells {
		if raw, ok := cached[cellKeys[i]]; ok {
			var batch []string
			if err := json.Unmarshal(raw, &batch); err == nil {
				add(batch)
				continue
			}
			// fall through on a corrupt entry and rebuild it
		}

		batch, err := s.idx.GetIDs(ctx, layer, length, cell)
		if err != nil {
			return nil, fmt.Errorf("cell %q ids: %w", cell, err)
		}
		add(batch)

		if s.store != nil {
			payload, err := json.Marshal(batch)
			if err == nil {
				setCtx, cancel := s.cacheCtx(ctx)
				if err := s.store.Set(setCtx, cellKeys[i], payload, ttl); err != nil {
					s.log.Warn("query cache write failed", "layer", layer, "err", err)
				}
				cancel()
			}
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// PutFeature indexes the feature at every configured length and stores
// its payload. Re-putting an existing ID refreshes both.
func (s *Service) PutFeature(ctx context.Context, f model.Feature) (int, error) {
	if strings.TrimSpace(f.Layer) == "" || strings.TrimSpace(f.ID) == "" {
		return 0, fmt.Errorf("%w: layer and id are required", ErrBadFeature)
	}
	if len(f.Geometry) == 0 {
		return 0, fmt.Errorf("%w: geometry is required", ErrBadFeature)
	}

	total := 0
	for l := s.cfg.LenMin; l <= s.cfg.LenMax; l++ {
		cells, err := s.featureCells(f, l)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBadFeature, err)
		}
		if err := s.idx.AddID(ctx, f.Layer, l, cells, f.ID); err != nil {
			return 0, fmt.Errorf("index feature %q: %w", f.ID, err)
		}
		total += len(cells)
	}

	body, err := json.Marshal(storedFeature{
		Type:       "Feature",
		ID:         f.ID,
		Geometry:   f.Geometry,
		Properties: f.Properties,
	})
	if err != nil {
		return 0, fmt.Errorf("encode feature %q: %w", f.ID, err)
	}
	if err := s.feats.PutFeatures(ctx, f.Layer, map[string][]byte{f.ID: body}, 0); err != nil {
		return 0, fmt.Errorf("store feature %q: %w", f.ID, err)
	}

	s.log.Debug("feature indexed", "layer", f.Layer, "id", f.ID, "cells", total)
	return total, nil
}

// RemoveFeature recomputes the feature's cover from its stored geometry
// and drops its ID from every cell.
func (s *Service) RemoveFeature(ctx context.Context, layer, id string) error {
	if strings.TrimSpace(layer) == "" || strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: layer and id are required", ErrBadFeature)
	}

	stored, err := s.feats.MGetFeatures(ctx, layer, []string{id})
	if err != nil {
		return fmt.Errorf("load feature %q: %w", id, err)
	}
	raw, ok := stored[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, layer, id)
	}

	var sf storedFeature
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("decode feature %q: %w", id, err)
	}

	f := model.Feature{Layer: layer, ID: id, Geometry: sf.Geometry}
	for l := s.cfg.LenMin; l <= s.cfg.LenMax; l++ {
		cells, err := s.featureCells(f, l)
		if err != nil {
			return fmt.Errorf("cover feature %q: %w", id, err)
		}
		if err := s.idx.RemoveID(ctx, layer, l, cells, id); err != nil {
			return fmt.Errorf("unindex feature %q: %w", id, err)
		}
	}

	if err := s.feats.DelFeatures(ctx, layer, []string{id}); err != nil {
		return fmt.Errorf("delete feature %q: %w", id, err)
	}

	s.log.Debug("feature removed", "layer", layer, "id", id)
	return nil
}

type storedFeature struct {
	Type       string          `json:"type"`
	ID         string          `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// featureCells covers a feature geometry at one length. Points index as
// their single containing cell; surfaces go through the cover engine.
func (s *Service) featureCells(f model.Feature, length int) (model.Cells, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(f.Geometry, &hdr); err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}

	switch hdr.Type {
	case "Point":
		var pt struct {
			Coordinates []float64 `json:"coordinates"`
		}
		if err := json.Unmarshal(f.Geometry, &pt); err != nil {
			return nil, fmt.Errorf("parse point coords: %w", err)
		}
		if len(pt.Coordinates) != 2 {
			return nil, errors.New("point needs [lon,lat] coordinates")
		}
		code, err := geohash.Encode(pt.Coordinates[1], pt.Coordinates[0], length)
		if err != nil {
			return nil, fmt.Errorf("encode point: %w", err)
		}
		return model.Cells{code}, nil
	case "LineString":
		return s.mp.CellsForLine(model.Line{GeoJSON: string(f.Geometry), WidthM: s.lineWidth()}, length)
	case "Polygon", "MultiPolygon":
		return s.mp.CellsForPolygon(model.Geometry{GeoJSON: string(f.Geometry)}, length)
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", hdr.Type)
	}
}

// default buffer for bare LineString features
func (s *Service) lineWidth() float64 {
	return 50
}
