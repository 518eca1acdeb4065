package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/observability"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/index"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/cover"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

// Index is the service surface the HTTP handlers drive.
type Index interface {
	Query(ctx context.Context, q model.QueryRequest) (index.QueryResult, error)
	PutFeature(ctx context.Context, f model.Feature) (int, error)
	RemoveFeature(ctx context.Context, layer, id string) error
}

// HandleQuery validates input query params and serves the matching features.
func HandleQuery(logger *slog.Logger, svc Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, warn, err := ParseQueryRequest(r)
		if warn != "" {
			logger.Warn(warn)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/query", sw.code, time.Since(start).Seconds())
			return
		}

		res, err := svc.Query(r.Context(), q)
		if err != nil {
			http.Error(sw, err.Error(), statusFor(err))
			observability.ObserveHTTP(r.Method, "/query", sw.code, time.Since(start).Seconds())
			return
		}

		features := res.Features
		if features == nil {
			features = []json.RawMessage{}
		}
		sw.Header().Set("Content-Type", "application/geo+json")
		sw.Header().Set("X-Index-Length", strconv.Itoa(res.Length))
		sw.Header().Set("X-Index-Cells", strconv.Itoa(res.Cells))
		_ = json.NewEncoder(sw).Encode(struct {
			Type     string            `json:"type"`
			Features []json.RawMessage `json:"features"`
		}{Type: "FeatureCollection", Features: features})

		observability.ObserveHTTP(r.Method, "/query", sw.code, time.Since(start).Seconds())
	}
}

// HandlePutFeature upserts one feature from the request body.
func HandlePutFeature(logger *slog.Logger, svc Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		var f model.Feature
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			http.Error(sw, fmt.Sprintf("invalid feature body: %v", err), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
			return
		}

		cells, err := svc.PutFeature(r.Context(), f)
		if err != nil {
			logger.Warn("put feature failed", "layer", f.Layer, "id", f.ID, "err", err)
			http.Error(sw, err.Error(), statusFor(err))
			observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
			return
		}

		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(struct {
			ID    string `json:"id"`
			Cells int    `json:"cells"`
		}{ID: f.ID, Cells: cells})

		observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
	}
}

// HandleDeleteFeature removes a feature by layer and id.
func HandleDeleteFeature(logger *slog.Logger, svc Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		layer := strings.TrimSpace(r.URL.Query().Get("layer"))
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if layer == "" || id == "" {
			http.Error(sw, "missing required parameters: layer, id", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
			return
		}

		if err := svc.RemoveFeature(r.Context(), layer, id); err != nil {
			logger.Warn("remove feature failed", "layer", layer, "id", id, "err", err)
			http.Error(sw, err.Error(), statusFor(err))
			observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
			return
		}

		sw.WriteHeader(http.StatusNoContent)
		observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cover.ErrNearPole):
		return http.StatusUnprocessableEntity
	case errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, index.ErrBadFeature),
		errors.Is(err, geohash.ErrBadCoordinate),
		errors.Is(err, geohash.ErrBadLength),
		errors.Is(err, cover.ErrBadLength),
		errors.Is(err, cover.ErrBadRing),
		errors.Is(err, cover.ErrBadWidth),
		errors.Is(err, cover.ErrBadRadius),
		errors.Is(err, cover.ErrBadPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func ParseQueryRequest(r *http.Request) (model.QueryRequest, string, error) {
	var warn string

	layer := strings.TrimSpace(r.URL.Query().Get("layer"))
	if layer == "" {
		return model.QueryRequest{}, "", errors.New("missing required parameter: layer")
	}

	rawBBox := strings.TrimSpace(r.URL.Query().Get("bbox"))
	rawPoly := strings.TrimSpace(r.URL.Query().Get("polygon"))
	rawLine := strings.TrimSpace(r.URL.Query().Get("line"))
	rawCircle := strings.TrimSpace(r.URL.Query().Get("circle"))
	filters := strings.TrimSpace(r.URL.Query().Get("filters"))

	shapes := 0
	for _, s := range []string{rawBBox, rawPoly, rawLine, rawCircle} {
		if s != "" {
			shapes++
		}
	}
	if shapes == 0 {
		return model.QueryRequest{}, "", errors.New("one of bbox, polygon, line or circle is required")
	}
	// drop bbox when a more specific shape is given (the shape wins)
	if shapes > 1 && rawBBox != "" {
		warn = "bbox supplied alongside another shape; preferring the shape"
		rawBBox = ""
		shapes--
	}
	if shapes > 1 {
		return model.QueryRequest{}, warn, errors.New("polygon, line and circle are mutually exclusive")
	}

	var bbox *model.BBox
	if rawBBox != "" {
		bb, err := parseBBOX(rawBBox)
		if err != nil {
			return model.QueryRequest{}, warn, fmt.Errorf("invalid bbox: %w", err)
		}
		bbox = &bb
	}

	var poly *model.Geometry
	if rawPoly != "" {
		p, err := parsePolygon(rawPoly)
		if err != nil {
			return model.QueryRequest{}, warn, fmt.Errorf("invalid polygon: %w", err)
		}
		poly = &p
	}

	var line *model.Line
	if rawLine != "" {
		l, err := parseLine(rawLine, r.URL.Query().Get("width"))
		if err != nil {
			return model.QueryRequest{}, warn, fmt.Errorf("invalid line: %w", err)
		}
		line = &l
	}

	var circle *model.Circle
	if rawCircle != "" {
		c, err := parseCircle(rawCircle)
		if err != nil {
			return model.QueryRequest{}, warn, fmt.Errorf("invalid circle: %w", err)
		}
		circle = &c
	}

	maxLen := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("maxlen")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > cover.MaxPolygonLength {
			return model.QueryRequest{}, warn,
				fmt.Errorf("maxlen must be an integer in 1..%d", cover.MaxPolygonLength)
		}
		maxLen = n
	}

	if filters != "" && !isSafeCQL(filters) {
		return model.QueryRequest{}, warn, errors.New("invalid or disallowed cql_filter")
	}

	return model.QueryRequest{
		Layer:   layer,
		BBox:    bbox,
		Polygon: poly,
		Line:    line,
		Circle:  circle,
		Filters: filters,
		MaxLen:  maxLen,
	}, warn, nil
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 5 {
		return model.BBox{}, errors.New("expected 5 comma-separated values: x1,y1,x2,y2,EPSG:4326")
	}
	xMin, err := parseFloat(parts[0])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x1: %w", err)
	}
	yMin, err := parseFloat(parts[1])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y1: %w", err)
	}
	xMax, err := parseFloat(parts[2])
	if err != nil {
		return model.BBox{}, fmt.Errorf("x2: %w", err)
	}
	yMax, err := parseFloat(parts[3])
	if err != nil {
		return model.BBox{}, fmt.Errorf("y2: %w", err)
	}

	srid := strings.ToUpper(strings.TrimSpace(parts[4]))
	if srid != "EPSG:4326" {
		return model.BBox{}, fmt.Errorf("only EPSG:4326 is supported at this stage (got %q)", srid)
	}

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

var safeCQLPattern = regexp.MustCompile(`^[\w\s\=\>\<\!\(\)\.\,\'\"\-]+$`)

func isSafeCQL(s string) bool {
	if len(s) > 500 {
		return false
	}
	return safeCQLPattern.MatchString(s)
}

func parsePolygon(raw string) (model.Geometry, error) {
	var tmp struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return model.Geometry{}, fmt.Errorf("parse json: %w", err)
	}
	t := strings.TrimSpace(tmp.Type)
	switch t {
	case "Polygon", "MultiPolygon":
		return model.Geometry{GeoJSON: raw}, nil
	default:
		return model.Geometry{}, fmt.Errorf(`unsupported GeoJSON "type": %q (must be Polygon or MultiPolygon)`, t)
	}
}

const defaultLineWidthM = 50.0

func parseLine(raw, rawWidth string) (model.Line, error) {
	var tmp struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return model.Line{}, fmt.Errorf("parse json: %w", err)
	}
	if strings.TrimSpace(tmp.Type) != "LineString" {
		return model.Line{}, fmt.Errorf(`unsupported GeoJSON "type": %q (must be LineString)`, tmp.Type)
	}

	width := defaultLineWidthM
	if rawWidth = strings.TrimSpace(rawWidth); rawWidth != "" {
		w, err := parseFloat(rawWidth)
		if err != nil {
			return model.Line{}, fmt.Errorf("width: %w", err)
		}
		if w <= 0 {
			return model.Line{}, errors.New("width must be positive meters")
		}
		width = w
	}
	return model.Line{GeoJSON: raw, WidthM: width}, nil
}

// circle format: lon,lat,radiusMeters
func parseCircle(raw string) (model.Circle, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return model.Circle{}, errors.New("expected 3 comma-separated values: lon,lat,radius_m")
	}
	lon, err := parseFloat(parts[0])
	if err != nil {
		return model.Circle{}, fmt.Errorf("lon: %w", err)
	}
	lat, err := parseFloat(parts[1])
	if err != nil {
		return model.Circle{}, fmt.Errorf("lat: %w", err)
	}
	radius, err := parseFloat(parts[2])
	if err != nil {
		return model.Circle{}, fmt.Errorf("radius: %w", err)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return model.Circle{}, errors.New("center out of range")
	}
	if radius <= 0 {
		return model.Circle{}, errors.New("radius must be positive meters")
	}
	return model.Circle{Lon: lon, Lat: lat, RadiusM: radius}, nil
}
