// Package observability holds the service-wide Prometheus instruments.
package observability

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type instruments struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	cacheOpTotal           *prometheus.CounterVec
	redisOpDurationSeconds *prometheus.HistogramVec
	cacheHitsTotal         prometheus.Counter
	cacheMissesTotal       prometheus.Counter
	coverDurationSeconds   *prometheus.HistogramVec
	coverCells             *prometheus.HistogramVec
	invalLagSeconds        prometheus.Gauge
	layerInvalidatedAtUnix *prometheus.GaugeVec
	buildInfo              *prometheus.GaugeVec
}

var (
	mu      sync.Mutex
	enabled atomic.Bool
	inst    atomic.Pointer[instruments]
)

// Init wires the instruments into the given registerer. With a nil
// registerer or on=false all observe calls become no-ops.
func Init(r prometheus.Registerer, on bool) {
	mu.Lock()
	defer mu.Unlock()

	if r == nil || !on {
		enabled.Store(false)
		inst.Store(nil)
		return
	}

	m := &instruments{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"method", "route", "status"},
		),
		cacheOpTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_op_total",
				Help: "Redis operations by op and result.",
			},
			[]string{"op", "result"},
		),
		redisOpDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redis_operation_duration_seconds",
				Help:    "Latency of Redis operations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op"},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Keys found during cache reads.",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Keys missing during cache reads.",
			},
		),
		coverDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cover_duration_seconds",
				Help:    "Time spent computing geohash covers.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
			[]string{"shape"},
		),
		coverCells: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cover_cells",
				Help:    "Number of cells per computed cover.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 16),
			},
			[]string{"shape"},
		),
		invalLagSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "inval_lag_seconds",
				Help: "Approximate invalidation lag: now - message.timestamp.",
			},
		),
		layerInvalidatedAtUnix: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "layer_invalidated_at_unix",
				Help: "Unix timestamp of the latest applied invalidation per layer.",
			},
			[]string{"layer"},
		),
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "app_build_info",
				Help: "Build information for the binary.",
			},
			[]string{"version"},
		),
	}

	r.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDurationSeconds,
		m.cacheOpTotal,
		m.redisOpDurationSeconds,
		m.cacheHitsTotal,
		m.cacheMissesTotal,
		m.coverDurationSeconds,
		m.coverCells,
		m.invalLagSeconds,
		m.layerInvalidatedAtUnix,
		m.buildInfo,
	)

	inst.Store(m)
	enabled.Store(true)
}

func get() *instruments {
	if !enabled.Load() {
		return nil
	}
	return inst.Load()
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := get()
	if m == nil {
		return
	}
	st := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	m := get()
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cacheOpTotal.WithLabelValues(op, result).Inc()
	m.redisOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if m := get(); m != nil && n > 0 {
		m.cacheHitsTotal.Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if m := get(); m != nil && n > 0 {
		m.cacheMissesTotal.Add(float64(n))
	}
}

func ObserveCover(shape string, durationSeconds float64, cells int) {
	m := get()
	if m == nil {
		return
	}
	m.coverDurationSeconds.WithLabelValues(shape).Observe(durationSeconds)
	m.coverCells.WithLabelValues(shape).Observe(float64(cells))
}

func SetInvalidationLagSeconds(lag float64) {
	if m := get(); m != nil {
		m.invalLagSeconds.Set(lag)
	}
}

func SetLayerInvalidatedAt(layer string, ts time.Time) {
	if m := get(); m != nil && layer != "" && !ts.IsZero() {
		m.layerInvalidatedAtUnix.WithLabelValues(layer).Set(float64(ts.Unix()))
	}
}

func ExposeBuildInfo(version string) {
	m := get()
	if m == nil {
		return
	}
	if version == "" {
		version = "dev"
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}
