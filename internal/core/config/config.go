package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
}

type Config struct {
	Addr            string
	LogLevel        string
	RedisAddr       string
	IndexLen        int
	MaxQueryLen     int
	LenMin          int
	LenMax          int
	CoverMemoSize   int
	CacheOpTimeout  time.Duration
	CacheTTLDefault time.Duration
	CacheTTLOvr     map[string]time.Duration
	HotHalfLife     time.Duration
	Invalidation    InvalidationCfg
}

func FromEnv() Config {
	indexLen := clampLen(getint("GEOHASH_INDEX_LEN", 6))

	minLen := clampLen(getint("GEOHASH_LEN_MIN", indexLen))
	maxLen := clampLen(getint("GEOHASH_LEN_MAX", indexLen))
	if minLen > maxLen {
		minLen, maxLen = indexLen, indexLen
	}
	// the default query length must be answerable by the index
	if indexLen < minLen {
		indexLen = minLen
	}
	if indexLen > maxLen {
		indexLen = maxLen
	}

	maxQueryLen := clampLen(getint("GEOHASH_MAX_QUERY_LEN", 9))
	if maxQueryLen < indexLen {
		maxQueryLen = indexLen
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		IndexLen:        indexLen,
		MaxQueryLen:     maxQueryLen,
		LenMin:          minLen,
		LenMax:          maxLen,
		CoverMemoSize:   getint("COVER_MEMO_SIZE", 1024),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLDefault: getduration("CACHE_TTL_DEFAULT", 60*time.Second),
		CacheTTLOvr:     parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		HotHalfLife:     getduration("HOT_HALF_LIFE", time.Minute),
		Invalidation: InvalidationCfg{
			Enabled: strings.ToLower(getenv("INVALIDATION_ENABLED", "false")) == "true",
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "spatial-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "index-invalidator"),
		},
	}
}

// geohash cover lengths the service works with; 11 leaves the codec one
// refinement level of headroom
func clampLen(n int) int {
	if n < 1 {
		return 1
	}
	if n > 11 {
		return 11
	}
	return n
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "layer=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
