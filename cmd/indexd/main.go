package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/cellindex"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/featurestore"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/cache/redisstore"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/config"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/health"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/observability"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/server"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/index"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/logger"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/mapper/geohashmapper"
	"github.com/mohammed-shakir/geohash-spatial-index/internal/metrics"
	kafkainval "github.com/mohammed-shakir/geohash-spatial-index/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	envFile := flag.String("env", "", "optional .env file to load before reading config")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			// config still comes from the process environment
			os.Stderr.WriteString("env file load failed: " + err.Error() + "\n")
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "indexd",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	p := metrics.Init(metrics.Config{
		Enabled: true,
		Path:    "/metrics",
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting indexd",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"index_len", cfg.IndexLen,
		"len_min", cfg.LenMin,
		"len_max", cfg.LenMax)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	cli, err := redisstore.New(connectCtx, cfg.RedisAddr)
	cancel()
	if err != nil {
		appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = cli.Close() }()

	mp := geohashmapper.New(cfg.CoverMemoSize)
	idx := cellindex.NewRedisIndex(cli)
	feats := featurestore.NewRedisStore(cli, cfg.CacheTTLDefault)
	hot := expdecay.New(cfg.HotHalfLife)

	svc := index.New(appLog, cfg, mp, cli, idx, feats, hot)

	var ready health.ReadinessReporter
	inv := cfg.Invalidation
	kcfg := kafkainval.FromSettings(inv.Enabled, inv.Driver, inv.Brokers, inv.Topic, inv.GroupID)
	if kcfg.Enabled && kcfg.Driver == kafkainval.DriverKafka {
		var lens []int
		for l := cfg.LenMin; l <= cfg.LenMax; l++ {
			lens = append(lens, l)
		}
		runner := kafkainval.New(kcfg, cli, mp, kafkainval.Options{
			Logger:    appLog,
			Register:  p.Registerer(),
			LenRange:  lens,
			Hotness:   hot,
			CellIndex: idx,
		})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("invalidation runner start failed", "err", err)
			return 1
		}
		defer runner.Stop()
		ready = runner
	}

	if err := server.Run(ctx, cfg, appLog, svc, server.Options{
		Metrics: p.Handler(),
		Ready:   ready,
	}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
