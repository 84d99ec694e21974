// rps-sweep is the one-shot cleanup CLI. An external scheduler (cron,
// systemd timer, CI job) runs it periodically; it sweeps timed-out matches
// from the cache into the durable store and purges old abandoned rows.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/Delvin233/rps-onchain-sub000/internal/config"
	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchcache"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchstore"
	"github.com/Delvin233/rps-onchain-sub000/internal/metrics"
	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
	"github.com/Delvin233/rps-onchain-sub000/internal/sweeper"
)

func main() {
	emergency := flag.Bool("emergency", false, "use the aggressive one-day retention")
	retentionDays := flag.Int("retention-days", 0, "override abandoned-row retention in days")
	skipActive := flag.Bool("skip-active", false, "purge old rows only, do not touch cached matches")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall run deadline")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file, reading environment directly")
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid REDIS_URL", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	var store matchstore.Store
	if cfg.DatabaseURL != "" {
		pg, err := matchstore.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres init error", zap.Error(err))
		}
		store = pg
	} else {
		// without a database there is nothing durable to purge, but the
		// cache sweep still matters
		store = matchstore.NewMemoryStore()
	}
	defer store.Close()

	sw := sweeper.New(
		match.NewEngine(),
		matchcache.New(rdb, cfg.MatchCacheTTL),
		store,
		metrics.New(rdb),
		cfg.MatchTimeout,
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var report *sweeper.Report
	if *emergency {
		report, err = sw.EmergencyCleanup(ctx)
	} else {
		days := cfg.AbandonedRetentionDays
		if *retentionDays > 0 {
			days = *retentionDays
		}
		report, err = sw.Sweep(ctx, sweeper.Options{
			AbandonedRetentionDays: days,
			SweepActive:            !*skipActive,
		})
	}
	if err != nil {
		logger.Fatal("sweep failed", zap.Error(err))
	}
	fmt.Printf("expired %d active matches, deleted %d abandoned rows\n",
		report.ExpiredActiveMatches, report.DeletedAbandonedMatches)
}
