package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	appcfg "github.com/Delvin233/rps-onchain-sub000/internal/config"
	"github.com/Delvin233/rps-onchain-sub000/internal/httpapi"
	"github.com/Delvin233/rps-onchain-sub000/internal/manager"
	"github.com/Delvin233/rps-onchain-sub000/internal/match"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchcache"
	"github.com/Delvin233/rps-onchain-sub000/internal/matchstore"
	"github.com/Delvin233/rps-onchain-sub000/internal/metrics"
	"github.com/Delvin233/rps-onchain-sub000/internal/msgcat"
	"github.com/Delvin233/rps-onchain-sub000/internal/obslog"
)

func main() {
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
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatal("redis unreachable", zap.Error(err))
	}
	cancel()

	var store matchstore.Store
	if cfg.DatabaseURL != "" {
		pg, err := matchstore.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres init error", zap.Error(err))
		}
		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.EnsureSchema(schemaCtx); err != nil {
			cancel()
			logger.Fatal("schema init error", zap.Error(err))
		}
		cancel()
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, terminal matches are kept in memory only")
		store = matchstore.NewMemoryStore()
	}
	defer store.Close()

	cat, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		logger.Fatal("message catalog error", zap.Error(err))
	}

	mgr := manager.New(
		match.NewEngine(),
		matchcache.New(rdb, cfg.MatchCacheTTL),
		store,
		metrics.New(rdb),
		cfg.MatchTimeout,
	)

	srv := &fasthttp.Server{
		Handler:     httpapi.New(mgr, cat).Handler(),
		Name:        "rps-match-engine",
		ReadTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	if err := srv.Shutdown(); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close error", zap.Error(err))
	}
}
