package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/querycore/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "database", cfg.Database.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database.Path, database.FlagsFor(cfg.Database))
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened",
		"docs", db.DocCount(),
		"revision", db.Revision(),
		"shards", db.Shards(),
	)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.DatabaseDocCount.Set(float64(db.DocCount()))
		m.DatabaseRevision.Set(float64(db.Revision()))
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	svc, err := searcher.New(db, cfg.Search, cfg.Database.Slots)
	if err != nil {
		slog.Error("failed to configure searcher", "error", err)
		os.Exit(1)
	}
	svc.SetMetrics(m)

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled",
				"addr", cfg.Redis.Addr,
				"ttl", cfg.Redis.CacheTTL,
			)
		}
	}

	checker := health.NewChecker()
	checker.Register("database", health.DatabaseCheck(func() (uint32, uint64) {
		stats := svc.Stats()
		return stats.DocCount, stats.Revision
	}))
	if redisClient != nil {
		checker.Register("redis", health.PingCheck(redisClient, false))
	} else if cfg.Redis.Enabled {
		checker.Register("redis", health.PingCheck(nil, false))
	}

	h := handler.New(svc, queryCache, m, cfg.Search.DefaultLimit, cfg.Search.MaxResults)

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m, mux)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
