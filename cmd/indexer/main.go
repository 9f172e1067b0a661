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
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/ingest"
	ingesthandler "github.com/Adithya-Monish-Kumar-K/querycore/internal/ingest/handler"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	loadPostgres := flag.Bool("load-postgres", false, "index every PENDING document from postgres, then exit")
	compactDest := flag.String("compact", "", "write a compacted copy of the database to this path, then exit")
	singleFile := flag.Bool("single-file", false, "with -compact, write one segment file instead of a directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *compactDest != "" {
		if err := compact(cfg.Database, *compactDest, *singleFile); err != nil {
			slog.Error("compaction failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting indexer service", "database", cfg.Database.Path)
	db, err := database.OpenWritable(cfg.Database.Path, database.CreateOrOpen, database.FlagsFor(cfg.Database))
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ix, err := ingest.New(db, cfg.Indexer, cfg.Database.Slots)
	if err != nil {
		slog.Error("failed to configure indexer", "error", err)
		os.Exit(1)
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		ix.SetMetrics(m)
		shutdownMetrics := m.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	checker.Register("database", health.DatabaseCheck(ix.Snapshot))

	var recorder ingest.Recorder
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		if *loadPostgres {
			slog.Error("postgres is required for a bulk load", "error", err)
			os.Exit(1)
		}
		slog.Warn("postgres unavailable, document status will not be recorded", "error", err)
	} else {
		defer pg.Close()
		store := ingest.NewStore(pg.DB)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare documents table", "error", err)
			os.Exit(1)
		}
		ix.SetStatusRecorder(store)
		recorder = store
		checker.Register("postgres", health.PingCheck(pg, false))

		if *loadPostgres {
			stats, err := ingest.NewLoader(ix, store, cfg.Indexer.CommitBatch).Run(ctx)
			if err != nil {
				slog.Error("bulk load failed", "error", err, "seen", stats.Seen, "commits", stats.Commits)
				os.Exit(1)
			}
			return
		}
	}

	dlq := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DeadLetter)
	defer dlq.Close()
	ix.SetDeadLetter(dlq)

	ingestProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer ingestProducer.Close()
	server := serveAPI(cfg, ingest.NewSubmitter(recorder, ingestProducer), checker, m)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, ix.HandleMessage())
	defer consumer.Close()
	consumer.SetCheckpoint(ix.Commit, cfg.Indexer.CommitBatch, cfg.Indexer.CommitInterval)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
		"commit_batch", cfg.Indexer.CommitBatch,
		"commit_interval", cfg.Indexer.CommitInterval,
	)

	if err := consumer.Start(ctx); err != nil {
		slog.Error("final commit failed", "error", err)
	}

	docs, rev := ix.Snapshot()
	slog.Info("indexer service stopped", "revision", rev, "docs", docs)
}

// serveAPI starts the document submission API in the background.
func serveAPI(cfg *config.Config, sub *ingest.Submitter, checker *health.Checker, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	ingesthandler.New(sub).Routes(mux)
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
		slog.Info("ingest api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()
	return server
}

func compact(cfg config.DatabaseConfig, dest string, singleFile bool) error {
	db, err := database.Open(cfg.Path, database.FlagsFor(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	var flags database.CompactFlags
	if singleFile {
		flags |= database.CompactSingleFile
	}
	slog.Info("compacting database", "source", cfg.Path, "dest", dest, "docs", db.DocCount())
	return db.Compact(dest, flags)
}
