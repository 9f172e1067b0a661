package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// Source yields the documents a bulk load indexes.
type Source interface {
	ForEachPending(ctx context.Context, fn func(Event) error) error
}

// LoadStats summarises a bulk load.
type LoadStats struct {
	Seen     int
	Failed   int
	Commits  int
	Duration time.Duration
}

// Loader indexes every pending document from a Source, committing every
// batch documents.
type Loader struct {
	indexer *Indexer
	source  Source
	batch   int
	logger  *slog.Logger
}

func NewLoader(ix *Indexer, src Source, batch int) *Loader {
	if batch <= 0 {
		batch = 1000
	}
	return &Loader{
		indexer: ix,
		source:  src,
		batch:   batch,
		logger:  logger.WithComponent("bulk-loader"),
	}
}

// Run loads until the source is exhausted or ctx is cancelled. Documents
// that fail validation are recorded as FAILED and do not stop the load.
func (l *Loader) Run(ctx context.Context) (LoadStats, error) {
	start := time.Now()
	var stats LoadStats
	err := l.source.ForEachPending(ctx, func(ev Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Seen++
		if err := l.indexer.Index(ev); err != nil {
			stats.Failed++
			l.logger.Warn("skipping document", "doc_id", ev.DocumentID, "error", err)
		}
		if l.indexer.Pending() >= l.batch {
			if err := l.indexer.Commit(ctx); err != nil {
				return err
			}
			stats.Commits++
			l.logger.Info("bulk load progress", "seen", stats.Seen, "failed", stats.Failed)
		}
		return nil
	})
	if err != nil {
		stats.Duration = time.Since(start)
		return stats, err
	}
	if l.indexer.Pending() > 0 {
		if err := l.indexer.Commit(ctx); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		stats.Commits++
	}
	stats.Duration = time.Since(start)
	l.logger.Info("bulk load finished",
		"seen", stats.Seen,
		"failed", stats.Failed,
		"commits", stats.Commits,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return stats, nil
}
