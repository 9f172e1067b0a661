package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// Recorder persists submitted events before they are published; *Store
// satisfies it.
type Recorder interface {
	Save(ctx context.Context, ev Event) error
}

// Submitter accepts documents over the API, records them in the source
// table and publishes them to the ingest topic for the indexer.
type Submitter struct {
	recorder Recorder
	producer Publisher
	now      func() time.Time
	logger   *slog.Logger
}

// NewSubmitter builds a Submitter. recorder may be nil, in which case events
// are only published.
func NewSubmitter(recorder Recorder, producer Publisher) *Submitter {
	return &Submitter{
		recorder: recorder,
		producer: producer,
		now:      time.Now,
		logger:   logger.WithComponent("submitter"),
	}
}

// Submit validates ev, records it as PENDING and publishes it keyed by
// document id, so every version of a document lands on one partition in
// order. A publish failure after the row is saved is logged and not
// returned: the row stays PENDING and the next bulk load indexes it.
func (s *Submitter) Submit(ctx context.Context, ev Event) error {
	if err := Validate(&ev); err != nil {
		return err
	}
	ev.IngestedAt = s.now().UTC()
	if s.recorder != nil {
		if err := s.recorder.Save(ctx, ev); err != nil {
			return err
		}
	}
	err := s.producer.Publish(ctx, kafka.Event{Key: ev.DocumentID, Value: ev})
	if err == nil {
		return nil
	}
	if s.recorder == nil {
		return fmt.Errorf("publishing document %s: %w", ev.DocumentID, err)
	}
	s.logger.Error("failed to publish, document left PENDING",
		"doc_id", ev.DocumentID,
		"deleted", ev.Deleted,
		"error", err,
	)
	return nil
}
