package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/postgres"
)

// Schema is the source table the bulk loader reads and the indexer
// reports status into.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	body        TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'PENDING',
	deleted     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	indexed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS documents_status_idx ON documents (status);
`

// Store reads source documents from, and writes status into, Postgres.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the documents table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating documents schema: %w", postgres.Classify(err))
	}
	return nil
}

// UpdateStatus sets status and indexed_at on every listed document.
func (s *Store) UpdateStatus(ctx context.Context, ids []string, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, indexed_at = NOW() WHERE id = ANY($2)`,
		status, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("updating %d documents to %s: %w", len(ids), status, postgres.Classify(err))
	}
	return nil
}

// ForEachPending streams every document not yet INDEXED, oldest first.
// created_at goes into the "created_at" numeric value as Unix seconds and
// source into the "source" key.
func (s *Store) ForEachPending(ctx context.Context, fn func(Event) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, source, deleted, created_at
		   FROM documents
		  WHERE status <> $1
		  ORDER BY created_at, id`,
		StatusIndexed,
	)
	if err != nil {
		return fmt.Errorf("querying pending documents: %w", postgres.Classify(err))
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev        Event
			source    string
			createdAt time.Time
		)
		if err := rows.Scan(&ev.DocumentID, &ev.Title, &ev.Body, &source, &ev.Deleted, &createdAt); err != nil {
			return fmt.Errorf("scanning document row: %w", postgres.Classify(err))
		}
		ev.IngestedAt = createdAt
		ev.Numeric = map[string]float64{"created_at": float64(createdAt.Unix())}
		if source != "" {
			ev.Keys = map[string]string{"source": source}
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return postgres.Classify(rows.Err())
}

// Save records ev as PENDING, inserting the row or overwriting an earlier
// version of it. A deletion keeps the row and sets its deleted flag.
func (s *Store) Save(ctx context.Context, ev Event) error {
	var err error
	if ev.Deleted {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (id, deleted, status) VALUES ($1, TRUE, $2)
			 ON CONFLICT (id) DO UPDATE SET deleted = TRUE, status = EXCLUDED.status, indexed_at = NULL`,
			ev.DocumentID, StatusPending,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (id, title, body, source, status) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET
				title = EXCLUDED.title, body = EXCLUDED.body, source = EXCLUDED.source,
				deleted = FALSE, status = EXCLUDED.status, indexed_at = NULL`,
			ev.DocumentID, ev.Title, ev.Body, ev.Keys["source"], StatusPending,
		)
	}
	if err != nil {
		return fmt.Errorf("saving document %s: %w", ev.DocumentID, postgres.Classify(err))
	}
	return nil
}
