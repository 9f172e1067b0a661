// Package ingest turns source documents into database documents. Events
// arrive from Kafka or a Postgres bulk load; each is validated, indexed
// with the term generator and made durable by Commit, after which the
// source rows are marked INDEXED or FAILED.
package ingest

import "time"

// Event is the Kafka message payload describing one document to index or
// delete.
type Event struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	// Numeric values are stored sortable-encoded in the slot their name
	// maps to; Keys are stored verbatim, for collapsing.
	Numeric    map[string]float64 `json:"numeric,omitempty"`
	Keys       map[string]string  `json:"keys,omitempty"`
	Deleted    bool               `json:"deleted,omitempty"`
	IngestedAt time.Time          `json:"ingested_at"`
}

// StoredData is what the document data holds, and what the searcher hands
// back for each hit.
type StoredData struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
}

// Document statuses written back to the source table.
const (
	StatusPending = "PENDING"
	StatusIndexed = "INDEXED"
	StatusFailed  = "FAILED"
)
