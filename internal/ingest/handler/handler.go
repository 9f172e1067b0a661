package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/ingest"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

const maxRequestBytes = 2 << 20

// Submitter is the part of *ingest.Submitter the handler uses.
type Submitter interface {
	Submit(ctx context.Context, ev ingest.Event) error
}

type Handler struct {
	submitter Submitter
	logger    *slog.Logger
}

func New(s Submitter) *Handler {
	return &Handler{
		submitter: s,
		logger:    logger.WithComponent("ingest-handler"),
	}
}

// Routes registers the document endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/documents", h.Ingest)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.Delete)
}

// SubmitResponse acknowledges an accepted document. Indexing is
// asynchronous; status moves to INDEXED once the document is committed.
type SubmitResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var ev ingest.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&ev); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ev.Deleted = false
	h.submit(w, r, ev)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, ingest.Event{DocumentID: r.PathValue("id"), Deleted: true})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, ev ingest.Event) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if err := h.submitter.Submit(ctx, ev); err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		status := qerrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"doc_id", ev.DocumentID,
			"error", err,
			"status_code", status,
		)
		h.writeError(w, status, "ingestion failed")
		return
	}
	log.Info("document accepted", "doc_id", ev.DocumentID, "deleted", ev.Deleted)
	h.writeJSON(w, http.StatusAccepted, SubmitResponse{
		DocumentID: ev.DocumentID,
		Status:     ingest.StatusPending,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
