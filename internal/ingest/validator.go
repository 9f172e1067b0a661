package ingest

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength    = 255
	maxTitleLength = 1024
	maxBodyLength  = 1048576
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Validate checks an event before it reaches the database. Deletions only
// need an id.
func Validate(ev *Event) error {
	errs := make(map[string]string)

	id := strings.TrimSpace(ev.DocumentID)
	switch {
	case id == "":
		errs["document_id"] = "document id is required"
	case len(id) > maxIDLength:
		errs["document_id"] = fmt.Sprintf("document id must be at most %d bytes", maxIDLength)
	case id != ev.DocumentID:
		errs["document_id"] = "document id must not have surrounding whitespace"
	}
	if ev.Deleted {
		return validationResult(errs)
	}

	if !utf8.ValidString(ev.Title) || !utf8.ValidString(ev.Body) {
		errs["encoding"] = "title and body must be valid UTF-8"
	}
	if len(ev.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d bytes", maxTitleLength)
	}
	body := strings.TrimSpace(ev.Body)
	if body == "" && strings.TrimSpace(ev.Title) == "" {
		errs["body"] = "title or body is required"
	} else if len(body) > maxBodyLength {
		errs["body"] = fmt.Sprintf("body must be at most %d bytes", maxBodyLength)
	}
	return validationResult(errs)
}

func validationResult(errs map[string]string) error {
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
