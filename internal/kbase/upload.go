package kbase

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// ErrUploadInFlight rejects a second knowledge-base upload while one is
// outstanding. Knowledge-base uploads and session uploads are tracked
// independently; an in-flight state for one never blocks the other.
var ErrUploadInFlight = errors.New("a document upload is already in progress")

// Upload sends a document to the knowledge base. The returned document is the
// representative new entry in processing state: Details[0] of the receipt
// when the backend supplied it, or a synthetic placeholder when the transport
// reported success without a descriptor. The placeholder case schedules
// exactly one delayed re-fetch to pick up the authoritative record.
func (v *View) Upload(ctx context.Context, filename string, file io.Reader) (gateway.Document, error) {
	v.mu.Lock()
	if v.uploading {
		v.mu.Unlock()
		return gateway.Document{}, ErrUploadInFlight
	}
	v.uploading = true
	kbID := v.kb.ID
	v.mu.Unlock()

	receipt, err := v.backend.UploadKBDocument(ctx, kbID, filename, file)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.uploading = false

	if err != nil {
		return gateway.Document{}, err
	}

	if len(receipt.Details) > 0 {
		doc := receipt.Details[0]
		v.kb.Documents = mergeDocument(v.kb.Documents, doc)
		v.placeholders = prunePlaceholders(v.placeholders, v.kb.Documents)
		return doc, nil
	}

	// Accepted, but no descriptor yet. Show progress anyway and let the
	// catch-up refresh reconcile against what the backend actually recorded.
	v.log.Warn("upload accepted without document details; inserting placeholder",
		"kb_id", kbID, "filename", filename)
	placeholder := gateway.Document{
		ID:         uuid.New().String(),
		Filename:   filename,
		Status:     gateway.StatusProcessing,
		UploadedAt: time.Now().UTC(),
	}
	v.placeholders = append(v.placeholders, placeholder)

	refreshCtx := context.WithoutCancel(ctx)
	v.afterFunc(catchUpDelay, func() {
		if err := v.Refresh(refreshCtx); err != nil {
			v.log.Warn("catch-up refresh failed", "kb_id", kbID, "error", err)
		}
	})

	return placeholder, nil
}

// mergeDocument merges a document into list by id; an existing entry is
// updated in place with the newer status, anything else is appended.
func mergeDocument(list []gateway.Document, doc gateway.Document) []gateway.Document {
	for i, have := range list {
		if have.ID == doc.ID {
			out := make([]gateway.Document, len(list))
			copy(out, list)
			out[i] = doc
			return out
		}
	}
	return append(append([]gateway.Document(nil), list...), doc)
}
