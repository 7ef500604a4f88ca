// Package kbase tracks one knowledge base's document list on the client:
// uploads, the processing status of each document, and the placeholders that
// stand in for documents the backend has accepted but not yet described.
package kbase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// catchUpDelay is how long to wait before re-fetching after an upload whose
// success response carried no document descriptor. Some binary and office
// formats only produce one once the backend catches up.
const catchUpDelay = 1500 * time.Millisecond

// Backend is the slice of the gateway the view needs.
type Backend interface {
	GetKnowledgeBase(ctx context.Context, id string) (*gateway.KnowledgeBase, error)
	UploadKBDocument(ctx context.Context, kbID, filename string, file io.Reader) (*gateway.UploadReceipt, error)
}

// View is the client-side state of one knowledge base. Server truth and local
// placeholders are kept apart so a refresh can replace the former wholesale
// without losing the latter.
type View struct {
	backend Backend
	log     *slog.Logger

	// afterFunc schedules the delayed catch-up refresh; replaced in tests.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu           sync.Mutex
	kb           gateway.KnowledgeBase
	placeholders []gateway.Document
	uploading    bool
}

// NewView wraps an already-fetched knowledge base.
func NewView(backend Backend, kb gateway.KnowledgeBase) *View {
	return &View{
		backend:   backend,
		kb:        kb,
		log:       slog.Default(),
		afterFunc: time.AfterFunc,
	}
}

// Load fetches a knowledge base by id and returns its view.
func Load(ctx context.Context, backend Backend, id string) (*View, error) {
	kb, err := backend.GetKnowledgeBase(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewView(backend, *kb), nil
}

// KnowledgeBase returns the knowledge base with its effective document list.
func (v *View) KnowledgeBase() gateway.KnowledgeBase {
	v.mu.Lock()
	defer v.mu.Unlock()
	kb := v.kb
	kb.Documents = v.documentsLocked()
	return kb
}

// Documents returns the server-known documents plus any placeholders the
// server has not yet reported.
func (v *View) Documents() []gateway.Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.documentsLocked()
}

func (v *View) documentsLocked() []gateway.Document {
	out := make([]gateway.Document, 0, len(v.kb.Documents)+len(v.placeholders))
	out = append(out, v.kb.Documents...)
	out = append(out, v.placeholders...)
	return out
}

// AnyProcessing reports whether any document is still in processing state.
// This is the polling predicate: polling runs exactly while it holds.
func (v *View) AnyProcessing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range v.kb.Documents {
		if d.Status == gateway.StatusProcessing {
			return true
		}
	}
	return len(v.placeholders) > 0
}

// Refresh replaces the server-known state with the authoritative view and
// drops placeholders the server now reports under their real identity.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	id := v.kb.ID
	v.mu.Unlock()

	kb, err := v.backend.GetKnowledgeBase(ctx, id)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.kb = *kb
	v.placeholders = prunePlaceholders(v.placeholders, kb.Documents)
	return nil
}

// prunePlaceholders keeps only placeholders whose filename the server does
// not yet know. A placeholder's id is client generated, so filename is the
// only identity the two sides share.
func prunePlaceholders(placeholders, serverDocs []gateway.Document) []gateway.Document {
	known := make(map[string]bool, len(serverDocs))
	for _, d := range serverDocs {
		known[d.Filename] = true
	}
	out := placeholders[:0:0]
	for _, p := range placeholders {
		if !known[p.Filename] {
			out = append(out, p)
		}
	}
	return out
}

// Uploading reports whether a knowledge-base upload is currently in flight.
func (v *View) Uploading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.uploading
}
