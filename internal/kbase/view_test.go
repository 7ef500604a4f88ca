package kbase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

var ctx = context.Background()

type fakeBackend struct {
	mu sync.Mutex

	kb        gateway.KnowledgeBase
	getErr    error
	receipt   *gateway.UploadReceipt
	uploadErr error

	// When set, UploadKBDocument signals started and blocks until release
	// is closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeBackend) GetKnowledgeBase(ctx context.Context, id string) (*gateway.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	kb := f.kb
	kb.Documents = append([]gateway.Document(nil), f.kb.Documents...)
	return &kb, nil
}

func (f *fakeBackend) UploadKBDocument(ctx context.Context, kbID, filename string, file io.Reader) (*gateway.UploadReceipt, error) {
	f.mu.Lock()
	started, release := f.started, f.release
	receipt, err := f.receipt, f.uploadErr
	f.mu.Unlock()

	if started != nil {
		close(started)
		<-release
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func newView(backend *fakeBackend) *View {
	return NewView(backend, backend.kb)
}

func TestAnyProcessingPredicate(t *testing.T) {
	backend := &fakeBackend{kb: gateway.KnowledgeBase{
		ID: "kb-1",
		Documents: []gateway.Document{
			{ID: "d1", Filename: "a.pdf", Status: gateway.StatusCompleted},
			{ID: "d2", Filename: "b.pdf", Status: gateway.StatusProcessing},
		},
	}}
	v := newView(backend)

	if !v.AnyProcessing() {
		t.Fatal("predicate false with a processing document")
	}

	// The last processing document completes; the next evaluation must say
	// stop.
	backend.mu.Lock()
	backend.kb.Documents[1].Status = gateway.StatusCompleted
	backend.mu.Unlock()
	if err := v.Refresh(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if v.AnyProcessing() {
		t.Error("predicate still true after all documents completed")
	}
}

func TestUploadMergesFirstDetail(t *testing.T) {
	backend := &fakeBackend{
		kb: gateway.KnowledgeBase{ID: "kb-1"},
		receipt: &gateway.UploadReceipt{
			ProcessedCount: 1,
			Details: []gateway.Document{
				{ID: "doc-7", Filename: "notes.md", Status: gateway.StatusProcessing},
			},
		},
	}
	v := newView(backend)

	doc, err := v.Upload(ctx, "notes.md", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.ID != "doc-7" || doc.Status != gateway.StatusProcessing {
		t.Errorf("doc = %+v, want doc-7 in processing state", doc)
	}
	if got := len(v.Documents()); got != 1 {
		t.Errorf("got %d documents, want 1", got)
	}
	if !v.AnyProcessing() {
		t.Error("predicate false right after upload acceptance")
	}
}

func TestUploadWithoutDetailsSynthesizesPlaceholder(t *testing.T) {
	backend := &fakeBackend{
		kb:      gateway.KnowledgeBase{ID: "kb-1"},
		receipt: &gateway.UploadReceipt{ProcessedCount: 1, Details: []gateway.Document{}},
	}
	v := newView(backend)

	var scheduled []func()
	v.afterFunc = func(d time.Duration, f func()) *time.Timer {
		scheduled = append(scheduled, f)
		return time.NewTimer(time.Hour)
	}

	doc, err := v.Upload(ctx, "report.xlsx", nil)
	if err != nil {
		t.Fatalf("descriptor-less success treated as hard failure: %v", err)
	}
	if doc.ID == "" {
		t.Error("placeholder id is empty, want a generated one")
	}
	if doc.Status != gateway.StatusProcessing || doc.Filename != "report.xlsx" {
		t.Errorf("placeholder = %+v, want processing report.xlsx", doc)
	}

	// Visible immediately, before any poll tick has run.
	docs := v.Documents()
	if len(docs) != 1 || docs[0].Filename != "report.xlsx" {
		t.Fatalf("documents = %+v, want exactly the placeholder", docs)
	}
	if !v.AnyProcessing() {
		t.Error("predicate false while placeholder pending")
	}
	if len(scheduled) != 1 {
		t.Fatalf("scheduled %d delayed re-fetches, want exactly 1", len(scheduled))
	}

	// The backend catches up; the delayed re-fetch replaces the placeholder
	// with the authoritative record.
	backend.mu.Lock()
	backend.kb.Documents = []gateway.Document{
		{ID: "doc-real", Filename: "report.xlsx", Status: gateway.StatusProcessing},
	}
	backend.mu.Unlock()
	scheduled[0]()

	docs = v.Documents()
	if len(docs) != 1 {
		t.Fatalf("got %d documents after catch-up, want 1 (placeholder pruned)", len(docs))
	}
	if docs[0].ID != "doc-real" {
		t.Errorf("document id = %q, want the authoritative doc-real", docs[0].ID)
	}
}

func TestSecondUploadRejectedWhilePending(t *testing.T) {
	backend := &fakeBackend{
		kb: gateway.KnowledgeBase{ID: "kb-1"},
		receipt: &gateway.UploadReceipt{
			Details: []gateway.Document{{ID: "d1", Filename: "a.pdf", Status: gateway.StatusProcessing}},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	v := newView(backend)

	done := make(chan error, 1)
	go func() {
		_, err := v.Upload(ctx, "a.pdf", nil)
		done <- err
	}()
	<-backend.started

	if _, err := v.Upload(ctx, "b.pdf", nil); !errors.Is(err, ErrUploadInFlight) {
		t.Errorf("error = %v, want ErrUploadInFlight", err)
	}

	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
}

func TestRefreshIsIdempotent(t *testing.T) {
	backend := &fakeBackend{kb: gateway.KnowledgeBase{
		ID: "kb-1",
		Documents: []gateway.Document{
			{ID: "d1", Filename: "a.pdf", Status: gateway.StatusCompleted},
		},
	}}
	v := newView(backend)

	for i := 0; i < 3; i++ {
		if err := v.Refresh(ctx); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}
	if got := len(v.Documents()); got != 1 {
		t.Errorf("got %d documents, want 1", got)
	}
}

func TestUploadFailureSurfacedVerbatim(t *testing.T) {
	backend := &fakeBackend{
		kb:        gateway.KnowledgeBase{ID: "kb-1"},
		uploadErr: &gateway.APIError{Status: 404, Message: "KB ID 'kb-1' not found."},
	}
	v := newView(backend)

	_, err := v.Upload(ctx, "a.pdf", nil)
	var apiErr *gateway.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *gateway.APIError", err)
	}
	if len(v.Documents()) != 0 {
		t.Error("failed upload left documents behind")
	}
	if v.Uploading() {
		t.Error("view stuck in uploading state")
	}
}
