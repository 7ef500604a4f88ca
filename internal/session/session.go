// Package session holds the in-memory view of one open conversation: its
// message history, its session-uploaded files, and the provisional entries
// created by optimistic sends and uploads. All state changes are expressed as
// pure merges of previous state plus an incoming delta, so interleaved
// completions (a poll refresh racing a send confirmation, say) never produce
// duplicate or lost entries.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

var (
	// ErrEmptyMessage is returned when a send's text is empty after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrSendInFlight rejects a second send while one is outstanding.
	ErrSendInFlight = errors.New("a message is already being sent")
	// ErrUploadInFlight rejects a second session upload while one is outstanding.
	ErrUploadInFlight = errors.New("an upload is already in progress")
	// ErrClosed is returned when an operation completes after the session was
	// discarded (the user navigated to another conversation).
	ErrClosed = errors.New("session closed")
)

// EntryState tags a message as locally created or server confirmed.
type EntryState int

const (
	// Provisional entries exist only until reconciled or rolled back.
	Provisional EntryState = iota
	Confirmed
)

// Message is a chat message plus its reconciliation state.
type Message struct {
	gateway.Message
	State EntryState

	// serverID records whether ID was issued by the backend. Entries that
	// still carry a client-generated id are paired with their server
	// counterpart by (speaker, text) on the next refresh.
	serverID bool
}

// Backend is the slice of the gateway the session needs.
type Backend interface {
	GetConversation(ctx context.Context, id string) (*gateway.ConversationDetail, error)
	ListSessionFiles(ctx context.Context, conversationID string) ([]gateway.FileRef, error)
	SendMessage(ctx context.Context, conversationID, query string) (*gateway.ChatReply, error)
	UploadSessionFile(ctx context.Context, conversationID, filename string, file io.Reader) (*gateway.FileRef, error)
}

// Session is the authoritative client-side view of one conversation. It is
// safe for use from multiple goroutines; completions that arrive after Close
// are discarded rather than applied.
type Session struct {
	backend Backend
	log     *slog.Logger

	mu        sync.Mutex
	conv      gateway.ConversationSummary
	messages  []Message
	files     []gateway.FileRef
	sending   bool
	uploading bool
	closed    bool
}

// New creates a Session over an already-known conversation.
func New(backend Backend, conv gateway.ConversationSummary) *Session {
	return &Session{
		backend: backend,
		conv:    conv,
		log:     slog.Default(),
	}
}

// Open loads a conversation by id and returns a hydrated Session. The detail
// and the session-file list are fetched concurrently.
func Open(ctx context.Context, backend Backend, id string) (*Session, error) {
	var (
		detail *gateway.ConversationDetail
		files  []gateway.FileRef
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		detail, err = backend.GetConversation(gCtx, id)
		return err
	})
	g.Go(func() error {
		var err error
		files, err = backend.ListSessionFiles(gCtx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := New(backend, detail.ConversationSummary)
	for _, m := range detail.Messages {
		s.messages = confirmMessage(s.messages, m, true)
	}
	for _, f := range files {
		s.files = mergeFile(s.files, f)
	}
	for _, f := range detail.UploadedFiles {
		s.files = mergeFile(s.files, f)
	}
	return s, nil
}

// Conversation returns the conversation summary this session is bound to.
func (s *Session) Conversation() gateway.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// Messages returns a copy of the current message list.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Files returns a copy of the session-uploaded file list.
func (s *Session) Files() []gateway.FileRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.FileRef, len(s.files))
	copy(out, s.files)
	return out
}

// Refresh re-fetches the authoritative conversation state and merges it in.
// Merging is idempotent, so a refresh racing a send or upload completion is
// harmless.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	id := s.conv.ID
	s.mu.Unlock()

	detail, err := s.backend.GetConversation(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conv.ID != id {
		return ErrClosed
	}
	s.conv = detail.ConversationSummary
	for _, m := range detail.Messages {
		s.messages = confirmMessage(s.messages, m, true)
	}
	for _, f := range detail.UploadedFiles {
		s.files = mergeFile(s.files, f)
	}
	return nil
}

// Close discards the session. Outstanding sends and uploads may still finish
// their network calls, but their results are dropped instead of merged.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
