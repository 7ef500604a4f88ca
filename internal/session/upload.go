package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// UploadFile attaches a file to this conversation's session. On success the
// returned (filename, docId) pair is merged into the file list and a system
// message noting the filename is appended. Session uploads and knowledge-base
// uploads are tracked independently; within this session only one upload may
// be in flight, and a second attempt is rejected synchronously.
func (s *Session) UploadFile(ctx context.Context, filename string, file io.Reader) (gateway.FileRef, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return gateway.FileRef{}, ErrClosed
	}
	if s.uploading {
		s.mu.Unlock()
		return gateway.FileRef{}, ErrUploadInFlight
	}
	s.uploading = true
	conversationID := s.conv.ID
	s.mu.Unlock()

	ref, err := s.backend.UploadSessionFile(ctx, conversationID, filename, file)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploading = false

	if s.closed {
		return gateway.FileRef{}, ErrClosed
	}
	if err != nil {
		return gateway.FileRef{}, err
	}

	merged := *ref
	if merged.Filename == "" {
		merged.Filename = filename
	}
	if merged.DocID == "" {
		merged.DocID = uuid.New().String()
	}
	s.files = mergeFile(s.files, merged)

	note := gateway.Message{
		ID:        uuid.New().String(),
		Speaker:   gateway.SpeakerSystem,
		Text:      fmt.Sprintf("Processed session file: %s", merged.Filename),
		CreatedAt: time.Now().UTC(),
	}
	s.messages = confirmMessage(s.messages, note, false)

	return merged, nil
}

// Uploading reports whether a session upload is currently in flight.
func (s *Session) Uploading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploading
}
