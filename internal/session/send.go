package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmezapi/prototipo-cassa-gpt/internal/gateway"
)

// Send posts a chat message. The trimmed text is inserted immediately as a
// provisional user message; on success the provisional entry is confirmed and
// the AI reply appended, on failure the provisional entry is rolled back and
// the error returned for display. At most one send may be in flight per
// session; a second attempt is rejected synchronously with ErrSendInFlight,
// not queued.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	provisional := gateway.Message{
		ID:        uuid.New().String(),
		Speaker:   gateway.SpeakerUser,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.sending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sending = true
	conversationID := s.conv.ID
	s.messages = appendProvisional(s.messages, provisional)
	s.mu.Unlock()

	reply, err := s.backend.SendMessage(ctx, conversationID, text)

	return s.finishSend(provisional, reply, err)
}

func (s *Session) finishSend(provisional gateway.Message, reply *gateway.ChatReply, err error) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false

	if s.closed {
		// Late completion for a discarded conversation; never touch state
		// that now belongs to another view.
		return nil, ErrClosed
	}

	if err != nil {
		s.messages = dropProvisional(s.messages, provisional.ID)
		return nil, err
	}

	confirmedUser := provisional // server echoes no id for the user message
	s.messages = confirmMessage(s.messages, confirmedUser, false)

	ai := gateway.Message{
		ID:        uuid.New().String(),
		Speaker:   gateway.SpeakerAI,
		Text:      reply.Response,
		CreatedAt: time.Now().UTC(),
		Sources:   reply.Sources,
	}
	s.messages = confirmMessage(s.messages, ai, false)

	for i := len(s.messages) - 1; i >= 0; i-- {
		if sameIdentity(s.messages[i], ai) {
			m := s.messages[i]
			return &m, nil
		}
	}
	m := Message{Message: ai, State: Confirmed}
	return &m, nil
}

// Sending reports whether a send is currently in flight. Callers use it to
// disable their input while one is outstanding.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}
