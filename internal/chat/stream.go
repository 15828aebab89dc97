package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var ErrEmptyMessage = errors.New("chat: message is empty")

// MessageStream holds the ordered messages of the open room. History replaces the list
// wholesale; realtime messages are appended as they come, without de-duplication or
// re-sorting.
type MessageStream struct {
	backend  Backend
	notifier Notifier
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	roomID     string
	messages   []ChatMessage
	draft      string
	generation uint64
	observers  []func(ChatMessage)
}

func NewMessageStream(backend Backend, opts ...Option) *MessageStream {
	o := newOptions(opts)
	return &MessageStream{
		backend:  backend,
		notifier: o.notifier,
		logger:   o.logger,
	}
}

// Open makes roomID the active room and clears the list.
func (s *MessageStream) Open(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roomID = roomID
	s.messages = nil
	s.draft = ""
	s.generation++
}

// Close deactivates the stream. Late history responses and appends are dropped.
func (s *MessageStream) Close() {
	s.Open("")
}

// Room returns the active room id.
func (s *MessageStream) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// LoadHistory fetches the messages of roomID and replaces the list with them.
// The response is discarded with ErrStaleResponse if roomID stopped being active
// while the request was out. On failure the list is left as it was.
func (s *MessageStream) LoadHistory(ctx context.Context, roomID, token string) ([]ChatMessage, error) {
	if roomID == "" || token == "" {
		s.notifier.Alert("Error", "Missing room ID or token")
		return nil, ErrMissingCredentials
	}

	s.mu.Lock()
	gen := s.generation
	active := s.roomID == roomID
	s.mu.Unlock()
	if !active {
		return nil, ErrStaleResponse
	}

	messages, err := s.backend.Messages(ctx, roomID, token)

	s.mu.Lock()
	if gen != s.generation || s.roomID != roomID {
		s.mu.Unlock()
		s.logger.Debugw("discarding history for inactive room", "room_id", roomID)
		return nil, ErrStaleResponse
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warnw("loading messages failed", "room_id", roomID, "error", err)
		s.notifier.Alert("Error", "Failed to load messages")
		return nil, err
	}
	s.messages = append([]ChatMessage(nil), messages...)
	out := append([]ChatMessage(nil), s.messages...)
	s.mu.Unlock()

	s.logger.Debugw("history loaded", "room_id", roomID, "count", len(out))
	return out, nil
}

// Append adds msg to the end of the list if it belongs to the active room.
func (s *MessageStream) Append(msg ChatMessage) bool {
	s.mu.Lock()
	if s.roomID == "" || msg.ChatRoomID != s.roomID {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, msg)
	observers := append(([]func(ChatMessage))(nil), s.observers...)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(msg)
	}
	return true
}

// Messages returns a copy of the list.
func (s *MessageStream) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.messages...)
}

// OnAppend registers fn to run after every accepted Append.
func (s *MessageStream) OnAppend(fn func(ChatMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *MessageStream) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *MessageStream) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Send posts text to roomID. Nothing is appended here: the message shows up when its
// insert comes back over the realtime feed. The draft is cleared only on success.
func (s *MessageStream) Send(ctx context.Context, roomID, profileID, text, token string) error {
	content := strings.TrimSpace(text)
	if content == "" || roomID == "" || profileID == "" || token == "" {
		s.notifier.Alert("Error", "Missing input, profile ID, or token")
		if content == "" {
			return ErrEmptyMessage
		}
		return ErrMissingCredentials
	}

	if err := s.backend.PostMessage(ctx, roomID, profileID, content, token); err != nil {
		s.logger.Warnw("sending message failed", "room_id", roomID, "error", err)
		s.notifier.Alert("Error", "Failed to send message")
		return err
	}

	s.mu.Lock()
	s.draft = ""
	s.mu.Unlock()
	return nil
}
