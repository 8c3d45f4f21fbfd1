package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/azmth/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidMessage  = errors.New("message type must be user or assistant")
)

// Listener is notified with the replaced session value after every mutation.
type Listener func(chat.Session)

// Service encapsulates conversation state management.
type Service struct {
	mu         sync.RWMutex
	nextID     int
	sessions   map[int]chat.Session
	currentID  int
	selectedID int
	listeners  []Listener
}

// NewService bootstraps the in-memory session store.
func NewService() *Service {
	return &Service{
		nextID:   1,
		sessions: make(map[int]chat.Session),
	}
}

// Subscribe registers fn for change notifications. Listeners run after the
// store lock is released, in registration order.
func (s *Service) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// CreateSession allocates the next session and makes it both current and selected.
func (s *Service) CreateSession(_ context.Context) chat.Session {
	s.mu.Lock()
	session := chat.Session{
		ID:        s.nextID,
		Messages:  make([]chat.Message, 0, 16),
		CreatedAt: time.Now().UTC(),
	}
	s.nextID++
	s.sessions[session.ID] = session
	s.currentID = session.ID
	s.selectedID = session.ID
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, session)
	return session.Clone()
}

// AppendMessage appends a message to the session history. The session value is
// replaced as a whole so readers never observe a partially updated slice.
func (s *Service) AppendMessage(_ context.Context, sessionID int, message chat.Message) (chat.Message, error) {
	if message.Type != chat.MessageUser && message.Type != chat.MessageAssistant {
		return chat.Message{}, ErrInvalidMessage
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return chat.Message{}, ErrSessionNotFound
	}

	next := session.Clone()
	next.Messages = append(next.Messages, message)
	s.sessions[sessionID] = next
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, next)
	return message, nil
}

// SetConversationID records the remote correlation handle. The first non-empty
// value wins; later writes and empty values are ignored. The returned bool
// reports whether the id was stored by this call.
func (s *Service) SetConversationID(_ context.Context, sessionID int, conversationID string) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false, ErrSessionNotFound
	}
	if conversationID == "" || session.HasConversation() {
		s.mu.Unlock()
		return false, nil
	}

	next := session.Clone()
	next.ConversationID = conversationID
	s.sessions[sessionID] = next
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, next)
	return true, nil
}

// SelectSession changes the session shown to the user.
func (s *Service) SelectSession(sessionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.selectedID = sessionID
	return nil
}

// SetCurrent changes the session that receives sends.
func (s *Service) SetCurrent(sessionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.currentID = sessionID
	return nil
}

// Current returns the session that receives sends.
func (s *Service) Current() (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[s.currentID]
	return session.Clone(), ok
}

// Selected returns the session being viewed.
func (s *Service) Selected() (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[s.selectedID]
	return session.Clone(), ok
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID int) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(session.Messages))
	copy(copied, session.Messages)
	return copied, nil
}

// List returns every session ordered by id.
func (s *Service) List() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore loads previously persisted sessions. Existing sessions with the same
// id are replaced and the id counter moves past the highest restored id. The
// newest restored session becomes current and selected when none is set.
func (s *Service) Restore(sessions []chat.Session) {
	if len(sessions) == 0 {
		return
	}

	s.mu.Lock()
	for _, session := range sessions {
		s.sessions[session.ID] = session.Clone()
		if session.ID >= s.nextID {
			s.nextID = session.ID + 1
		}
	}
	if _, ok := s.sessions[s.currentID]; !ok {
		s.currentID = s.nextID - 1
	}
	if _, ok := s.sessions[s.selectedID]; !ok {
		s.selectedID = s.currentID
	}
	s.mu.Unlock()
}

func (s *Service) notify(listeners []Listener, session chat.Session) {
	for _, fn := range listeners {
		fn(session.Clone())
	}
}
