package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/chat"
	"github.com/zhouzirui/azmth/internal/model/speech"
	chatservice "github.com/zhouzirui/azmth/internal/service/chat"
)

// Backend is a conversation API: the remote third-party service or the local endpoint.
type Backend interface {
	StartConversation(ctx context.Context, msg speech.Outgoing) (speech.Reply, error)
	ContinueConversation(ctx context.Context, conversationID string, msg speech.Outgoing) (speech.Reply, error)
}

// Store is the subset of the session store the service relies on.
type Store interface {
	GetSession(ctx context.Context, sessionID int) (chat.Session, error)
	SetConversationID(ctx context.Context, sessionID int, conversationID string) (bool, error)
}

var _ Store = (*chatservice.Service)(nil)

// Service routes a session's turns to the start or continue path.
type Service struct {
	backend Backend
	store   Store
	logger  *zap.Logger
}

// NewService creates the conversation router.
func NewService(backend Backend, store Store, logger *zap.Logger) *Service {
	return &Service{
		backend: backend,
		store:   store,
		logger:  logging.OrNop(logger).Named("conversation"),
	}
}

// Send delivers msg for sessionID and returns the assistant turn to append.
// Backend failures are recovered into the fixed error reply; only an unknown
// session is reported as an error.
func (s *Service) Send(ctx context.Context, sessionID int, msg speech.Outgoing) (chat.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("send to session %d: %w", sessionID, err)
	}

	var reply speech.Reply
	if session.HasConversation() {
		reply, err = s.backend.ContinueConversation(ctx, session.ConversationID, msg)
	} else {
		reply, err = s.backend.StartConversation(ctx, msg)
	}
	if err != nil {
		s.logger.Warn("conversation request failed",
			zap.Int("session", sessionID),
			zap.Bool("continue", session.HasConversation()),
			zap.Error(err))
		return assistant(chat.ErrorReply), nil
	}

	if !session.HasConversation() && reply.ConversationID != "" {
		if _, err := s.store.SetConversationID(ctx, sessionID, reply.ConversationID); err != nil && !errors.Is(err, chatservice.ErrSessionNotFound) {
			s.logger.Warn("failed to record conversation id", zap.Error(err))
		}
	}

	return assistant(reply.Content), nil
}

func assistant(content string) chat.Message {
	return chat.Message{Type: chat.MessageAssistant, Content: content}
}
