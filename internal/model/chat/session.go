package chat

import "time"

// Session is one independent conversation thread.
type Session struct {
	ID             int       `json:"id" yaml:"id"`
	Messages       []Message `json:"messages" yaml:"messages"`
	ConversationID string    `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`
}

// HasConversation reports whether the remote side has assigned a conversation id.
func (s Session) HasConversation() bool {
	return s.ConversationID != ""
}

// Clone returns a copy whose message slice does not alias the receiver's.
func (s Session) Clone() Session {
	cloned := s
	cloned.Messages = append([]Message(nil), s.Messages...)
	return cloned
}
