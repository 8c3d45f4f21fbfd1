package chat

import "time"

// MessageType identifies who authored a turn.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
)

// ErrorReply is shown in place of an assistant turn when the backend round trip fails.
const ErrorReply = "Error processing your request."

// VoicePrefix marks user turns that were spoken rather than typed.
const VoicePrefix = "🎤 "

// Message is a single immutable turn in a session.
type Message struct {
	ID        string      `json:"id" yaml:"id"`
	Type      MessageType `json:"type" yaml:"type"`
	Content   string      `json:"content" yaml:"content"`
	AudioURL  string      `json:"audioUrl,omitempty" yaml:"audioUrl,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// IsUser reports whether the message was sent by the user.
func (m Message) IsUser() bool {
	return m.Type == MessageUser
}
