package speech

// Outgoing is the payload of one user turn sent to a conversation backend.
type Outgoing struct {
	Text  string
	Audio *Clip
}

// HasAudio reports whether a recorded clip accompanies the turn.
func (o Outgoing) HasAudio() bool {
	return !o.Audio.Empty()
}

// Reply is the normalized backend answer.
type Reply struct {
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content"`
}

// Upload describes a voice file received by the local chat endpoint.
type Upload struct {
	Filename string
	Size     int64
	MimeType string
}
