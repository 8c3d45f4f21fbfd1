package ai

import (
	"context"
	"fmt"

	"github.com/zhouzirui/azmth/internal/model/speech"
)

// Echo acknowledges every turn without a model. It is the local endpoint's
// responder when no Ark credentials are configured.
type Echo struct{}

// ReplyText acknowledges a typed message.
func (Echo) ReplyText(_ context.Context, message string) (string, error) {
	return fmt.Sprintf("Azmth: I received your message: \"%s\"", message), nil
}

// ReplyVoice acknowledges a voice message.
func (Echo) ReplyVoice(_ context.Context, transcript string, upload speech.Upload) (string, error) {
	return fmt.Sprintf("Azmth: I received your voice message. The transcript says: \"%s\". The audio file %s (%d bytes) was successfully processed.",
		transcript, upload.Filename, upload.Size), nil
}
