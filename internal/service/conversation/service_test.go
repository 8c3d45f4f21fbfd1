package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/azmth/internal/model/chat"
	"github.com/zhouzirui/azmth/internal/model/speech"
	chatservice "github.com/zhouzirui/azmth/internal/service/chat"
)

type call struct {
	path           string
	conversationID string
	text           string
}

type fakeBackend struct {
	calls []call
	reply speech.Reply
	err   error
}

func (f *fakeBackend) StartConversation(_ context.Context, msg speech.Outgoing) (speech.Reply, error) {
	f.calls = append(f.calls, call{path: "start", text: msg.Text})
	return f.reply, f.err
}

func (f *fakeBackend) ContinueConversation(_ context.Context, id string, msg speech.Outgoing) (speech.Reply, error) {
	f.calls = append(f.calls, call{path: "continue", conversationID: id, text: msg.Text})
	return f.reply, f.err
}

func TestSendStartsThenContinues(t *testing.T) {
	ctx := context.Background()
	store := chatservice.NewService()
	session := store.CreateSession(ctx)
	backend := &fakeBackend{reply: speech.Reply{ConversationID: "c1", Content: "hi"}}
	svc := NewService(backend, store, nil)

	msg, err := svc.Send(ctx, session.ID, speech.Outgoing{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, chat.MessageAssistant, msg.Type)
	assert.Equal(t, "hi", msg.Content)

	got, _ := store.GetSession(ctx, session.ID)
	assert.Equal(t, "c1", got.ConversationID)

	backend.reply = speech.Reply{ConversationID: "other", Content: "fine"}
	msg, err = svc.Send(ctx, session.ID, speech.Outgoing{Text: "how are you"})
	require.NoError(t, err)
	assert.Equal(t, "fine", msg.Content)

	require.Len(t, backend.calls, 2)
	assert.Equal(t, call{path: "start", text: "hello"}, backend.calls[0])
	assert.Equal(t, call{path: "continue", conversationID: "c1", text: "how are you"}, backend.calls[1])

	got, _ = store.GetSession(ctx, session.ID)
	assert.Equal(t, "c1", got.ConversationID)
}

func TestSendRecoversBackendFailure(t *testing.T) {
	ctx := context.Background()
	store := chatservice.NewService()
	session := store.CreateSession(ctx)
	svc := NewService(&fakeBackend{err: errors.New("connection refused")}, store, nil)

	msg, err := svc.Send(ctx, session.ID, speech.Outgoing{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, chat.ErrorReply, msg.Content)

	got, _ := store.GetSession(ctx, session.ID)
	assert.False(t, got.HasConversation())
}

func TestSendWithoutConversationIDKeepsStarting(t *testing.T) {
	ctx := context.Background()
	store := chatservice.NewService()
	session := store.CreateSession(ctx)
	backend := &fakeBackend{reply: speech.Reply{Content: "echo"}}
	svc := NewService(backend, store, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.Send(ctx, session.ID, speech.Outgoing{Text: "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, "start", backend.calls[0].path)
	assert.Equal(t, "start", backend.calls[1].path)
}

func TestSendUnknownSession(t *testing.T) {
	svc := NewService(&fakeBackend{}, chatservice.NewService(), nil)

	_, err := svc.Send(context.Background(), 5, speech.Outgoing{Text: "x"})
	assert.ErrorIs(t, err, chatservice.ErrSessionNotFound)
}
