package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	model "github.com/zhouzirui/azmth/internal/model/chat"
	chat "github.com/zhouzirui/azmth/internal/service/chat"
)

func TestServiceCreateSessionIDsIncrease(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	prev := 0
	for i := 0; i < 5; i++ {
		session := svc.CreateSession(ctx)
		if session.ID <= prev {
			t.Fatalf("session id %d not greater than %d", session.ID, prev)
		}
		prev = session.ID
	}

	current, ok := svc.Current()
	if !ok || current.ID != prev {
		t.Fatalf("expected current session %d, got %+v", prev, current)
	}
	selected, ok := svc.Selected()
	if !ok || selected.ID != prev {
		t.Fatalf("expected selected session %d, got %+v", prev, selected)
	}
}

func TestServiceAppendMessageKeepsOrder(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session := svc.CreateSession(ctx)

	contents := []string{"one", "two", "three", "four"}
	for i, content := range contents {
		typ := model.MessageUser
		if i%2 == 1 {
			typ = model.MessageAssistant
		}
		if _, err := svc.AppendMessage(ctx, session.ID, model.Message{Type: typ, Content: content}); err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	messages, err := svc.LoadTranscript(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(messages))
	}
	for i, msg := range messages {
		if msg.Content != contents[i] {
			t.Fatalf("message %d: got %q want %q", i, msg.Content, contents[i])
		}
		if msg.ID == "" || msg.Timestamp.IsZero() {
			t.Fatalf("message %d missing id or timestamp", i)
		}
	}
}

func TestServiceAppendMessageUnknownSession(t *testing.T) {
	svc := chat.NewService()

	_, err := svc.AppendMessage(context.Background(), 42, model.Message{Type: model.MessageUser, Content: "hi"})
	if !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceAppendMessageRejectsUnknownType(t *testing.T) {
	svc := chat.NewService()
	session := svc.CreateSession(context.Background())

	_, err := svc.AppendMessage(context.Background(), session.ID, model.Message{Type: "system", Content: "hi"})
	if !errors.Is(err, chat.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestServiceSetConversationIDFirstWriteWins(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session := svc.CreateSession(ctx)

	stored, err := svc.SetConversationID(ctx, session.ID, "")
	if err != nil || stored {
		t.Fatalf("empty id should be ignored, stored=%v err=%v", stored, err)
	}

	stored, err = svc.SetConversationID(ctx, session.ID, "c1")
	if err != nil || !stored {
		t.Fatalf("expected c1 stored, stored=%v err=%v", stored, err)
	}

	stored, err = svc.SetConversationID(ctx, session.ID, "c2")
	if err != nil || stored {
		t.Fatalf("second id should be ignored, stored=%v err=%v", stored, err)
	}

	got, err := svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.ConversationID != "c1" {
		t.Fatalf("unexpected conversation id %q", got.ConversationID)
	}
}

func TestServiceSelectAndCurrentAreIndependent(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	first := svc.CreateSession(ctx)
	second := svc.CreateSession(ctx)

	if err := svc.SelectSession(first.ID); err != nil {
		t.Fatalf("SelectSession err: %v", err)
	}

	current, _ := svc.Current()
	selected, _ := svc.Selected()
	if current.ID != second.ID || selected.ID != first.ID {
		t.Fatalf("unexpected current=%d selected=%d", current.ID, selected.ID)
	}

	if err := svc.SetCurrent(99); !errors.Is(err, chat.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceGetSessionIsolatedFromStore(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session := svc.CreateSession(ctx)
	if _, err := svc.AppendMessage(ctx, session.ID, model.Message{Type: model.MessageUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}

	got, _ := svc.GetSession(ctx, session.ID)
	got.Messages[0].Content = "mutated"

	again, _ := svc.GetSession(ctx, session.ID)
	if again.Messages[0].Content != "hello" {
		t.Fatalf("store leaked internal slice: %q", again.Messages[0].Content)
	}
}

func TestServiceSubscribeReceivesWholeSession(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	var mu sync.Mutex
	var seen []int
	svc.Subscribe(func(s model.Session) {
		mu.Lock()
		seen = append(seen, len(s.Messages))
		mu.Unlock()
	})

	session := svc.CreateSession(ctx)
	if _, err := svc.AppendMessage(ctx, session.ID, model.Message{Type: model.MessageUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage err: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Fatalf("unexpected notifications %v", seen)
	}
}

func TestServiceRestoreKeepsIDsMonotonic(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()

	svc.Restore([]model.Session{{ID: 3, ConversationID: "c3"}, {ID: 7}})

	next := svc.CreateSession(ctx)
	if next.ID != 8 {
		t.Fatalf("expected id 8 after restore, got %d", next.ID)
	}
	if got := svc.List(); len(got) != 3 || got[0].ID != 3 || got[2].ID != 8 {
		t.Fatalf("unexpected sessions %+v", got)
	}
}

func TestServiceConcurrentAppends(t *testing.T) {
	svc := chat.NewService()
	ctx := context.Background()
	session := svc.CreateSession(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.AppendMessage(ctx, session.ID, model.Message{Type: model.MessageUser, Content: "x"})
		}()
	}
	wg.Wait()

	messages, _ := svc.LoadTranscript(ctx, session.ID)
	if len(messages) != 50 {
		t.Fatalf("lost updates: got %d messages", len(messages))
	}
}
