package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/azmth/internal/model/speech"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStream struct {
	events chan speech.RecognitionEvent
	mu     sync.Mutex
	sent   [][]byte
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan speech.RecognitionEvent, 8)}
}

func (f *fakeStream) Send(chunk []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, chunk)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) Events() <-chan speech.RecognitionEvent { return f.events }

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

type fakeRecognizer struct {
	stream *fakeStream
	err    error
}

func (f *fakeRecognizer) Open(context.Context) (RecognitionStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func TestRecognitionEventPolicy(t *testing.T) {
	cases := []struct {
		name  string
		event speech.RecognitionEvent
		want  string
	}{
		{
			name:  "interim only",
			event: speech.RecognitionEvent{Results: []speech.RecognitionResult{{Transcript: "hel"}}},
			want:  "hel",
		},
		{
			name: "final wins over interim",
			event: speech.RecognitionEvent{Results: []speech.RecognitionResult{
				{Transcript: "hello ", IsFinal: true},
				{Transcript: "wor"},
			}},
			want: "hello ",
		},
		{
			name: "result index skips settled results",
			event: speech.RecognitionEvent{ResultIndex: 1, Results: []speech.RecognitionResult{
				{Transcript: "old ", IsFinal: true},
				{Transcript: "new"},
			}},
			want: "new",
		},
		{
			name:  "empty",
			event: speech.RecognitionEvent{},
			want:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.event.Transcript())
		})
	}
}

func TestTranscriberTracksLatestTranscript(t *testing.T) {
	stream := newFakeStream()
	tr := NewTranscriber(&fakeRecognizer{stream: stream}, nil)

	var updates []string
	var mu sync.Mutex
	tr.OnUpdate(func(s string) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	})

	require.NoError(t, tr.Start(context.Background()))
	tr.Feed([]byte("chunk"))

	stream.events <- speech.RecognitionEvent{Results: []speech.RecognitionResult{{Transcript: "hi"}}}
	stream.events <- speech.RecognitionEvent{Results: []speech.RecognitionResult{{Transcript: "hi there", IsFinal: true}}}

	assert.Equal(t, "hi there", tr.Stop())
	assert.False(t, tr.Active())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hi", "hi there"}, updates)
	assert.Len(t, stream.sent, 1)
}

func TestTranscriberUnavailable(t *testing.T) {
	tr := NewTranscriber(nil, nil)
	assert.False(t, tr.Available())
	assert.ErrorIs(t, tr.Start(context.Background()), ErrRecognitionUnavailable)
	assert.Equal(t, "", tr.Stop())

	failing := NewTranscriber(&fakeRecognizer{err: errors.New("boom")}, nil)
	assert.ErrorIs(t, failing.Start(context.Background()), ErrRecognitionUnavailable)
}

func TestWSRecognizerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var start wsClientMessage
		if err := conn.ReadJSON(&start); err != nil || start.Type != "start" {
			return
		}

		var heard []string
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				heard = append(heard, string(data))
				_ = conn.WriteJSON(wsServerMessage{
					Type:    "result",
					Results: []speech.RecognitionResult{{Transcript: strings.Join(heard, " ")}},
				})
				continue
			}
			_ = conn.WriteJSON(wsServerMessage{
				Type:    "result",
				Results: []speech.RecognitionResult{{Transcript: strings.Join(heard, " "), IsFinal: true}},
			})
			_ = conn.WriteJSON(wsServerMessage{Type: "end"})
			return
		}
	}))
	defer srv.Close()

	rec := NewWSRecognizer(WSRecognizerConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:        "secret",
		CloseTimeout: time.Second,
	}, nil)
	tr := NewTranscriber(rec, nil)

	require.NoError(t, tr.Start(context.Background()))
	tr.Feed([]byte("hello"))
	tr.Feed([]byte("world"))
	require.Eventually(t, func() bool { return tr.Transcript() == "hello world" }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "hello world", tr.Stop())
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestWSRecognizerRequiresURL(t *testing.T) {
	_, err := NewWSRecognizer(WSRecognizerConfig{}, nil).Open(context.Background())
	assert.Error(t, err)
}
