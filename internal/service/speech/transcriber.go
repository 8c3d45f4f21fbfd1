package speech

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

// ErrRecognitionUnavailable is returned when no recognizer is configured.
var ErrRecognitionUnavailable = errors.New("speech recognition unavailable")

// Recognizer opens continuous recognition sessions.
type Recognizer interface {
	Open(ctx context.Context) (RecognitionStream, error)
}

// RecognitionStream accepts audio and emits partial results. Events must be
// closed once the stream is closed or the remote side ends it.
type RecognitionStream interface {
	Send(chunk []byte) error
	Events() <-chan speech.RecognitionEvent
	Close() error
}

// Transcriber keeps the live transcript of the current recognition session.
type Transcriber struct {
	recognizer Recognizer
	logger     *zap.Logger

	mu         sync.Mutex
	active     bool
	stream     RecognitionStream
	done       chan struct{}
	transcript string
	onUpdate   func(string)
}

// NewTranscriber wraps recognizer. A nil recognizer yields an unavailable transcriber.
func NewTranscriber(recognizer Recognizer, logger *zap.Logger) *Transcriber {
	return &Transcriber{
		recognizer: recognizer,
		logger:     logging.OrNop(logger).Named("transcribe"),
	}
}

// Available reports whether recognition is supported.
func (t *Transcriber) Available() bool {
	return t != nil && t.recognizer != nil
}

// OnUpdate registers a callback receiving the transcript after every event.
func (t *Transcriber) OnUpdate(fn func(string)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Active reports whether recognition is running.
func (t *Transcriber) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Transcript returns the latest recognized text.
func (t *Transcriber) Transcript() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transcript
}

// Start begins continuous recognition and clears the transcript buffer.
func (t *Transcriber) Start(ctx context.Context) error {
	if !t.Available() {
		return ErrRecognitionUnavailable
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return nil
	}

	stream, err := t.recognizer.Open(ctx)
	if err != nil {
		t.logger.Warn("failed to start recognition", zap.Error(err))
		return errors.Join(ErrRecognitionUnavailable, err)
	}

	t.transcript = ""
	t.stream = stream
	t.done = make(chan struct{})
	t.active = true
	go t.consume(stream, t.done)
	return nil
}

func (t *Transcriber) consume(stream RecognitionStream, done chan struct{}) {
	defer close(done)
	for event := range stream.Events() {
		text := event.Transcript()

		t.mu.Lock()
		t.transcript = text
		fn := t.onUpdate
		t.mu.Unlock()

		if fn != nil {
			fn(text)
		}
	}
}

// Feed forwards captured audio to the active recognition session.
func (t *Transcriber) Feed(chunk []byte) {
	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Send(chunk); err != nil {
		t.logger.Debug("dropping audio chunk", zap.Error(err))
	}
}

// Stop ends recognition, waits for pending results and returns the final transcript.
func (t *Transcriber) Stop() string {
	t.mu.Lock()
	if !t.active {
		text := t.transcript
		t.mu.Unlock()
		return text
	}
	stream, done := t.stream, t.done
	t.active = false
	t.stream = nil
	t.mu.Unlock()

	if err := stream.Close(); err != nil {
		t.logger.Debug("recognition close", zap.Error(err))
	}
	<-done
	return t.Transcript()
}
