package audio

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

// ErrMicrophoneUnavailable is returned when no microphone is configured or it cannot be opened.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

const defaultChunkSize = 4096

// Recorder buffers microphone audio between Start and Stop and finalizes it
// into a single clip.
type Recorder struct {
	mic      Microphone
	clips    *ClipRegistry
	logger   *zap.Logger
	chunkLen int

	mu         sync.Mutex
	active     bool
	chunks     [][]byte
	stream     io.ReadCloser
	done       chan struct{}
	onChunk    func([]byte)
	onComplete func(speech.Clip)
}

// NewRecorder wires a recorder to a microphone. A nil microphone yields a
// recorder that reports itself unavailable.
func NewRecorder(mic Microphone, clips *ClipRegistry, logger *zap.Logger) *Recorder {
	if clips == nil {
		clips = NewClipRegistry()
	}
	return &Recorder{
		mic:      mic,
		clips:    clips,
		logger:   logging.OrNop(logger).Named("capture"),
		chunkLen: defaultChunkSize,
	}
}

// Available reports whether a microphone is configured.
func (r *Recorder) Available() bool {
	return r != nil && r.mic != nil
}

// OnChunk registers a tap that receives every captured chunk, e.g. to feed a recognizer.
func (r *Recorder) OnChunk(fn func([]byte)) {
	r.mu.Lock()
	r.onChunk = fn
	r.mu.Unlock()
}

// OnComplete registers the callback invoked with the finalized clip.
func (r *Recorder) OnComplete(fn func(speech.Clip)) {
	r.mu.Lock()
	r.onComplete = fn
	r.mu.Unlock()
}

// Recording reports whether a capture session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start opens the microphone and begins buffering. The chunk buffer is reset.
// Calling Start while recording is a no-op.
func (r *Recorder) Start(ctx context.Context) error {
	if !r.Available() {
		r.logger.Warn("no microphone configured")
		return ErrMicrophoneUnavailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.logger.Debug("start ignored, capture already active")
		return nil
	}

	stream, err := r.mic.Open(ctx)
	if err != nil {
		r.logger.Warn("failed to open microphone", zap.Error(err))
		return errors.Join(ErrMicrophoneUnavailable, err)
	}

	r.chunks = nil
	r.stream = stream
	r.done = make(chan struct{})
	r.active = true
	go r.readLoop(stream, r.done)

	r.logger.Debug("capture started")
	return nil
}

func (r *Recorder) readLoop(stream io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, r.chunkLen)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			r.mu.Lock()
			r.chunks = append(r.chunks, chunk)
			tap := r.onChunk
			r.mu.Unlock()
			if tap != nil {
				tap(chunk)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("capture stream closed", zap.Error(err))
			}
			return
		}
	}
}

// Stop ends the capture session and finalizes the buffered chunks. It returns
// false when nothing was recorded; the completion callback only fires for a
// non-empty clip.
func (r *Recorder) Stop() (speech.Clip, bool) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return speech.Clip{}, false
	}
	stream, done := r.stream, r.done
	r.active = false
	r.stream = nil
	r.mu.Unlock()

	_ = stream.Close()
	<-done

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	complete := r.onComplete
	r.mu.Unlock()

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	if size == 0 {
		r.logger.Debug("capture stopped without audio")
		return speech.Clip{}, false
	}

	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}
	clip := r.clips.Register(data, r.mic.MimeType())
	r.logger.Debug("capture finalized", zap.String("url", clip.URL), zap.Int("bytes", size))

	if complete != nil {
		complete(clip)
	}
	return clip, true
}

// Clips exposes the registry clips are stored in.
func (r *Recorder) Clips() *ClipRegistry {
	return r.clips
}
