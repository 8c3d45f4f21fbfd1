package playback

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/speech"
)

var (
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	ErrPlaybackUnavailable  = errors.New("clip playback unavailable")
	ErrClipNotFound         = errors.New("clip not found")
)

// Synthesizer speaks text aloud, blocking until finished or ctx is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// ClipPlayer plays a recorded clip, blocking until it ends or ctx is cancelled.
type ClipPlayer interface {
	Play(ctx context.Context, clip speech.Clip) error
}

// ClipSource resolves clip urls.
type ClipSource interface {
	Resolve(url string) (speech.Clip, bool)
}

// Player coordinates speech synthesis and a single shared clip player. The
// two are independent: speaking does not stop a clip and vice versa.
type Player struct {
	synth  Synthesizer
	clips  ClipPlayer
	source ClipSource
	logger *zap.Logger

	mu          sync.Mutex
	speakCancel context.CancelFunc
	speakGen    uint64
	speaking    bool
	playCancel  context.CancelFunc
	playGen     uint64
	playing     bool
	playingURL  string
	onEnded     func(url string)

	wg sync.WaitGroup
}

// NewPlayer builds a player. Nil collaborators disable the matching feature.
func NewPlayer(synth Synthesizer, clips ClipPlayer, source ClipSource, logger *zap.Logger) *Player {
	return &Player{
		synth:  synth,
		clips:  clips,
		source: source,
		logger: logging.OrNop(logger).Named("playback"),
	}
}

// OnEnded registers a callback fired when a clip finishes on its own.
func (p *Player) OnEnded(fn func(url string)) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

// Speak starts synthesizing text, replacing any speech in progress.
func (p *Player) Speak(text string) error {
	if p.synth == nil {
		return ErrSynthesisUnavailable
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.speakCancel != nil {
		p.speakCancel()
	}
	p.speakGen++
	gen := p.speakGen
	p.speakCancel = cancel
	p.speaking = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		if err := p.synth.Speak(ctx, text); err != nil && ctx.Err() == nil {
			p.logger.Warn("speech synthesis failed", zap.Error(err))
		}

		p.mu.Lock()
		if p.speakGen == gen {
			p.speaking = false
			p.speakCancel = nil
		}
		p.mu.Unlock()
	}()
	return nil
}

// Cancel stops any in-progress synthesis.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speakCancel != nil {
		p.speakCancel()
		p.speakCancel = nil
	}
	p.speakGen++
	p.speaking = false
}

// Speaking reports whether synthesis is in progress.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Play starts the clip behind url, stopping whichever clip was playing.
func (p *Player) Play(url string) error {
	if p.clips == nil || p.source == nil {
		return ErrPlaybackUnavailable
	}
	clip, ok := p.source.Resolve(url)
	if !ok {
		return ErrClipNotFound
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.playCancel != nil {
		p.playCancel()
	}
	p.playGen++
	gen := p.playGen
	p.playCancel = cancel
	p.playing = true
	p.playingURL = url
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		if err := p.clips.Play(ctx, clip); err != nil && ctx.Err() == nil {
			p.logger.Warn("clip playback failed", zap.String("url", url), zap.Error(err))
		}

		p.mu.Lock()
		var ended func(string)
		if p.playGen == gen {
			p.playing = false
			p.playingURL = ""
			p.playCancel = nil
			ended = p.onEnded
		}
		p.mu.Unlock()

		if ended != nil {
			ended(url)
		}
	}()
	return nil
}

// Pause stops the current clip without firing the ended callback.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playCancel != nil {
		p.playCancel()
		p.playCancel = nil
	}
	p.playGen++
	p.playing = false
	p.playingURL = ""
}

// IsPlaying reports whether a clip is playing.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// PlayingURL returns the url of the clip being played, if any.
func (p *Player) PlayingURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playingURL
}

// Close stops all playback and waits for the workers to exit.
func (p *Player) Close() {
	p.Cancel()
	p.Pause()
	p.wg.Wait()
}
