package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zhouzirui/azmth/internal/model/speech"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedPlayer blocks each Play until released or cancelled.
type gatedPlayer struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
}

func newGatedPlayer() *gatedPlayer {
	return &gatedPlayer{release: make(chan struct{})}
}

func (g *gatedPlayer) Play(ctx context.Context, clip speech.Clip) error {
	g.mu.Lock()
	g.started = append(g.started, clip.URL)
	g.mu.Unlock()
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mapSource map[string]speech.Clip

func (m mapSource) Resolve(url string) (speech.Clip, bool) {
	c, ok := m[url]
	return c, ok
}

type recordingSynth struct {
	mu    sync.Mutex
	said  []string
	block chan struct{}
}

func (r *recordingSynth) Speak(ctx context.Context, text string) error {
	r.mu.Lock()
	r.said = append(r.said, text)
	r.mu.Unlock()
	if r.block == nil {
		return nil
	}
	select {
	case <-r.block:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func clips() mapSource {
	return mapSource{
		"blob:a": {URL: "blob:a", Data: []byte("a")},
		"blob:b": {URL: "blob:b", Data: []byte("b")},
	}
}

func TestPlayerEndedResetsFlag(t *testing.T) {
	gp := newGatedPlayer()
	p := NewPlayer(nil, gp, clips(), nil)
	defer p.Close()

	ended := make(chan string, 1)
	p.OnEnded(func(url string) { ended <- url })

	require.NoError(t, p.Play("blob:a"))
	assert.True(t, p.IsPlaying())
	assert.Equal(t, "blob:a", p.PlayingURL())

	close(gp.release)

	select {
	case url := <-ended:
		assert.Equal(t, "blob:a", url)
	case <-time.After(time.Second):
		t.Fatal("ended callback not fired")
	}
	assert.False(t, p.IsPlaying())
}

func TestPlayerSingleClipAtATime(t *testing.T) {
	gp := newGatedPlayer()
	p := NewPlayer(nil, gp, clips(), nil)
	defer p.Close()

	var endedMu sync.Mutex
	var endedURLs []string
	p.OnEnded(func(url string) {
		endedMu.Lock()
		endedURLs = append(endedURLs, url)
		endedMu.Unlock()
	})

	require.NoError(t, p.Play("blob:a"))
	require.NoError(t, p.Play("blob:b"))

	assert.True(t, p.IsPlaying())
	assert.Equal(t, "blob:b", p.PlayingURL())

	close(gp.release)
	require.Eventually(t, func() bool { return !p.IsPlaying() }, time.Second, 5*time.Millisecond)

	p.wg.Wait()
	endedMu.Lock()
	defer endedMu.Unlock()
	assert.Equal(t, []string{"blob:b"}, endedURLs)
}

func TestPlayerPauseDoesNotFireEnded(t *testing.T) {
	gp := newGatedPlayer()
	p := NewPlayer(nil, gp, clips(), nil)

	fired := false
	p.OnEnded(func(string) { fired = true })

	require.NoError(t, p.Play("blob:a"))
	p.Pause()
	p.Close()

	assert.False(t, p.IsPlaying())
	assert.False(t, fired)
}

func TestPlayerUnknownClip(t *testing.T) {
	p := NewPlayer(nil, newGatedPlayer(), clips(), nil)
	assert.ErrorIs(t, p.Play("blob:missing"), ErrClipNotFound)

	noPlayer := NewPlayer(nil, nil, nil, nil)
	assert.ErrorIs(t, noPlayer.Play("blob:a"), ErrPlaybackUnavailable)
}

func TestPlayerSpeakAndCancel(t *testing.T) {
	synth := &recordingSynth{block: make(chan struct{})}
	p := NewPlayer(synth, nil, nil, nil)
	defer p.Close()

	require.NoError(t, p.Speak("hello"))
	assert.True(t, p.Speaking())

	p.Cancel()
	assert.False(t, p.Speaking())

	p.wg.Wait()
	synth.mu.Lock()
	defer synth.mu.Unlock()
	assert.Equal(t, []string{"hello"}, synth.said)
}

func TestPlayerSpeakUnavailable(t *testing.T) {
	p := NewPlayer(nil, nil, nil, nil)
	assert.ErrorIs(t, p.Speak("hi"), ErrSynthesisUnavailable)
}

func TestNewCommandSynthesizer(t *testing.T) {
	assert.Nil(t, NewCommandSynthesizer("  "))

	s := NewCommandSynthesizer("espeak -v en")
	require.NotNil(t, s)
	assert.Equal(t, "espeak", s.Path)
	assert.Equal(t, []string{"-v", "en"}, s.Args)
}
