// Package controller binds the session store, the conversation backend and the
// audio adapters into the chat state machine driven by user input.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/logging"
	"github.com/zhouzirui/azmth/internal/model/chat"
	"github.com/zhouzirui/azmth/internal/model/speech"
	chatservice "github.com/zhouzirui/azmth/internal/service/chat"
	"github.com/zhouzirui/azmth/internal/service/remote"
)

var (
	ErrNothingToSend       = errors.New("nothing to send")
	ErrNoSession           = errors.New("no current session")
	ErrCaptureUnavailable  = errors.New("neither microphone capture nor speech recognition is available")
	ErrNoAudio             = errors.New("message has no recording")
	ErrNoConversation      = errors.New("session has no remote conversation yet")
	ErrPreviewUnavailable  = errors.New("conversation preview not supported by backend")
	ErrPlaybackUnavailable = errors.New("playback not configured")
	ErrAmbiguousMessage    = errors.New("message id prefix matches more than one recording")
)

// State of the chat state machine.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateSending   State = "sending"
)

// Mode selects the primary input.
type Mode int

const (
	ModeText Mode = iota
	// ModeVoice is voice-priority: the recorded clip is the outgoing message.
	ModeVoice
)

func (m Mode) String() string {
	if m == ModeVoice {
		return "voice"
	}
	return "text"
}

// Capture is the microphone adapter.
type Capture interface {
	Available() bool
	Start(ctx context.Context) error
	Stop() (speech.Clip, bool)
	OnChunk(fn func([]byte))
}

// Transcription is the live speech recognition adapter.
type Transcription interface {
	Available() bool
	Start(ctx context.Context) error
	Stop() string
	Feed(chunk []byte)
	OnUpdate(fn func(string))
}

// Playback is the speech and clip playback adapter.
type Playback interface {
	Speak(text string) error
	Cancel()
	Play(url string) error
	Pause()
	IsPlaying() bool
	PlayingURL() string
}

// Sender delivers a user turn and returns the assistant turn.
type Sender interface {
	Send(ctx context.Context, sessionID int, msg speech.Outgoing) (chat.Message, error)
}

// Previewer fetches the remote view of a conversation.
type Previewer interface {
	GetConversation(ctx context.Context, conversationID string) (remote.Conversation, error)
}

// ClipReleaser frees recordings that will never be referenced by a message.
type ClipReleaser interface {
	Revoke(url string)
}

// Snapshot is the user-visible controller state.
type Snapshot struct {
	State             State
	Mode              Mode
	Draft             string
	PendingTranscript string
	HasPendingClip    bool
}

// Option configures a Controller.
type Option func(*Controller)

func WithCapture(c Capture) Option             { return func(ct *Controller) { ct.capture = c } }
func WithTranscription(t Transcription) Option { return func(ct *Controller) { ct.transcription = t } }
func WithPlayback(p Playback) Option           { return func(ct *Controller) { ct.playback = p } }
func WithPreviewer(p Previewer) Option         { return func(ct *Controller) { ct.previewer = p } }
func WithClipReleaser(r ClipReleaser) Option   { return func(ct *Controller) { ct.clips = r } }
func WithLogger(l *zap.Logger) Option          { return func(ct *Controller) { ct.logger = l } }
func WithMode(m Mode) Option                   { return func(ct *Controller) { ct.mode = m } }

// Controller is the chat state machine.
type Controller struct {
	store         *chatservice.Service
	sender        Sender
	capture       Capture
	transcription Transcription
	playback      Playback
	previewer     Previewer
	clips         ClipReleaser
	logger        *zap.Logger

	mu                sync.Mutex
	mode              Mode
	recording         bool
	draft             string
	pending           *speech.Clip
	pendingTranscript string
	inflight          int
	tails             map[int]chan struct{}
	onChange          func(Snapshot)
}

// New creates a controller over store and sender.
func New(store *chatservice.Service, sender Sender, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		sender:    sender,
		tails:     make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Named("controller")

	if c.capture != nil && c.transcription != nil {
		c.capture.OnChunk(c.transcription.Feed)
	}
	if c.transcription != nil {
		c.transcription.OnUpdate(c.onTranscript)
	}
	return c
}

// OnChange registers a callback fired after every controller state change.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the state machine position.
func (c *Controller) State() State {
	return c.Snapshot().State
}

func (c *Controller) snapshotLocked() Snapshot {
	state := StateIdle
	switch {
	case c.recording:
		state = StateRecording
	case c.inflight > 0:
		state = StateSending
	}
	return Snapshot{
		State:             state,
		Mode:              c.mode,
		Draft:             c.draft,
		PendingTranscript: c.pendingTranscript,
		HasPendingClip:    c.pending != nil,
	}
}

// changedLocked must be called with c.mu held; it returns the notifier to run after unlocking.
func (c *Controller) changedLocked() func() {
	fn := c.onChange
	if fn == nil {
		return func() {}
	}
	snap := c.snapshotLocked()
	return func() { fn(snap) }
}

// SetMode switches between text and voice-priority input.
func (c *Controller) SetMode(mode Mode) {
	c.mu.Lock()
	c.mode = mode
	notify := c.changedLocked()
	c.mu.Unlock()
	notify()
}

// SetDraft replaces the typed message.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	notify := c.changedLocked()
	c.mu.Unlock()
	notify()
}

func (c *Controller) onTranscript(text string) {
	c.mu.Lock()
	if !c.recording || c.mode != ModeText {
		c.mu.Unlock()
		return
	}
	c.draft = text
	notify := c.changedLocked()
	c.mu.Unlock()
	notify()
}

// ToggleRecording starts or stops capture and transcription.
func (c *Controller) ToggleRecording(ctx context.Context) error {
	c.mu.Lock()
	recording := c.recording
	c.mu.Unlock()

	if recording {
		c.stopRecording(true)
		return nil
	}
	return c.startRecording(ctx)
}

func (c *Controller) captureAvailable() bool {
	return c.capture != nil && c.capture.Available()
}

func (c *Controller) transcriptionAvailable() bool {
	return c.transcription != nil && c.transcription.Available()
}

func (c *Controller) startRecording(ctx context.Context) error {
	if !c.captureAvailable() && !c.transcriptionAvailable() {
		c.logger.Warn("recording requested but no audio capability is available")
		return ErrCaptureUnavailable
	}

	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = true
	c.mu.Unlock()

	captured, transcribing := false, false
	if c.captureAvailable() {
		if err := c.capture.Start(ctx); err != nil {
			c.logger.Warn("microphone capture disabled", zap.Error(err))
		} else {
			captured = true
		}
	}
	if c.transcriptionAvailable() {
		if err := c.transcription.Start(ctx); err != nil {
			c.logger.Warn("live transcription disabled", zap.Error(err))
		} else {
			transcribing = true
		}
	}

	c.mu.Lock()
	if !captured && !transcribing {
		c.recording = false
		c.mu.Unlock()
		return ErrCaptureUnavailable
	}
	notify := c.changedLocked()
	c.mu.Unlock()
	notify()
	return nil
}

// stopRecording finalizes the adapters. With apply set the results become the
// pending message (voice mode) or the draft (text mode); otherwise the clip is released.
func (c *Controller) stopRecording(apply bool) {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return
	}
	c.recording = false
	c.mu.Unlock()

	var (
		clip    speech.Clip
		hasClip bool
		text    string
	)
	if c.capture != nil {
		clip, hasClip = c.capture.Stop()
	}
	if c.transcription != nil {
		text = strings.TrimSpace(c.transcription.Stop())
	}

	c.mu.Lock()
	var release []string
	switch {
	case apply && c.mode == ModeVoice:
		if hasClip {
			if c.pending != nil {
				release = append(release, c.pending.URL)
			}
			c.pending = &clip
			c.pendingTranscript = text
		}
	case apply:
		if text != "" {
			c.draft = text
		}
		if hasClip {
			release = append(release, clip.URL)
		}
	default:
		if hasClip {
			release = append(release, clip.URL)
		}
	}
	notify := c.changedLocked()
	c.mu.Unlock()

	if c.clips != nil {
		for _, url := range release {
			c.clips.Revoke(url)
		}
	}
	notify()
}

// Delivery completes a send whose input Prepare already took. It must be
// called exactly once.
type Delivery func(ctx context.Context) (chat.Message, error)

// Send delivers the pending input to the current session. The user message is
// appended before the backend call; the assistant message after it settles.
// Sends to one session run one at a time, in the order they were prepared.
func (c *Controller) Send(ctx context.Context) (chat.Message, error) {
	deliver, err := c.Prepare()
	if err != nil {
		return chat.Message{}, err
	}
	return deliver(ctx)
}

// Prepare takes the pending input for the current session and clears it, so
// input set afterwards belongs to the next send. The returned Delivery does the
// blocking part of the send and may run on another goroutine.
func (c *Controller) Prepare() (Delivery, error) {
	c.mu.Lock()
	mode := c.mode
	var (
		out  speech.Outgoing
		user chat.Message
	)
	switch mode {
	case ModeVoice:
		if c.pending == nil {
			c.mu.Unlock()
			return nil, ErrNothingToSend
		}
		out = speech.Outgoing{Text: c.pendingTranscript, Audio: c.pending}
		user = chat.Message{
			Type:     chat.MessageUser,
			Content:  chat.VoicePrefix + c.pendingTranscript,
			AudioURL: c.pending.URL,
		}
	default:
		text := strings.TrimSpace(c.draft)
		if text == "" {
			c.mu.Unlock()
			return nil, ErrNothingToSend
		}
		out = speech.Outgoing{Text: text}
		user = chat.Message{Type: chat.MessageUser, Content: text}
	}

	session, ok := c.store.Current()
	if !ok {
		c.mu.Unlock()
		return nil, ErrNoSession
	}

	if mode == ModeVoice {
		c.pending = nil
		c.pendingTranscript = ""
	} else {
		c.draft = ""
	}
	stopTranscription := mode == ModeText && c.recording
	t := &turn{sessionID: session.ID, prev: c.tails[session.ID], done: make(chan struct{})}
	c.tails[session.ID] = t.done
	c.inflight++
	notify := c.changedLocked()
	c.mu.Unlock()
	notify()

	if stopTranscription {
		c.stopRecording(false)
	}

	return func(ctx context.Context) (chat.Message, error) {
		return c.deliver(ctx, t, mode, out, user)
	}, nil
}

// turn is one prepared send. A turn starts once prev, the turn prepared
// before it for the same session, is done.
type turn struct {
	sessionID int
	prev      <-chan struct{}
	done      chan struct{}
}

func (c *Controller) deliver(ctx context.Context, t *turn, mode Mode, out speech.Outgoing, user chat.Message) (chat.Message, error) {
	defer c.finishSend()

	if err := c.waitTurn(ctx, t); err != nil {
		c.logger.Warn("send abandoned while waiting for previous reply", zap.Int("session", t.sessionID), zap.Error(err))
		c.restore(mode, out)
		return chat.Message{}, err
	}
	defer c.finishTurn(t)
	sessionID := t.sessionID

	if _, err := c.store.AppendMessage(ctx, sessionID, user); err != nil {
		return chat.Message{}, fmt.Errorf("append user message: %w", err)
	}

	reply, err := c.sender.Send(ctx, sessionID, out)
	if err != nil {
		return chat.Message{}, err
	}

	reply, err = c.store.AppendMessage(ctx, sessionID, reply)
	if err != nil {
		return chat.Message{}, fmt.Errorf("append assistant message: %w", err)
	}

	if mode == ModeVoice && c.playback != nil {
		if err := c.playback.Speak(reply.Content); err != nil {
			c.logger.Debug("reply not spoken", zap.Error(err))
		}
	}
	return reply, nil
}

// restore puts back input whose send never started. Input entered since then
// wins, and a clip that cannot go back is released.
func (c *Controller) restore(mode Mode, out speech.Outgoing) {
	c.mu.Lock()
	var released string
	switch {
	case mode == ModeVoice && c.pending == nil:
		c.pending = out.Audio
		c.pendingTranscript = out.Text
	case mode == ModeVoice:
		released = out.Audio.URL
	case c.draft == "":
		c.draft = out.Text
	}
	notify := c.changedLocked()
	c.mu.Unlock()

	if released != "" && c.clips != nil {
		c.clips.Revoke(released)
	}
	notify()
}

func (c *Controller) finishSend() {
	c.mu.Lock()
	c.inflight--
	notify := c.changedLocked()
	c.mu.Unlock()
	notify()
}

// waitTurn blocks until every earlier send to the session has settled. An
// abandoned turn still completes after its predecessor so later turns keep
// their order.
func (c *Controller) waitTurn(ctx context.Context, t *turn) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	default:
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-t.prev
			c.finishTurn(t)
		}()
		return ctx.Err()
	}
}

func (c *Controller) finishTurn(t *turn) {
	close(t.done)
	c.mu.Lock()
	if c.tails[t.sessionID] == t.done {
		delete(c.tails, t.sessionID)
	}
	c.mu.Unlock()
}

// NewChat creates a session and makes it current and selected.
func (c *Controller) NewChat(ctx context.Context) chat.Session {
	return c.store.CreateSession(ctx)
}

// SwitchSession makes sessionID both current and selected.
func (c *Controller) SwitchSession(sessionID int) error {
	if err := c.store.SetCurrent(sessionID); err != nil {
		return err
	}
	return c.store.SelectSession(sessionID)
}

// SelectSession only changes the viewed session.
func (c *Controller) SelectSession(sessionID int) error {
	return c.store.SelectSession(sessionID)
}

// TogglePlayback plays the recording attached to messageID in the selected
// session, or pauses it when it is already playing. It reports whether the
// clip is now playing.
func (c *Controller) TogglePlayback(messageID string) (bool, error) {
	if c.playback == nil {
		return false, ErrPlaybackUnavailable
	}
	session, ok := c.store.Selected()
	if !ok {
		return false, ErrNoSession
	}

	url, err := audioFor(session.Messages, messageID)
	if err != nil {
		return false, err
	}

	if c.playback.IsPlaying() && c.playback.PlayingURL() == url {
		c.playback.Pause()
		return false, nil
	}
	if err := c.playback.Play(url); err != nil {
		return false, err
	}
	return true, nil
}

// audioFor resolves messageID, or a unique prefix of it among recorded
// messages, to the attached clip.
func audioFor(messages []chat.Message, messageID string) (string, error) {
	if messageID == "" {
		return "", ErrNoAudio
	}
	var matches []string
	for _, msg := range messages {
		if msg.ID == messageID {
			if msg.AudioURL == "" {
				return "", ErrNoAudio
			}
			return msg.AudioURL, nil
		}
		if msg.AudioURL != "" && strings.HasPrefix(msg.ID, messageID) {
			matches = append(matches, msg.AudioURL)
		}
	}
	switch len(matches) {
	case 0:
		return "", ErrNoAudio
	case 1:
		return matches[0], nil
	default:
		return "", ErrAmbiguousMessage
	}
}

// Preview fetches the remote conversation behind the selected session.
func (c *Controller) Preview(ctx context.Context) (remote.Conversation, error) {
	if c.previewer == nil {
		return remote.Conversation{}, ErrPreviewUnavailable
	}
	session, ok := c.store.Selected()
	if !ok {
		return remote.Conversation{}, ErrNoSession
	}
	if !session.HasConversation() {
		return remote.Conversation{}, ErrNoConversation
	}
	return c.previewer.GetConversation(ctx, session.ConversationID)
}

// Close stops any active recording and playback.
func (c *Controller) Close() {
	c.stopRecording(false)
	if c.playback != nil {
		c.playback.Cancel()
		c.playback.Pause()
	}
}
