package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/config"
	"github.com/zhouzirui/azmth/internal/controller"
	"github.com/zhouzirui/azmth/internal/service/audio"
	chatservice "github.com/zhouzirui/azmth/internal/service/chat"
	"github.com/zhouzirui/azmth/internal/service/conversation"
	"github.com/zhouzirui/azmth/internal/service/local"
	"github.com/zhouzirui/azmth/internal/service/playback"
	"github.com/zhouzirui/azmth/internal/service/remote"
	"github.com/zhouzirui/azmth/internal/service/speech"
	"github.com/zhouzirui/azmth/internal/store"
)

var (
	_ controller.Capture       = (*audio.Recorder)(nil)
	_ controller.Transcription = (*speech.Transcriber)(nil)
	_ controller.Playback      = (*playback.Player)(nil)
	_ controller.Sender        = (*conversation.Service)(nil)
	_ controller.Previewer     = (*remote.Client)(nil)
	_ controller.ClipReleaser  = (*audio.ClipRegistry)(nil)
)

// app holds the wired client components.
type app struct {
	store      *chatservice.Service
	history    *store.History
	clips      *audio.ClipRegistry
	player     *playback.Player
	controller *controller.Controller
	backend    string
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{store: chatservice.NewService()}

	if err := a.openHistory(ctx, cfg.History.Path, logger); err != nil {
		return nil, err
	}

	opts := []controller.Option{controller.WithLogger(logger)}

	var backend conversation.Backend
	switch cfg.Client.Backend {
	case config.BackendRemote:
		client, err := remote.NewClient(remote.Options{
			BaseURL: cfg.Client.RemoteURL,
			APIKey:  cfg.Client.RemoteAPIKey,
			Timeout: cfg.Client.RequestTimeout,
			Retries: cfg.Client.Retries,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		backend = client
		opts = append(opts, controller.WithPreviewer(client))
		a.backend = "remote " + cfg.Client.RemoteURL
	case config.BackendLocal:
		client, err := local.NewClient(cfg.Client.LocalURL, cfg.Client.RequestTimeout, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		backend = client
		a.backend = "local " + cfg.Client.LocalURL
	default:
		a.close()
		return nil, fmt.Errorf("unknown backend %q: want local or remote", cfg.Client.Backend)
	}

	a.clips = audio.NewClipRegistry()
	recorder := audio.NewRecorder(audio.NewCommandMicrophone(cfg.Audio.MicCommand), a.clips, logger)

	var recognizer speech.Recognizer
	if cfg.Audio.ASRURL != "" {
		recognizer = speech.NewWSRecognizer(speech.WSRecognizerConfig{
			URL:      cfg.Audio.ASRURL,
			Token:    cfg.Audio.ASRToken,
			Language: cfg.Audio.ASRLanguage,
		}, logger)
	}
	transcriber := speech.NewTranscriber(recognizer, logger)

	var synth playback.Synthesizer
	if s := playback.NewCommandSynthesizer(cfg.Audio.TTSCommand); s != nil {
		synth = s
	}
	a.player = playback.NewPlayer(synth, playback.NewFFPlayPlayer(cfg.Audio.PlayerCommand), a.clips, logger)

	mode := controller.ModeText
	if cfg.Client.VoicePriority {
		mode = controller.ModeVoice
	}
	opts = append(opts,
		controller.WithCapture(recorder),
		controller.WithTranscription(transcriber),
		controller.WithPlayback(a.player),
		controller.WithClipReleaser(a.clips),
		controller.WithMode(mode),
	)

	sender := conversation.NewService(backend, a.store, logger)
	a.controller = controller.New(a.store, sender, opts...)

	if _, ok := a.store.Current(); !ok {
		a.store.CreateSession(ctx)
	}
	return a, nil
}

func (a *app) openHistory(ctx context.Context, path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	history, err := store.Open(ctx, path, logger)
	if err != nil {
		return err
	}
	sessions, err := history.Load(ctx)
	if err != nil {
		history.Close()
		return err
	}
	a.store.Restore(sessions)
	a.store.Subscribe(history.Persist)
	a.history = history
	return nil
}

func (a *app) close() {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.player != nil {
		a.player.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
}
