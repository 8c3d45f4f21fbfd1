package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/zhouzirui/azmth/internal/model/speech"
)

// CommandSynthesizer speaks through an external TTS program such as espeak or say.
// The text is appended as the last argument.
type CommandSynthesizer struct {
	Path string
	Args []string
}

// NewCommandSynthesizer parses a command line like "espeak -v en".
func NewCommandSynthesizer(commandLine string) *CommandSynthesizer {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil
	}
	return &CommandSynthesizer{Path: fields[0], Args: fields[1:]}
}

// Speak runs the TTS program and waits for it to exit.
func (s *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	args := append(append([]string(nil), s.Args...), text)
	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Stdout = io.Discard
	return cmd.Run()
}

// FFPlayPlayer pipes clip bytes into ffplay.
type FFPlayPlayer struct {
	Path string
	Args []string
}

// NewFFPlayPlayer parses a player command line; empty means ffplay with defaults.
func NewFFPlayPlayer(commandLine string) *FFPlayPlayer {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return &FFPlayPlayer{
			Path: "ffplay",
			Args: []string{"-hide_banner", "-loglevel", "error", "-nodisp", "-autoexit", "-i", "-"},
		}
	}
	return &FFPlayPlayer{Path: fields[0], Args: fields[1:]}
}

// Play feeds the clip to the player process and waits for it to finish.
func (f *FFPlayPlayer) Play(ctx context.Context, clip speech.Clip) error {
	if len(clip.Data) == 0 {
		return errors.New("clip has no audio")
	}
	cmd := exec.CommandContext(ctx, f.Path, f.Args...)
	cmd.Stdin = bytes.NewReader(clip.Data)
	cmd.Stdout = io.Discard
	return cmd.Run()
}
