package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Microphone opens a live audio stream. Each call corresponds to one capture
// session; closing the stream releases the device.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	MimeType() string
}

// DefaultCaptureArgs records mono 16kHz wav from the default PulseAudio source.
var DefaultCaptureArgs = []string{
	"-hide_banner",
	"-loglevel", "error",
	"-f", "pulse",
	"-i", "default",
	"-ac", "1",
	"-ar", "16000",
	"-f", "wav",
	"-",
}

// CommandMicrophone captures audio from an external process writing to stdout.
type CommandMicrophone struct {
	// Command overrides Path/Args and is run through /bin/sh when set.
	Command string
	Path    string
	Args    []string
	Mime    string
}

// NewCommandMicrophone builds a microphone from a shell command, falling back
// to ffmpeg with DefaultCaptureArgs when command is empty.
func NewCommandMicrophone(command string) *CommandMicrophone {
	return &CommandMicrophone{
		Command: strings.TrimSpace(command),
		Path:    "ffmpeg",
		Args:    DefaultCaptureArgs,
		Mime:    "audio/wav",
	}
}

// MimeType reports the container format produced by the command.
func (m *CommandMicrophone) MimeType() string {
	if m.Mime == "" {
		return "audio/wav"
	}
	return m.Mime
}

// Open starts the capture process.
func (m *CommandMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	var cmd *exec.Cmd
	if m.Command != "" {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", m.Command)
	} else {
		if m.Path == "" {
			return nil, errors.New("capture command not configured")
		}
		cmd = exec.CommandContext(ctx, m.Path, m.Args...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start capture: %w", err)
	}
	return &processStream{ReadCloser: stdout, cmd: cmd}, nil
}

type processStream struct {
	io.ReadCloser
	cmd  *exec.Cmd
	once sync.Once
}

func (p *processStream) Close() error {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		_ = p.ReadCloser.Close()
		_ = p.cmd.Wait()
	})
	return nil
}
