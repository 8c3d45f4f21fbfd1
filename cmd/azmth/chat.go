package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/azmth/internal/controller"
)

var errQuit = errors.New("quit")

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	r := newRenderer(cmd.OutOrStdout())
	a.store.Subscribe(r.onSession)
	a.controller.OnChange(r.onState)
	a.player.OnEnded(func(string) { r.notice("playback finished") })

	r.banner(a.backend, a.controller.Snapshot().Mode)
	if selected, ok := a.store.Selected(); ok {
		r.showSession(selected)
	}

	lines := make(chan string)
	go readLines(ctx, cmd.InOrStdin(), lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := a.dispatch(gctx, g, r, line); err != nil {
					return err
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

// readLines forwards stdin lines until EOF. It is not part of the errgroup
// because a blocked terminal read cannot be interrupted.
func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

// dispatch runs one input line. Sends run on the errgroup so typing continues
// while a reply is pending.
func (a *app) dispatch(ctx context.Context, g *errgroup.Group, r *renderer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		a.controller.SetDraft(line)
		a.send(ctx, g, r)
		return nil
	}

	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]
	ctrl := a.controller

	switch command {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.help()
	case "/new":
		r.showSession(ctrl.NewChat(ctx))
	case "/switch", "/select":
		id, err := sessionArg(args)
		if err != nil {
			r.errorf("%v", err)
			return nil
		}
		if command == "/switch" {
			err = ctrl.SwitchSession(id)
		} else {
			err = ctrl.SelectSession(id)
		}
		if err != nil {
			r.errorf("%v", err)
			return nil
		}
		if selected, ok := a.store.Selected(); ok {
			r.showSession(selected)
		}
	case "/sessions":
		current, _ := a.store.Current()
		selected, _ := a.store.Selected()
		r.sessions(a.store.List(), current.ID, selected.ID)
	case "/voice":
		ctrl.SetMode(controller.ModeVoice)
		r.notice("voice mode: /rec to record, /send to deliver")
	case "/text":
		ctrl.SetMode(controller.ModeText)
		r.notice("text mode")
	case "/rec":
		if err := ctrl.ToggleRecording(ctx); err != nil {
			r.errorf("recording unavailable: %v", err)
		}
	case "/send":
		a.send(ctx, g, r)
	case "/play":
		if len(args) != 1 {
			r.errorf("usage: /play ID")
			return nil
		}
		playing, err := ctrl.TogglePlayback(args[0])
		switch {
		case err != nil:
			r.errorf("%v", err)
		case playing:
			r.notice("playing")
		default:
			r.notice("paused")
		}
	case "/preview":
		conv, err := ctrl.Preview(ctx)
		if err != nil {
			r.errorf("%v", err)
			return nil
		}
		r.preview(conv)
	case "/export":
		if len(args) != 2 {
			r.errorf("usage: /export FORMAT PATH")
			return nil
		}
		selected, ok := a.store.Selected()
		if !ok {
			r.errorf("%v", controller.ErrNoSession)
			return nil
		}
		path, err := exportSession(selected, args[0], args[1])
		if err != nil {
			r.errorf("%v", err)
			return nil
		}
		r.notice("exported chat %d to %s", selected.ID, path)
	default:
		r.errorf("unknown command %s, /help lists commands", command)
	}
	return nil
}

// send takes the pending input now, before the next line can replace it, and
// delivers it on the errgroup.
func (a *app) send(ctx context.Context, g *errgroup.Group, r *renderer) {
	deliver, err := a.controller.Prepare()
	if err != nil {
		reportSend(r, err)
		return
	}
	g.Go(func() error {
		if _, err := deliver(ctx); err != nil {
			reportSend(r, err)
		}
		return nil
	})
}

func reportSend(r *renderer, err error) {
	switch {
	case errors.Is(err, controller.ErrNothingToSend):
		r.notice("nothing to send")
	case errors.Is(err, context.Canceled):
	default:
		logger.Warn("send failed", zap.Error(err))
		r.errorf("%v", err)
	}
}

func sessionArg(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one chat number")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid chat number %q", args[0])
	}
	return id, nil
}
