package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/azmth/internal/controller"
	"github.com/zhouzirui/azmth/internal/model/chat"
	"github.com/zhouzirui/azmth/internal/service/remote"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	contentStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// idLength is how much of a message id the transcript shows for /play.
const idLength = 8

// renderer prints the selected session as it grows. All terminal output of the
// chat loop goes through it so lines from concurrent sends never interleave.
type renderer struct {
	mu        sync.Mutex
	out       io.Writer
	selected  int
	printed   map[int]int
	lastState controller.State
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[int]int), lastState: controller.StateIdle}
}

func (r *renderer) banner(backend string, mode controller.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, headerStyle.Render("Azmth"))
	fmt.Fprintln(r.out, metaStyle.Render(fmt.Sprintf("backend: %s · mode: %s · /help for commands", backend, mode)))
}

// showSession redraws session from the start and makes it the followed one.
func (r *renderer) showSession(session chat.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = session.ID

	title := fmt.Sprintf("Chat %d", session.ID)
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render(title))
	if session.HasConversation() {
		fmt.Fprintln(r.out, metaStyle.Render("conversation "+session.ConversationID))
	}
	for _, msg := range session.Messages {
		r.printMessage(msg)
	}
	r.printed[session.ID] = len(session.Messages)
}

// onSession is the session store listener.
func (r *renderer) onSession(session chat.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID != r.selected {
		return
	}
	for _, msg := range session.Messages[min(r.printed[session.ID], len(session.Messages)):] {
		r.printMessage(msg)
	}
	r.printed[session.ID] = len(session.Messages)
}

func (r *renderer) printMessage(msg chat.Message) {
	author := assistantStyle.Render("Azmth")
	if msg.IsUser() {
		author = userStyle.Render("You")
	}
	line := author + " " + timestampStyle.Render(msg.Timestamp.Local().Format("15:04:05"))
	if msg.AudioURL != "" {
		line += " " + metaStyle.Render("[/play "+shortID(msg.ID)+"]")
	}
	fmt.Fprintln(r.out, line)
	fmt.Fprintln(r.out, contentStyle.Render(msg.Content))
}

// onState reports state machine transitions.
func (r *renderer) onState(snap controller.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.State == r.lastState {
		return
	}
	r.lastState = snap.State
	switch snap.State {
	case controller.StateRecording:
		fmt.Fprintln(r.out, noticeStyle.Render("● recording, /rec again to stop"))
	case controller.StateSending:
		fmt.Fprintln(r.out, metaStyle.Render("sending..."))
	case controller.StateIdle:
		if snap.Mode == controller.ModeVoice && snap.HasPendingClip {
			fmt.Fprintln(r.out, noticeStyle.Render(fmt.Sprintf("recorded %q, /send to deliver", snap.PendingTranscript)))
		} else if snap.Mode == controller.ModeText && snap.Draft != "" {
			fmt.Fprintln(r.out, noticeStyle.Render(fmt.Sprintf("draft: %q, /send to deliver", snap.Draft)))
		}
	}
}

func (r *renderer) sessions(list []chat.Session, current, selected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range list {
		marker := " "
		switch {
		case s.ID == current && s.ID == selected:
			marker = "*"
		case s.ID == current:
			marker = ">"
		case s.ID == selected:
			marker = "~"
		}
		fmt.Fprintf(r.out, "%s Chat %-3d %s\n", marker, s.ID,
			metaStyle.Render(fmt.Sprintf("%d message(s) %s", len(s.Messages), s.CreatedAt.Local().Format("2006-01-02 15:04"))))
	}
}

func (r *renderer) preview(conv remote.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, headerStyle.Render("Conversation "+conv.ID))
	for _, m := range conv.Messages {
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" && content == "" {
			fmt.Fprintln(r.out, contentStyle.Render(fmt.Sprint(m)))
			continue
		}
		fmt.Fprintf(r.out, "%s %s\n", metaStyle.Render(role+":"), content)
	}
	if len(conv.Messages) == 0 && len(conv.Raw) > 0 {
		if raw, err := yaml.Marshal(conv.Raw); err == nil {
			fmt.Fprintln(r.out, contentStyle.Render(strings.TrimSpace(string(raw))))
		}
	}
}

func (r *renderer) notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, noticeStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, errorStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) help() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, strings.TrimSpace(helpText))
}

func shortID(id string) string {
	if len(id) > idLength {
		return id[:idLength]
	}
	return id
}

const helpText = `
/new              start a new chat
/switch N         continue chat N
/select N         view chat N without switching
/sessions         list chats
/voice, /text     switch input mode
/rec              start or stop recording
/send             send the draft or the recorded message
/play ID          play or pause a recorded message
/preview          show the remote conversation of the viewed chat
/export FMT PATH  export the viewed chat (json, yaml, md)
/quit             leave
`
