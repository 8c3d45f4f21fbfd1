package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/azmth/internal/model/chat"
)

// MarkdownExporter writes a readable transcript.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(session chat.Session, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chat %d\n\n", session.ID)
	if session.HasConversation() {
		fmt.Fprintf(&b, "**Conversation:** %s  \n", session.ConversationID)
	}
	if !session.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "**Started:** %s  \n", session.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "**Messages:** %d\n", len(session.Messages))

	for _, msg := range session.Messages {
		author := "Azmth"
		if msg.IsUser() {
			author = "You"
		}
		b.WriteString("\n---\n\n")
		fmt.Fprintf(&b, "**%s**", author)
		if !msg.Timestamp.IsZero() {
			fmt.Fprintf(&b, " (%s)", msg.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("\n\n")
		b.WriteString(escapeMarkdown(msg.Content))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (MarkdownExporter) Extension() string { return "md" }

// escapeMarkdown neutralizes emphasis markers outside fenced code blocks.
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", `\*\*`)
		lines[i] = strings.ReplaceAll(line, "__", `\_\_`)
	}
	return strings.Join(lines, "\n")
}
