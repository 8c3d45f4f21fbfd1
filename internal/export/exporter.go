// Package export writes chat sessions to files in a few portable formats.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/zhouzirui/azmth/internal/model/chat"
)

// Exporter writes one session in a single format.
type Exporter interface {
	Export(session chat.Session, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return JSONExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	case "md", "markdown":
		return MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
	}
}
