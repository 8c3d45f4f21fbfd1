package export

import (
	"encoding/json"
	"io"

	"github.com/zhouzirui/azmth/internal/model/chat"
)

// JSONExporter writes indented JSON.
type JSONExporter struct{}

func (JSONExporter) Export(session chat.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(session)
}

func (JSONExporter) Extension() string { return "json" }
