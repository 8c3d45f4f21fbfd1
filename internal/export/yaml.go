package export

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/azmth/internal/model/chat"
)

// YAMLExporter writes the session as a YAML document.
type YAMLExporter struct{}

func (YAMLExporter) Export(session chat.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()

	return enc.Encode(session)
}

func (YAMLExporter) Extension() string { return "yaml" }
