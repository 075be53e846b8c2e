package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"schemadump/internal/schema"
)

// JSON emits the whole model as schema.json.
type JSON struct{}

func (JSON) Format() string { return "json" }

func (JSON) Render(m *schema.Model, cfg Config) ([]Artifact, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", strings.Repeat(" ", cfg.IndentWidth))
	if err := enc.Encode(document(m)); err != nil {
		return nil, fmt.Errorf("render: json: %w", err)
	}
	return []Artifact{{Path: "schema.json", Content: buf.Bytes()}}, nil
}
