package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"schemadump/internal/schema"
)

// YAML emits the whole model as schema.yaml, same shape as JSON.
type YAML struct{}

func (YAML) Format() string { return "yaml" }

func (YAML) Render(m *schema.Model, cfg Config) ([]Artifact, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(cfg.IndentWidth)
	if err := enc.Encode(document(m)); err != nil {
		return nil, fmt.Errorf("render: yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render: yaml: %w", err)
	}
	return []Artifact{{Path: "schema.yaml", Content: buf.Bytes()}}, nil
}
