package render

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"schemadump/internal/schema"
)

// codeWriter accumulates indented source lines.
type codeWriter struct {
	buf    bytes.Buffer
	indent string
	depth  int
}

func newCodeWriter(width int) *codeWriter {
	return &codeWriter{indent: strings.Repeat(" ", width)}
}

// line writes one indented line; an empty format writes a blank line.
func (w *codeWriter) line(format string, args ...any) {
	if format == "" {
		w.buf.WriteByte('\n')
		return
	}
	for i := 0; i < w.depth; i++ {
		w.buf.WriteString(w.indent)
	}
	fmt.Fprintf(&w.buf, format, args...)
	w.buf.WriteByte('\n')
}

// open writes a line and indents what follows.
func (w *codeWriter) open(format string, args ...any) {
	w.line(format, args...)
	w.depth++
}

// close dedents and writes a line.
func (w *codeWriter) close(format string, args ...any) {
	w.depth--
	w.line(format, args...)
}

func (w *codeWriter) bytes() []byte { return w.buf.Bytes() }

// banner writes the generated-file header using the comment prefix of the
// target format.
func banner(w *codeWriter, prefix string, mod *schema.Module) {
	c := mod.Counts()
	w.line("%s Generated by schemadump. Do not edit.", prefix)
	w.line("%s Module: %s", prefix, commentText(mod.Name))
	w.line("%s Classes: %d, Enums: %d, Offsets: %d", prefix, c.Classes, c.Enums, c.Offsets)
}

// parentText describes a class parent for comments.
func parentText(c *schema.Class) string {
	if c.Parent == "" {
		return "None"
	}
	return commentText(c.Parent)
}

// trailing returns " <prefix> text" for a non-empty comment.
func trailing(prefix, text string) string {
	if text == "" {
		return ""
	}
	return " " + prefix + " " + commentText(text)
}

// perModule renders one file per module at <dir>/<dir>.<ext>.
func perModule(m *schema.Model, ext string, fn func(mod *schema.Module, dir string) []byte) []Artifact {
	dirs := moduleDirs(m)
	out := make([]Artifact, len(m.Modules))
	for i, mod := range m.Modules {
		out[i] = Artifact{
			Path:    path.Join(dirs[i], dirs[i]+"."+ext),
			Content: fn(mod, dirs[i]),
		}
	}
	return out
}
