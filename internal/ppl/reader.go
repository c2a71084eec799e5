package ppl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

// Ext is the required pipeline file extension.
const Ext = ".ppl"

// Line is one cleaned command line, tagged with its origin for error
// reporting across include boundaries.
type Line struct {
	Number int
	Text   string
	File   string
}

// Reader loads pipeline files and splices 'include' directives in place.
// Includes may nest; a cycle among files is rejected. A non-empty sandbox
// root restricts every include target, since includes are read before the
// pipeline (and any 'set sandbox' line in it) runs.
type Reader struct {
	includes graph.Graph[string, string]
	sandbox  string
}

func NewReader(sandbox string) *Reader {
	return &Reader{
		includes: graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles()),
		sandbox:  sandbox,
	}
}

// Read returns the cleaned lines of the pipeline at path, with every
// include replaced by the lines of the included file.
func (r *Reader) Read(path string) ([]Line, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	_ = r.includes.AddVertex(abs)
	return r.read(abs)
}

func (r *Reader) read(path string) ([]Line, error) {
	if filepath.Ext(path) != Ext {
		return nil, fmt.Errorf("pipeline file must have a '%s' extension, got '%s'", Ext, filepath.Base(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrFileNotFound, "pipeline file not found: '%s'", path)
		}
		return nil, err
	}

	var out []Line
	for i, rawLine := range strings.Split(string(raw), "\n") {
		text := cleanLine(rawLine)
		if text == "" {
			continue
		}
		line := Line{Number: i + 1, Text: text, File: path}
		if target, ok := includeTarget(text); ok {
			spliced, err := r.include(path, target, line)
			if err != nil {
				return nil, err
			}
			out = append(out, spliced...)
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *Reader) include(from, target string, at Line) ([]Line, error) {
	child := target
	if !filepath.IsAbs(child) {
		child = filepath.Join(filepath.Dir(from), child)
	}
	child = filepath.Clean(child)
	if err := checkSandbox(r.sandbox, child); err != nil {
		return nil, errors.Wrapf(err, "Line %d: include", at.Number)
	}
	if child == from {
		return nil, errors.Wrapf(ErrIncludeCycle,
			"Line %d: '%s' includes itself", at.Number, from)
	}

	_ = r.includes.AddVertex(child)
	if err := r.includes.AddEdge(from, child); err != nil {
		if errors.Is(err, graph.ErrEdgeCreatesCycle) {
			return nil, errors.Wrapf(ErrIncludeCycle,
				"Line %d: including '%s' from '%s' would loop", at.Number, target, from)
		}
		if !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return nil, err
		}
	}
	return r.read(child)
}

// includeTarget matches an 'include "path"' directive.
func includeTarget(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 || strings.ToLower(fields[0]) != "include" {
		return "", false
	}
	rest := strings.TrimSpace(text[len(fields[0]):])
	return trimQuotes(rest), true
}

// cleanLine trims whitespace, drops blank and comment-only lines, and
// strips an inline comment. An inline comment starts at a '#' that is
// preceded by whitespace and not inside a quoted string.
func cleanLine(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "#") {
		return ""
	}
	inQuote := false
	runes := []rune(s)
	for i, c := range runes {
		switch {
		case c == '"':
			inQuote = !inQuote
		case c == '#' && !inQuote && i > 0 && unicode.IsSpace(runes[i-1]):
			return strings.TrimSpace(string(runes[:i]))
		}
	}
	return s
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
