// Package workflow loads ComfyUI API-format workflow documents and fills the
// prompt text into them.
//
// A workflow is a JSON object keyed by node id. Exactly one field, addressed
// by a path such as 6 -> inputs -> text, receives the user's prompt. The
// value is replaced in place, so every other byte of the (compacted)
// document, key order included, is carried through untouched.
//
// Workflow files are authored on disk as JSONC (JSON with comments and
// trailing commas) and stripped to plain JSON when loaded.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"
)

// DefaultFieldPath addresses the positive-prompt text of the CLIPTextEncode
// node in the stock text-to-image workflow.
var DefaultFieldPath = []string{"6", "inputs", "text"}

var (
	// ErrFieldNotFound is returned when the template does not contain the
	// prompt field. It is a configuration error and is never retried.
	ErrFieldNotFound = errors.New("workflow template is missing the prompt field")
	// ErrInvalidTemplate is returned when the template is not a JSON object
	ErrInvalidTemplate = errors.New("invalid workflow template")
)

// Template is a parsed workflow document with a designated prompt field.
// A Template is immutable and safe for concurrent use.
type Template struct {
	doc   []byte // compact JSON
	path  []string
	query string // path in gjson/sjson syntax
}

// Parse strips JSONC comments and trailing commas from data and returns a
// Template whose prompt field is addressed by fieldPath. The field must
// already exist in the document, below objects only.
func Parse(data []byte, fieldPath []string) (*Template, error) {
	if len(fieldPath) == 0 {
		return nil, fmt.Errorf("%w: empty field path", ErrFieldNotFound)
	}

	stripped := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(stripped) == 0 || stripped[0] != '{' || !json.Valid(stripped) {
		return nil, fmt.Errorf("%w: document must be a JSON object", ErrInvalidTemplate)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, stripped); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}

	t := &Template{
		doc:   buf.Bytes(),
		path:  append([]string(nil), fieldPath...),
		query: query(fieldPath),
	}

	// Check the path once so a broken template fails at load time rather
	// than on the first user command.
	if err := t.lookup(); err != nil {
		return nil, err
	}

	return t, nil
}

// ReadFile reads a JSONC workflow file from disk and parses it.
func ReadFile(path string, fieldPath []string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	t, err := Parse(data, fieldPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return t, nil
}

// ParseFieldPath splits a dotted field path ("6.inputs.text") into its
// components. Empty components are dropped.
func ParseFieldPath(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// FieldPath returns a copy of the prompt field path.
func (t *Template) FieldPath() []string {
	return append([]string(nil), t.path...)
}

// Document returns the unfilled template as compact JSON.
func (t *Template) Document() json.RawMessage {
	return append(json.RawMessage(nil), t.doc...)
}

// Fill returns a copy of the document with the prompt field set to text.
// The template itself is not modified.
func (t *Template) Fill(text string) (json.RawMessage, error) {
	value, err := marshal(text)
	if err != nil {
		return nil, fmt.Errorf("failed to encode prompt text: %w", err)
	}

	filled, err := sjson.SetRawBytes(t.Document(), t.query, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return filled, nil
}

// lookup checks that every step of the path but the last is an object and
// that the field itself exists.
func (t *Template) lookup() error {
	for i := 1; i < len(t.path); i++ {
		if !gjson.GetBytes(t.doc, query(t.path[:i])).IsObject() {
			return fmt.Errorf("%w: %s", ErrFieldNotFound, strings.Join(t.path, " -> "))
		}
	}
	if !gjson.GetBytes(t.doc, t.query).Exists() {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, strings.Join(t.path, " -> "))
	}
	return nil
}

// query joins path components into a gjson/sjson path, escaping every
// character that has a meaning in that syntax.
func query(path []string) string {
	var b strings.Builder
	for i, p := range path {
		if i > 0 {
			b.WriteByte('.')
		}
		for _, r := range p {
			if !isPlain(r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isPlain(r rune) bool {
	return r == '_' || r == '-' || r > 0x7f ||
		(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// marshal encodes v without HTML escaping so that the prompt keeps its
// original characters.
func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
