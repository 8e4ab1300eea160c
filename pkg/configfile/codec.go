// Package configfile loads, edits and writes back structured configuration
// files whose format (JSON, TOML or YAML) is sniffed from their content.
package configfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Codec decodes documents into the canonical tree and encodes them back.
type Codec interface {
	Name() string
	Extensions() []string
	Decode(data []byte) (any, error)
	Encode(v any) ([]byte, error)
}

// UnknownFormatError is returned when no codec accepts a document.
type UnknownFormatError struct {
	Path string
	Errs []error
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("unknown config file format: %s", e.Path)
}

func (e *UnknownFormatError) Unwrap() []error { return e.Errs }

// Registry is an ordered set of codecs.
type Registry struct {
	codecs []Codec
}

// NewRegistry creates a registry trying codecs in the given order.
func NewRegistry(codecs ...Codec) *Registry {
	return &Registry{codecs: codecs}
}

// DefaultRegistry tries json, toml and yaml, in that order.
var DefaultRegistry = NewRegistry(JSONCodec{}, TOMLCodec{}, YAMLCodec{})

// Lookup returns the codec called name.
func (r *Registry) Lookup(name string) (Codec, bool) {
	for _, c := range r.codecs {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ForExtension returns the codec claiming path's extension.
func (r *Registry) ForExtension(path string) (Codec, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return nil, false
	}
	for _, c := range r.codecs {
		for _, e := range c.Extensions() {
			if e == ext {
				return c, true
			}
		}
	}
	return nil, false
}

// Sniff decodes data with the first codec that accepts it, starting with the
// codec matching path's extension.
func (r *Registry) Sniff(path string, data []byte) (any, Codec, error) {
	order := make([]Codec, 0, len(r.codecs))
	if hint, ok := r.ForExtension(path); ok {
		order = append(order, hint)
	}
	for _, c := range r.codecs {
		if len(order) > 0 && c.Name() == order[0].Name() {
			continue
		}
		order = append(order, c)
	}

	var errs []error
	for _, c := range order {
		v, err := c.Decode(data)
		if err == nil {
			return v, c, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
	}
	return nil, nil, &UnknownFormatError{Path: path, Errs: errs}
}

// JSONCodec reads JSON, tolerating comments and trailing commas.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Extensions() []string { return []string{".json", ".jsonc"} }

func (JSONCodec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after document")
	}
	return Normalize(v), nil
}

func (JSONCodec) Encode(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// TOMLCodec reads and writes TOML documents.
type TOMLCodec struct{}

func (TOMLCodec) Name() string { return "toml" }
func (TOMLCodec) Extensions() []string { return []string{".toml"} }

func (TOMLCodec) Decode(data []byte) (any, error) {
	var v map[string]any
	md, err := toml.Decode(string(data), &v)
	if err != nil {
		return nil, err
	}
	if len(md.Keys()) == 0 {
		return nil, errors.New("empty document")
	}
	return Normalize(v), nil
}

func (TOMLCodec) Encode(v any) ([]byte, error) {
	if _, ok := v.(map[string]any); !ok {
		return nil, fmt.Errorf("toml documents must be tables, got %T", v)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// YAMLCodec reads and writes YAML documents. Only mappings and sequences are
// accepted at the root.
type YAMLCodec struct{}

func (YAMLCodec) Name() string { return "yaml" }
func (YAMLCodec) Extensions() []string { return []string{".yaml", ".yml"} }

func (YAMLCodec) Decode(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	v = Normalize(v)
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	case nil:
		return nil, errors.New("empty document")
	default:
		return nil, fmt.Errorf("document root is a %T scalar", v)
	}
}

func (YAMLCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
