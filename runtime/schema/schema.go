// Package schema compiles JSON Schema documents and validates raw JSON
// values against them. It is shared by the tool registry (arguments and
// results) and the structured-output adapters (model responses).
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema together with its source document.
type Schema struct {
	name     string
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// Compile parses and compiles doc. name identifies the schema in error
// messages and must be unique within a process only for readability.
func Compile(name string, doc []byte) (*Schema, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil, fmt.Errorf("schema %q: document is empty", name)
	}
	parsed, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema %q: unmarshal: %w", name, err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, parsed); err != nil {
		return nil, fmt.Errorf("schema %q: add resource: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %q: compile: %w", name, err)
	}
	return &Schema{name: name, raw: append(json.RawMessage(nil), doc...), compiled: compiled}, nil
}

// MustCompile is like Compile but panics on error. Use it for schemas embedded
// in the binary.
func MustCompile(name string, doc []byte) *Schema {
	s, err := Compile(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Raw returns the schema source document.
func (s *Schema) Raw() json.RawMessage { return s.raw }

// Map returns the schema document decoded as a generic map, as expected by
// provider SDKs that take schemas as map[string]any.
func (s *Schema) Map() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(s.raw, &m); err != nil {
		return nil, fmt.Errorf("schema %q: decode: %w", s.name, err)
	}
	return m, nil
}

// Validate checks data is a JSON document conforming to the schema.
func (s *Schema) Validate(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.New("document is empty")
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return err
	}
	return nil
}
