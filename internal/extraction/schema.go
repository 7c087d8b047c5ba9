package extraction

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a named, resolved JSON Schema. A nil *Schema accepts anything.
type Schema struct {
	name     string
	resolved *jsonschema.Resolved
}

// NewSchema resolves s under name. The name keys the parse cache.
func NewSchema(name string, s *jsonschema.Schema) (*Schema, error) {
	if name == "" {
		return nil, fmt.Errorf("schema name is required")
	}
	if s == nil {
		return nil, fmt.Errorf("schema %q is nil", name)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %q: %w", name, err)
	}
	return &Schema{name: name, resolved: resolved}, nil
}

// SchemaFor infers a schema from T.
func SchemaFor[T any](name string) (*Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema %q: %w", name, err)
	}
	return NewSchema(name, s)
}

// Name returns the schema name, or "none" for a nil schema.
func (s *Schema) Name() string {
	if s == nil {
		return "none"
	}
	return s.name
}

// Validate checks a decoded JSON value.
func (s *Schema) Validate(v any) error {
	if s == nil {
		return nil
	}
	return s.resolved.Validate(v)
}
