package tool

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var resolved sync.Map // *jsonschema.Schema -> *jsonschema.Resolved

// Validate checks args against the tool's own validator when it has one,
// otherwise against its parameter schema.
func Validate(t Tool, args map[string]any) error {
	if v, ok := t.(Validator); ok {
		return v.Validate(args)
	}
	return ValidateSchema(t.Parameters(), args)
}

// ValidateSchema checks args against a JSON schema. A nil schema accepts anything.
func ValidateSchema(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}

	rs, err := resolve(schema)
	if err != nil {
		return fmt.Errorf("invalid parameter schema: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}
	return rs.Validate(args)
}

func resolve(schema *jsonschema.Schema) (*jsonschema.Resolved, error) {
	if rs, ok := resolved.Load(schema); ok {
		return rs.(*jsonschema.Resolved), nil
	}

	rs, err := schema.Resolve(nil)
	if err != nil {
		return nil, err
	}

	actual, _ := resolved.LoadOrStore(schema, rs)
	return actual.(*jsonschema.Resolved), nil
}

// Object builds an object schema from property schemas and required names.
func Object(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// String builds a described string property.
func String(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

// Integer builds a described integer property.
func Integer(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

// Boolean builds a described boolean property.
func Boolean(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}
