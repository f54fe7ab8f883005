package collector

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://opix.local/schema/event-v1.schema.json"

//go:embed schema/event-v1.schema.json
var eventSchema []byte

// Validator checks attribute documents against the protocol v1 schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded protocol schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(eventSchema)); err != nil {
		return nil, fmt.Errorf("event schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("event schema compile failed: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate reports the first schema violation in attrs, if any.
func (v *Validator) Validate(attrs map[string]any) error {
	if err := v.schema.Validate(attrs); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
