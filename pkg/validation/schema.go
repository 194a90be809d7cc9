package validation

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const entityDescriptorSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "pointers", "timestamp", "content"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "pointers": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "timestamp": {"type": "integer"},
    "content": {"type": "object", "additionalProperties": {"type": "string"}},
    "metadata": {}
  }
}`

// EntityDescriptorSchema is compiled once and reused by Shape, grounded on
// the same jsonschema/v5 compile-then-validate idiom the corpus uses for
// tool-call parameter validation.
var EntityDescriptorSchema = compileEntitySchema()

func compileEntitySchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://contentmesh.example/schemas/entity.schema.json"
	if err := c.AddResource(url, strings.NewReader(entityDescriptorSchema)); err != nil {
		panic(fmt.Sprintf("validation: entity schema failed to load: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("validation: entity schema failed to compile: %v", err))
	}
	return compiled
}

// Shape validates raw decoded entity JSON (as a map[string]any, the form
// jsonschema/v5 requires) against the canonical entity descriptor shape.
// The deploy pipeline does not call it; entity.Parse applies its own
// shape checks.
func Shape(doc map[string]any) error {
	if err := EntityDescriptorSchema.Validate(doc); err != nil {
		return fmt.Errorf("entity shape validation failed: %w", err)
	}
	return nil
}
