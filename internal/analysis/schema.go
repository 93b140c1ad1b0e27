package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// outputSchema is the declared shape of the analysis object. The prompt
// carries it verbatim and the parsed output is validated against it after
// repair.
const outputSchema = `{
	"type": "object",
	"required": ["provider", "patient", "diagnoses", "plan", "warnings"],
	"properties": {
		"provider": {"type": "string"},
		"patient": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"dob": {"type": "string"},
				"mrn": {"type": "string"}
			}
		},
		"visit_date": {"type": "string"},
		"summary": {"type": "string"},
		"diagnoses": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["label"],
				"properties": {
					"number": {"type": "integer"},
					"code": {"type": "string"},
					"label": {"type": "string"},
					"bullets": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"plan": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"number": {"type": "integer"},
					"title": {"type": "string"},
					"bullets": {"type": "array", "items": {"type": "string"}},
					"dx_numbers": {"type": "array", "items": {"type": "integer"}}
				}
			}
		},
		"warnings": {"type": "array", "items": {"type": "string"}}
	}
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("analysis.json", bytes.NewReader([]byte(outputSchema))); err != nil {
		panic(fmt.Sprintf("analysis: schema resource: %v", err))
	}
	schema, err := compiler.Compile("analysis.json")
	if err != nil {
		panic(fmt.Sprintf("analysis: schema compile: %v", err))
	}
	return schema
}

// validateOutput checks a repaired analysis document against the declared
// schema.
func validateOutput(doc json.RawMessage) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("failed to decode analysis for validation: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("analysis output does not match schema: %w", err)
	}
	return nil
}
