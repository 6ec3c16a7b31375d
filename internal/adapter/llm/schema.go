package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// fieldsSchema describes the model output. Every field is optional and
// nullable; extra keys are tolerated.
func fieldsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_type": map[string]any{
				"enum": []any{"invoice", "receipt", "unknown", nil},
			},
			"invoice_number": map[string]any{
				"type":      []any{"string", "null"},
				"minLength": 1,
			},
			"invoice_date": map[string]any{
				"type":    []any{"string", "null"},
				"pattern": `^\d{4}-\d{2}-\d{2}$`,
			},
			"total_amount": map[string]any{
				"type": []any{"number", "null"},
			},
			"currency": map[string]any{
				"type":    []any{"string", "null"},
				"pattern": `^[A-Z]{3}$`,
			},
		},
	}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("fields.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("fields.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, doc map[string]any) error {
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
