package pronunciation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const configSchemaURL = "schema://pronunciation-assessment-config.json"

var (
	configSchemaOnce sync.Once
	configSchema     *jsonschema.Schema
	configSchemaErr  error
)

// ConfigSchemaDefinition returns the JSON Schema of the canonical config.
// Unknown keys are tolerated so newer producers do not break older readers.
func ConfigSchemaDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"referenceText": map[string]any{"type": "string"},
			"gradingSystem": map[string]any{
				"type": "string",
				"enum": stringsToAny(GradingSystemNames()),
			},
			"granularity": map[string]any{
				"type": "string",
				"enum": stringsToAny(GranularityNames()),
			},
			"dimension": map[string]any{
				"type": "string",
				"enum": stringsToAny(DimensionNames()),
			},
			"enableMiscue": map[string]any{"type": "boolean"},
			"scenarioId":   map[string]any{"type": "string"},
		},
		"required": []any{"referenceText", "gradingSystem", "granularity"},
	}
}

// validateConfigDocument checks raw config JSON against the compiled schema.
func validateConfigDocument(data []byte) error {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return malformed(data, fmt.Errorf("invalid JSON: %w", err))
	}

	schema, err := compiledConfigSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return malformed(data, fmt.Errorf("schema validation failed: %w", err))
	}
	return nil
}

func compiledConfigSchema() (*jsonschema.Schema, error) {
	configSchemaOnce.Do(func() {
		// The compiler wants plain decoded JSON values, not typed Go maps.
		defBytes, err := json.Marshal(ConfigSchemaDefinition())
		if err != nil {
			configSchemaErr = fmt.Errorf("marshal schema definition: %w", err)
			return
		}
		var defParsed any
		if err := json.Unmarshal(defBytes, &defParsed); err != nil {
			configSchemaErr = fmt.Errorf("parse schema definition: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(configSchemaURL, defParsed); err != nil {
			configSchemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		configSchema, configSchemaErr = c.Compile(configSchemaURL)
	})
	return configSchema, configSchemaErr
}

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
