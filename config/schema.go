package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON Schema for livequery.yml. Sections are
// strict; unknown top-level keys are allowed because they hold extension
// sections such as logging.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		DoNotReference:            true,
		// Use YAML field names for property names
		FieldNameTag: "yaml",
	}

	schema := r.Reflect(&Config{})
	schema.Title = "livequery Configuration"
	schema.Description = "Schema for livequery.yml."
	schema.Version = "http://json-schema.org/draft-07/schema#"
	schema.AdditionalProperties = jsonschema.TrueSchema
	schema.Required = nil

	return json.MarshalIndent(schema, "", "  ")
}
