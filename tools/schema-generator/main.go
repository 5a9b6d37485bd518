// Command schema-generator writes the embedded livequery.yml schema: the
// reflected Config schema with the logging and tui extension sections
// composed in.
package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/spf13/pflag"

	"github.com/grovetools/livequery/config"
	"github.com/grovetools/livequery/logging"
)

func main() {
	out := pflag.StringP("out", "o", "../schema/livequery.embedded.schema.json", "Output path of the composed schema")
	pflag.Parse()

	baseBytes, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("Error generating schema: %v", err)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(baseBytes, &schema); err != nil {
		log.Fatalf("Error parsing base schema: %v", err)
	}

	loggingSchema, err := reflectLogging()
	if err != nil {
		log.Fatalf("Error generating logging schema: %v", err)
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		properties = make(map[string]interface{})
		schema["properties"] = properties
	}
	properties["logging"] = loggingSchema
	properties["tui"] = map[string]interface{}{
		"type":                 "object",
		"description":          "Terminal UI settings.",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"theme": map[string]interface{}{
				"type":        "string",
				"description": "Color theme (LIVEQUERY_THEME overrides)",
				"enum":        []string{"kanagawa", "terminal"},
			},
		},
	}
	// Extension sections may be added by other tools.
	schema["additionalProperties"] = true

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling schema: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		log.Fatalf("Error creating schema directory: %v", err)
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Successfully generated schema at %s", *out)
}

// reflectLogging returns the schema of the logging extension section.
func reflectLogging() (map[string]interface{}, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
		DoNotReference:            true,
		FieldNameTag:              "yaml",
	}

	s := r.Reflect(&logging.Config{})
	s.Version = ""
	s.ID = ""
	s.Title = ""
	s.Description = "Logging settings for every livequery component."
	// All fields are optional
	s.Required = nil

	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
