package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/haasonsaas/conduit/schema/config.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema describes the configuration file, including the $include
// directive, for editors and `conduit config schema`.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:   "yaml",
			ExpandedStruct: true,
		}
		schema := r.Reflect(&Config{})
		schema.ID = schemaID
		schema.Title = "conduit configuration"
		if schema.Properties != nil {
			schema.Properties.Set(includeKey, &jsonschema.Schema{
				Description: "Files merged underneath this one, relative to it.",
				OneOf: []*jsonschema.Schema{
					{Type: "string"},
					{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				},
			})
		}
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
