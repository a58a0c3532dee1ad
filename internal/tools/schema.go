package tools

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

var reflectedSchemas sync.Map // reflect.Type -> json.RawMessage

// SchemaFor reflects the parameter schema of T. Fields without omitempty
// are required and unknown properties are rejected.
func SchemaFor[T any]() json.RawMessage {
	var zero T
	typ := reflect.TypeOf(zero)
	if cached, ok := reflectedSchemas.Load(typ); ok {
		return cached.(json.RawMessage)
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(&zero)
	schema.Version = ""
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	reflectedSchemas.Store(typ, json.RawMessage(payload))
	return payload
}
