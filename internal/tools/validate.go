package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError reports arguments that do not satisfy a tool's schema.
type ValidationError struct {
	Tool     string
	Problems []string
	Missing  []string
	Required []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// Hint tells the model which parameters the tool needs.
func (e *ValidationError) Hint() string {
	switch {
	case len(e.Missing) > 0:
		return "Missing required parameters: " + strings.Join(e.Missing, ", ") + "."
	case len(e.Required) > 0:
		return "Required parameters: " + strings.Join(e.Required, ", ") + "."
	default:
		return "Check the argument types against the tool schema."
	}
}

// StatusCode classifies the failure as invalid input.
func (e *ValidationError) StatusCode() int { return http.StatusUnprocessableEntity }

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// ErrSchemaUnusable is returned when a tool's schema cannot be compiled.
var ErrSchemaUnusable = errors.New("tool schema unusable")

// ValidateArgs checks args against schema. An empty schema accepts anything.
func ValidateArgs(tool string, schema, args json.RawMessage) error {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaUnusable, tool, err)
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ValidationError{Tool: tool, Problems: []string{"arguments are not valid JSON"}}
	}

	err = compiled.Validate(decoded)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("validate %s arguments: %w", tool, err)
	}

	required := requiredParams(schema)
	out := &ValidationError{
		Tool:     tool,
		Problems: leafMessages(verr),
		Required: required,
	}
	if obj, ok := decoded.(map[string]any); ok {
		for _, name := range required {
			if _, present := obj[name]; !present {
				out.Missing = append(out.Missing, name)
			}
		}
	} else {
		out.Missing = required
	}
	return out
}

func leafMessages(verr *jsonschema.ValidationError) []string {
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return msgs
}

func requiredParams(schema json.RawMessage) []string {
	var doc struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil
	}
	sort.Strings(doc.Required)
	return doc.Required
}
