package tools

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/internal/infra"
)

const searchSchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"limit": {"type": "integer", "minimum": 1, "maximum": 50}
	},
	"required": ["query", "limit"],
	"additionalProperties": false
}`

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name        string
		schema      string
		args        string
		wantErr     bool
		wantMissing []string
		wantHint    string
	}{
		{name: "valid", schema: searchSchema, args: `{"query":"go","limit":5}`},
		{name: "no schema accepts anything", schema: "", args: `{"whatever":true}`},
		{name: "empty args treated as object", schema: `{"type":"object"}`, args: ""},
		{
			name:        "missing required",
			schema:      searchSchema,
			args:        `{"query":"go"}`,
			wantErr:     true,
			wantMissing: []string{"limit"},
			wantHint:    "Missing required parameters: limit.",
		},
		{
			name:        "all missing",
			schema:      searchSchema,
			args:        `{}`,
			wantErr:     true,
			wantMissing: []string{"limit", "query"},
			wantHint:    "Missing required parameters: limit, query.",
		},
		{
			name:     "wrong type",
			schema:   searchSchema,
			args:     `{"query":"go","limit":"five"}`,
			wantErr:  true,
			wantHint: "Required parameters: limit, query.",
		},
		{
			name:     "unknown property",
			schema:   searchSchema,
			args:     `{"query":"go","limit":1,"extra":1}`,
			wantErr:  true,
			wantHint: "Required parameters: limit, query.",
		},
		{
			name:     "not an object",
			schema:   searchSchema,
			args:     `["go"]`,
			wantErr:  true,
			wantHint: "Missing required parameters: limit, query.",
		},
		{
			name:     "not json",
			schema:   searchSchema,
			args:     `{"query":`,
			wantErr:  true,
			wantHint: "Check the argument types against the tool schema.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs("search", json.RawMessage(tt.schema), json.RawMessage(tt.args))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if strings.Join(verr.Missing, ",") != strings.Join(tt.wantMissing, ",") {
				t.Errorf("Missing = %v, want %v", verr.Missing, tt.wantMissing)
			}
			if verr.Hint() != tt.wantHint {
				t.Errorf("Hint = %q, want %q", verr.Hint(), tt.wantHint)
			}
			if len(verr.Problems) == 0 || !strings.Contains(verr.Error(), "invalid arguments for search") {
				t.Errorf("Error = %q", verr.Error())
			}
			if verr.StatusCode() != http.StatusUnprocessableEntity || infra.IsTransient(err) {
				t.Error("validation errors must be permanent invalid-input failures")
			}
		})
	}
}

func TestValidateArgs_UnusableSchema(t *testing.T) {
	err := ValidateArgs("bad", json.RawMessage(`{"type": 12}`), json.RawMessage(`{}`))
	if !errors.Is(err, ErrSchemaUnusable) {
		t.Fatalf("err = %v, want ErrSchemaUnusable", err)
	}
}

func TestCompileSchemaCaches(t *testing.T) {
	a, err := compileSchema(json.RawMessage(searchSchema))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	b, _ := compileSchema(json.RawMessage(searchSchema))
	if a != b {
		t.Error("identical schemas should share a compiled instance")
	}
}

func TestSchemaFor(t *testing.T) {
	var doc struct {
		Type                 string                     `json:"type"`
		Required             []string                   `json:"required"`
		Properties           map[string]json.RawMessage `json:"properties"`
		AdditionalProperties *bool                      `json:"additionalProperties"`
		Schema               string                     `json:"$schema"`
	}
	if err := json.Unmarshal(SchemaFor[echoArgs](), &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc.Type != "object" {
		t.Errorf("type = %q", doc.Type)
	}
	if strings.Join(doc.Required, ",") != "text" {
		t.Errorf("required = %v, want [text]", doc.Required)
	}
	if _, ok := doc.Properties["times"]; !ok {
		t.Errorf("properties = %v", doc.Properties)
	}
	if doc.AdditionalProperties == nil || *doc.AdditionalProperties {
		t.Error("unknown properties should be rejected")
	}
	if doc.Schema != "" {
		t.Errorf("$schema should be omitted, got %q", doc.Schema)
	}
	if err := ValidateArgs("echo", SchemaFor[echoArgs](), json.RawMessage(`{"text":"hi","times":3}`)); err != nil {
		t.Errorf("reflected schema rejects valid args: %v", err)
	}
}
