package agent

import (
	"errors"
	"testing"
)

func TestParseToolArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "strict", raw: `{"a": 1, "b": "x"}`, want: `{"a":1,"b":"x"}`},
		{name: "empty", raw: "  ", want: `{}`},
		{name: "null", raw: "null", want: `{}`},
		{name: "trailing comma", raw: `{"a": [1, 2,], }`, want: `{"a":[1,2]}`},
		{name: "single quotes", raw: `{'a': 'it\'s'}`, want: `{"a":"it's"}`},
		{name: "smart quotes", raw: `{“a”: “b”}`, want: `{"a":"b"}`},
		{name: "surrounding prose", raw: "Here you go: {\"city\": \"Paris\"} thanks", want: `{"city":"Paris"}`},
		{name: "comma inside string kept", raw: `{"a": "x,}",}`, want: `{"a":"x,}"}`},
		{name: "array rejected", raw: `[1, 2]`, wantErr: true},
		{name: "garbage", raw: `not json`, wantErr: true},
		{name: "unbalanced", raw: `{"a": 1`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseToolArgs(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, errMalformedArgs) {
					t.Fatalf("parseToolArgs(%q) error = %v, want errMalformedArgs", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseToolArgs(%q) error = %v", tt.raw, err)
			}
			if string(got) != tt.want {
				t.Errorf("parseToolArgs(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}
