package agent

import (
	"strings"
	"testing"
)

func TestToolCallAccumulator(t *testing.T) {
	acc := newToolCallAccumulator()
	// Fragments arrive interleaved; the id for index 1 arrives late.
	acc.Add(ToolCallDelta{Index: 1, Name: "search", Arguments: `{"q":`})
	acc.Add(ToolCallDelta{Index: 0, ID: "a", Name: "get_", Arguments: `{"id"`})
	acc.Add(ToolCallDelta{Index: 0, Name: "weather", Arguments: `:1}`})
	acc.Add(ToolCallDelta{Index: 1, ID: "b", Name: "search", Arguments: `"go"}`})
	acc.Add(ToolCallDelta{Index: 2, Arguments: `{"orphan":true}`})

	if acc.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", acc.Len())
	}
	calls := acc.Calls()
	if len(calls) != 2 {
		t.Fatalf("Calls() = %d, want 2 (nameless buffer dropped)", len(calls))
	}
	if calls[0].ID != "a" || calls[0].Name != "get_weather" || calls[0].RawArgs != `{"id":1}` {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1].ID != "b" || calls[1].Name != "search" || calls[1].RawArgs != `{"q":"go"}` {
		t.Errorf("calls[1] = %+v", calls[1])
	}
}

func TestToolCallAccumulatorSynthesizesIDs(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.Add(ToolCallDelta{Index: 0, Name: "ping"})
	calls := acc.Calls()
	if len(calls) != 1 || !strings.HasPrefix(calls[0].ID, "call_") {
		t.Fatalf("Calls() = %+v", calls)
	}
}

func TestToolCallAccumulatorNameFragments(t *testing.T) {
	tests := []struct {
		name   string
		deltas []ToolCallDelta
		want   string
	}{
		{
			name:   "fragments equal to the buffer are appended",
			deltas: []ToolCallDelta{{Name: "a"}, {Name: "a"}},
			want:   "aa",
		},
		{
			name:   "full name repeated after id fragment",
			deltas: []ToolCallDelta{{ID: "c1", Name: "search"}, {Name: "search"}, {Name: "search"}},
			want:   "search",
		},
		{
			name:   "full name with id replaces a partial name",
			deltas: []ToolCallDelta{{Name: "sea"}, {ID: "c1", Name: "search"}},
			want:   "search",
		},
		{
			name:   "split name after id fragment",
			deltas: []ToolCallDelta{{ID: "c1", Name: "get_"}, {Name: "weather"}},
			want:   "get_weather",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newToolCallAccumulator()
			for _, d := range tt.deltas {
				acc.Add(d)
			}
			calls := acc.Calls()
			if len(calls) != 1 || calls[0].Name != tt.want {
				t.Fatalf("Calls() = %+v, want name %q", calls, tt.want)
			}
		})
	}
}
